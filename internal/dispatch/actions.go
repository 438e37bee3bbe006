package dispatch

import (
	"context"
	"time"

	"biz-agent/internal/core"
)

func modeNames() []string {
	out := make([]string, len(core.PaymentModes))
	for i, m := range core.PaymentModes {
		out[i] = string(m)
	}
	return out
}

func customerKey(name string) string { return "customer:" + core.NormalizeName(name) }
func productKey(name string) string  { return "product:" + core.NormalizeName(name) }

// RegisterLedgerActions registers every bookkeeping action backed by ledger and reports.
func RegisterLedgerActions(r *Registry, ledger core.LedgerService, reports core.ReportingService) {
	itemSchema := Schema{
		{Name: "product_name", Type: TypeString, Required: true, Description: "Product name as the customer said it."},
		{Name: "quantity", Type: TypeInt, Required: true, Positive: true, Description: "Units sold."},
		{Name: "rate", Type: TypeDecimal, Required: true, Positive: true, Description: "Price per unit in rupees, before GST."},
	}

	r.MustRegister(
		Mutation("create_invoice",
			"Create a sales invoice when a customer buys products. Leave payment_mode empty for a credit (udhaar) sale.",
			Schema{
				{Name: "customer_name", Type: TypeString, Required: true, Description: "Name of the customer."},
				{Name: "items", Type: TypeList, Required: true, Fields: itemSchema, Description: "Products sold."},
				{Name: "payment_mode", Type: TypeEnum, Enum: modeNames(), Description: "How the customer paid at the counter, empty for credit."},
				{Name: "customer_phone", Type: TypeString, Description: "Customer phone number if mentioned."},
				{Name: "notes", Type: TypeString, Description: "Additional notes."},
			},
			func(v Values) []string {
				keys := []string{customerKey(v.String("customer_name"))}
				for _, it := range v.List("items") {
					keys = append(keys, productKey(it.String("product_name")))
				}
				return keys
			},
			func(ctx context.Context, call Call, v Values) (*core.InvoiceResult, error) {
				req := core.CreateInvoiceRequest{
					CustomerName:  v.String("customer_name"),
					CustomerPhone: v.String("customer_phone"),
					PaymentMode:   core.PaymentMode(v.String("payment_mode")),
					Notes:         v.String("notes"),
				}
				for _, it := range v.List("items") {
					req.Items = append(req.Items, core.InvoiceLine{
						ProductName: it.String("product_name"),
						Quantity:    it.Int("quantity"),
						Rate:        it.Decimal("rate"),
					})
				}
				return ledger.CreateInvoice(ctx, call.MessageID, req)
			}),

		Mutation("record_payment",
			"Record money received from a customer against their udhaar.",
			Schema{
				{Name: "customer_name", Type: TypeString, Required: true, Description: "Name of the customer who paid."},
				{Name: "amount", Type: TypeDecimal, Required: true, Positive: true, Description: "Amount in rupees."},
				{Name: "mode", Type: TypeEnum, Required: true, Enum: modeNames(), Description: "Payment method."},
				{Name: "external_ref", Type: TypeString, Description: "UTR or transaction reference number."},
				{Name: "invoice_number", Type: TypeString, Description: "Invoice being paid, if the sender named one."},
			},
			func(v Values) []string { return []string{customerKey(v.String("customer_name"))} },
			func(ctx context.Context, call Call, v Values) (*core.PaymentResult, error) {
				return ledger.RecordPayment(ctx, call.MessageID, core.RecordPaymentRequest{
					CustomerName:  v.String("customer_name"),
					Amount:        v.Decimal("amount"),
					Mode:          core.PaymentMode(v.String("mode")),
					ExternalRef:   v.String("external_ref"),
					InvoiceNumber: v.String("invoice_number"),
				})
			}),

		Mutation("update_inventory",
			"Add or remove stock of a product. Use a positive delta for stock received and a negative one for stock removed.",
			Schema{
				{Name: "product_name", Type: TypeString, Required: true, Description: "Name of the product."},
				{Name: "delta", Type: TypeInt, Required: true, NonZero: true, Description: "Signed change in units."},
				{Name: "operation", Type: TypeEnum, Enum: []string{"add", "reduce"}, Description: "Direction of the change when delta is given unsigned."},
				{Name: "reason", Type: TypeString, Description: "Why stock changed, e.g. purchase, damaged, returned."},
			},
			func(v Values) []string { return []string{productKey(v.String("product_name"))} },
			func(ctx context.Context, call Call, v Values) (*core.InventoryResult, error) {
				delta := v.Int("delta")
				if v.String("operation") == "reduce" && delta > 0 {
					delta = -delta
				}
				return ledger.UpdateInventory(ctx, call.MessageID, core.UpdateInventoryRequest{
					ProductName: v.String("product_name"),
					Delta:       delta,
					Reason:      v.String("reason"),
				})
			}),

		Mutation("create_product",
			"Add a new product to the catalogue the first time it is stocked.",
			Schema{
				{Name: "name", Type: TypeString, Required: true, Description: "Product name."},
				{Name: "selling_price", Type: TypeDecimal, Required: true, Positive: true, Description: "Selling price per unit in rupees."},
				{Name: "stock", Type: TypeInt, Description: "Opening stock in units."},
				{Name: "cost_price", Type: TypeDecimal, Description: "Purchase price per unit in rupees."},
				{Name: "gst_rate", Type: TypeInt, Description: "GST slab in percent: 0, 5, 12, 18 or 28. Default 18."},
				{Name: "unit", Type: TypeString, Description: "Unit of sale, e.g. piece, kg, box."},
				{Name: "low_stock_alert", Type: TypeInt, Description: "Stock level at or below which to warn."},
			},
			func(v Values) []string { return []string{productKey(v.String("name"))} },
			func(ctx context.Context, call Call, v Values) (*core.ProductResult, error) {
				req := core.CreateProductRequest{
					Name:          v.String("name"),
					SellingPrice:  v.Decimal("selling_price"),
					CostPrice:     v.Decimal("cost_price"),
					Stock:         v.Int("stock"),
					Unit:          v.String("unit"),
					GSTRate:       v.IntPtr("gst_rate"),
					LowStockAlert: v.IntPtr("low_stock_alert"),
				}
				return ledger.CreateProduct(ctx, call.MessageID, req)
			}),

		Mutation("create_customer",
			"Add a customer or update the details of the customer with this phone number.",
			Schema{
				{Name: "name", Type: TypeString, Required: true, Description: "Customer name."},
				{Name: "phone", Type: TypeString, Required: true, Description: "Customer phone number."},
				{Name: "email", Type: TypeString, Description: "Email address."},
				{Name: "address", Type: TypeString, Description: "Postal address."},
				{Name: "credit_limit", Type: TypeDecimal, Description: "Maximum udhaar allowed in rupees."},
			},
			func(v Values) []string { return []string{"phone:" + core.NormalizePhone(v.String("phone"))} },
			func(ctx context.Context, call Call, v Values) (*core.CustomerResult, error) {
				return ledger.CreateCustomer(ctx, call.MessageID, core.CreateCustomerRequest{
					Name:        v.String("name"),
					Phone:       v.String("phone"),
					Email:       v.String("email"),
					Address:     v.String("address"),
					CreditLimit: v.DecimalPtr("credit_limit"),
				})
			}),

		Mutation("record_expense",
			"Record a business expense such as rent, salary, electricity or purchases.",
			Schema{
				{Name: "category", Type: TypeString, Required: true, Description: "Expense category."},
				{Name: "amount", Type: TypeDecimal, Required: true, Positive: true, Description: "Amount in rupees."},
				{Name: "description", Type: TypeString, Description: "What the money was spent on."},
				{Name: "mode", Type: TypeEnum, Enum: modeNames(), Description: "Payment method, default cash."},
				{Name: "vendor", Type: TypeString, Description: "Who was paid."},
			},
			nil,
			func(ctx context.Context, call Call, v Values) (*core.ExpenseResult, error) {
				return ledger.RecordExpense(ctx, call.MessageID, core.RecordExpenseRequest{
					Category:    v.String("category"),
					Amount:      v.Decimal("amount"),
					Description: v.String("description"),
					Mode:        core.PaymentMode(v.String("mode")),
					Vendor:      v.String("vendor"),
				})
			}),

		Query("get_daily_summary",
			"Get the business summary for a day: sales, payments, expenses and total udhaar outstanding.",
			Schema{
				{Name: "date", Type: TypeDate, Description: "Day in YYYY-MM-DD form, default today."},
			},
			func(ctx context.Context, call Call, v Values) (*core.DailySummary, error) {
				day := reports.Today()
				if v.Has("date") {
					parsed, err := time.ParseInLocation(time.DateOnly, v.String("date"), day.Location())
					if err != nil {
						return nil, core.NewValidationError("get_daily_summary", "bad date %q", v.String("date"))
					}
					day = parsed
				}
				return reports.DailySummary(ctx, day)
			}),

		Query("get_customer_details",
			"Get a customer's outstanding balance with recent udhaar entries and invoices.",
			Schema{
				{Name: "customer_name", Type: TypeString, Required: true, Description: "Name of the customer."},
			},
			func(ctx context.Context, call Call, v Values) (*core.CustomerDetails, error) {
				return reports.CustomerDetails(ctx, v.String("customer_name"))
			}),

		Query("get_overdue_reminders",
			"List customers whose udhaar has seen no activity for a number of days.",
			Schema{
				{Name: "days", Type: TypeInt, Positive: true, Description: "Days without activity, default 30."},
			},
			func(ctx context.Context, call Call, v Values) (*core.OverdueReport, error) {
				return reports.Overdue(ctx, int(v.Int("days")))
			}),

		Query("get_low_stock_alert",
			"List products at or below their low stock level.",
			Schema{},
			func(ctx context.Context, call Call, v Values) (*core.LowStockReport, error) {
				return reports.LowStock(ctx)
			}),
	)
}
