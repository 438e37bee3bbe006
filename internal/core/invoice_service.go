package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceLine is one requested sale line. ProductName is resolved fuzzily.
type InvoiceLine struct {
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

type CreateInvoiceRequest struct {
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Items         []InvoiceLine `json:"items"`
	// PaymentMode, when set, settles the invoice in full at creation.
	PaymentMode PaymentMode `json:"payment_mode,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

func (r CreateInvoiceRequest) Validate() error {
	const op = "create_invoice"
	if strings.TrimSpace(r.CustomerName) == "" {
		return NewValidationError(op, "customer name is required")
	}
	if len(r.Items) == 0 {
		return NewValidationError(op, "an invoice needs at least one item")
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.ProductName) == "" {
			return NewValidationError(op, "item %d: product name is required", i+1)
		}
		if it.Quantity <= 0 {
			return NewValidationError(op, "item %d: quantity must be positive, got %d", i+1, it.Quantity)
		}
		if !it.Rate.IsPositive() {
			return NewValidationError(op, "item %d: rate must be positive, got %s", i+1, it.Rate)
		}
	}
	if r.PaymentMode != "" && !slices.Contains(PaymentModes, r.PaymentMode) {
		return NewValidationError(op, "unknown payment mode %q", r.PaymentMode)
	}
	return nil
}

type InvoiceResult struct {
	Invoice         Invoice  `json:"invoice"`
	Customer        Customer `json:"customer"`
	CustomerCreated bool     `json:"customer_created"`
	Payment         *Payment `json:"payment,omitempty"`
	OverCreditLimit bool     `json:"over_credit_limit"`
	// LowStock names products that reached their alert level with this sale.
	LowStock []string `json:"low_stock,omitempty"`
}

// FormatInvoiceNumber renders INV + YYYYMMDD + the 4-digit daily sequence.
func FormatInvoiceNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("INV%s%04d", day.Format("20060102"), seq)
}

// CreateInvoice records a sale. Every product is resolved and every stock
// level checked before any is decremented; the invoice, its items, the stock
// movements and the udhaar debit commit together or not at all.
func (l *Ledger) CreateInvoice(ctx context.Context, messageID string, req CreateInvoiceRequest) (*InvoiceResult, error) {
	req.Items = slices.Clone(req.Items)
	for i := range req.Items {
		req.Items[i].Rate = round2(req.Items[i].Rate)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "create_invoice", func(tx Tx, now time.Time) (*InvoiceResult, error) {
		const op = "create_invoice"
		res := &InvoiceResult{}

		customer, created, err := l.customerForSale(ctx, tx, req.CustomerName, req.CustomerPhone, now)
		if err != nil {
			return nil, err
		}
		res.CustomerCreated = created

		// Resolve all lines first.
		ids := make([]int64, len(req.Items))
		for i, it := range req.Items {
			id, ok, err := l.findProduct(ctx, tx, it.ProductName)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newActionError(op, ErrUnknownProduct, "product %q not found", it.ProductName)
			}
			ids[i] = id
		}
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return nil, err
		}

		// Check every stock level before touching any.
		need := make(map[int64]int64, len(products))
		for i, it := range req.Items {
			need[ids[i]] += it.Quantity
		}
		for id, qty := range need {
			if p := products[id]; p.Stock < qty {
				return nil, newActionError(op, ErrInsufficientStock,
					"only %d %s of %s in stock, %d requested", p.Stock, p.Unit, p.Name, qty)
			}
		}

		day := now
		seq, err := tx.NextInvoiceSequence(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate invoice number: %w", err)
		}
		inv := Invoice{
			Number:       FormatInvoiceNumber(day, seq),
			CustomerID:   customer.ID,
			CustomerName: customer.Name,
			InvoiceDate:  day,
			Subtotal:     decimal.Zero,
			Total:        decimal.Zero,
			Paid:         decimal.Zero,
			PaymentMode:  req.PaymentMode,
			Notes:        strings.TrimSpace(req.Notes),
			CreatedAt:    now,
		}
		for i, it := range req.Items {
			p := products[ids[i]]
			base, amount := lineAmounts(it.Quantity, it.Rate, p.GSTRate)
			inv.Items = append(inv.Items, InvoiceItem{
				LineNumber:  i + 1,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    it.Quantity,
				Rate:        it.Rate,
				GSTRate:     p.GSTRate,
				Amount:      amount,
			})
			inv.Subtotal = inv.Subtotal.Add(base)
			inv.Total = inv.Total.Add(amount)
		}
		inv.GSTAmount = inv.Total.Sub(inv.Subtotal)
		inv.Status = statusFor(inv.Total, inv.Paid)

		// Decrement in the same lock order.
		for _, id := range sortedKeys(need) {
			p := products[id]
			before := p.Stock
			p.Stock -= need[id]
			p.UpdatedAt = now
			if err := tx.SetProductStock(ctx, p.ID, p.Stock, now); err != nil {
				return nil, fmt.Errorf("failed to update stock for %s: %w", p.Name, err)
			}
			if err := tx.InsertStockMovement(ctx, &StockMovement{
				ProductID:      p.ID,
				Delta:          -need[id],
				ResultingStock: p.Stock,
				Reason:         "sale " + inv.Number,
				CreatedAt:      now,
			}); err != nil {
				return nil, fmt.Errorf("failed to record stock movement: %w", err)
			}
			if before > p.LowStockAlert && p.Stock <= p.LowStockAlert {
				res.LowStock = append(res.LowStock, p.Name)
			}
		}

		if _, err := postEntry(ctx, tx, customer, EntryDebit, inv.Total, "Invoice "+inv.Number, now); err != nil {
			return nil, err
		}

		if req.PaymentMode != "" {
			pay := &Payment{
				CustomerID:    customer.ID,
				CustomerName:  customer.Name,
				InvoiceNumber: inv.Number,
				Amount:        inv.Total,
				Mode:          req.PaymentMode,
				Notes:         "paid at sale",
				CreatedAt:     now,
			}
			if err := tx.InsertPayment(ctx, pay); err != nil {
				return nil, fmt.Errorf("failed to insert payment: %w", err)
			}
			if _, err := postEntry(ctx, tx, customer, EntryCredit, inv.Total,
				fmt.Sprintf("Payment for %s (%s)", inv.Number, req.PaymentMode), now); err != nil {
				return nil, err
			}
			inv.Paid = inv.Total
			inv.Status = statusFor(inv.Total, inv.Paid)
			res.Payment = pay
		}

		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return nil, fmt.Errorf("failed to insert invoice: %w", err)
		}

		res.Invoice = inv
		res.Customer = *customer
		res.OverCreditLimit = customer.CreditLimit.IsPositive() && customer.Outstanding.GreaterThan(customer.CreditLimit)
		return res, nil
	})
}

// customerForSale finds the buyer by phone, then by name, and creates a new
// customer when neither matches. A name match without a phone on file takes
// the phone given with the sale; one with a different phone is someone else.
func (l *Ledger) customerForSale(ctx context.Context, tx Tx, name, phone string, now time.Time) (*Customer, bool, error) {
	name = strings.TrimSpace(name)
	phone = NormalizePhone(phone)
	if phone != "" {
		c, err := tx.CustomerByPhone(ctx, phone)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up customer by phone: %w", err)
		}
		if c != nil {
			locked, err := tx.LockCustomer(ctx, c.ID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to lock customer: %w", err)
			}
			return locked, false, nil
		}
	}

	id, ok, err := l.findCustomer(ctx, tx, name)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to lock customer: %w", err)
		}
		switch {
		case phone == "":
			return c, false, nil
		case c.Phone == "":
			c.Phone = phone
			c.UpdatedAt = now
			if err := tx.UpdateCustomerProfile(ctx, c); err != nil {
				return nil, false, fmt.Errorf("failed to attach phone: %w", err)
			}
			return c, false, nil
		}
	}

	c := &Customer{
		Name:        name,
		Phone:       phone,
		Outstanding: decimal.Zero,
		CreditLimit: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertCustomer(ctx, c); err != nil {
		return nil, false, fmt.Errorf("failed to create customer: %w", err)
	}
	l.log.Info().Str("customer", c.Name).Int64("customer_id", c.ID).Msg("customer created from sale")
	return c, true, nil
}

// NormalizePhone keeps the digits of phone and a leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(phone), "whatsapp:"))
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sortedKeys(m map[int64]int64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
