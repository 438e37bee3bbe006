package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
)

const (
	replyGeneric      = "Something went wrong on my side, please try again."
	replyTimeout      = "I'm taking too long to understand that right now. Please send it again in a minute."
	replyUnknown      = "Sorry, I can't do that yet."
	replyUnauthorized = "Sorry, this number is not registered with the shop's bookkeeping assistant."
)

// FormatRupees renders an amount with Indian digit grouping, e.g. ₹1,23,456.50.
// Whole amounts drop the paise.
func FormatRupees(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")
	out := sign + "₹" + groupIndian(whole)
	if frac != "00" {
		out += "." + frac
	}
	return out
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

func modeLabel(m core.PaymentMode) string {
	switch m {
	case "":
		return "cash"
	case core.PaymentUPI:
		return "UPI"
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// RenderResult turns a dispatch result into reply text.
func RenderResult(res dispatch.Result) string {
	if !res.Success {
		return renderFailure(res.Error)
	}
	var text string
	switch d := res.Data.(type) {
	case *core.InvoiceResult:
		text = renderInvoice(d)
	case *core.PaymentResult:
		text = renderPayment(d)
	case *core.InventoryResult:
		text = renderInventory(d)
	case *core.ProductResult:
		p := d.Product
		text = fmt.Sprintf("📦 Added %s at %s per %s, GST %s%%, stock %d.", p.Name, FormatRupees(p.SellingPrice), p.Unit, p.GSTRate.String(), p.Stock)
	case *core.CustomerResult:
		verb := "Updated"
		if d.Created {
			verb = "Added"
		}
		text = fmt.Sprintf("👤 %s customer %s (%s).", verb, d.Customer.Name, d.Customer.Phone)
	case *core.ExpenseResult:
		e := d.Expense
		text = fmt.Sprintf("🧾 Expense recorded: %s %s (%s).", e.Category, FormatRupees(e.Amount), modeLabel(e.Mode))
	case *core.DailySummary:
		text = RenderDailySummary(d)
	case *core.CustomerDetails:
		text = renderCustomerDetails(d)
	case *core.LowStockReport:
		text = renderLowStock(d)
	case *core.OverdueReport:
		text = renderOverdue(d)
	default:
		text = "✅ Done."
	}
	if res.Duplicate {
		text += "\n(Already recorded earlier, nothing changed.)"
	}
	return text
}

func renderFailure(e *dispatch.ResultError) string {
	if e == nil {
		return replyGeneric
	}
	switch e.Kind {
	case core.KindValidation:
		return "I need a bit more detail: " + e.Message
	case core.KindUnknownAction:
		return replyUnknown
	case core.KindUnknownProduct, core.KindUnknownCustomer, core.KindInsufficientStock:
		return "⚠️ " + e.Message
	case core.KindConcurrencyConflict:
		return "The shop records are busy right now. Please send that again."
	case core.KindResolverTimeout:
		return replyTimeout
	}
	return replyGeneric
}

func renderInvoice(r *core.InvoiceResult) string {
	inv := r.Invoice
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Invoice %s for %s\n", inv.Number, inv.CustomerName)
	for _, it := range inv.Items {
		fmt.Fprintf(&b, "• %s × %d @ %s = %s\n", it.ProductName, it.Quantity, FormatRupees(it.Rate), FormatRupees(it.Amount))
	}
	fmt.Fprintf(&b, "Total %s (GST %s)\n", FormatRupees(inv.Total), FormatRupees(inv.GSTAmount))
	if r.Payment != nil {
		fmt.Fprintf(&b, "Paid by %s.", modeLabel(r.Payment.Mode))
	} else {
		fmt.Fprintf(&b, "Added to udhaar. %s now owes %s.", r.Customer.Name, FormatRupees(r.Customer.Outstanding))
	}
	if r.OverCreditLimit {
		fmt.Fprintf(&b, "\n⚠️ Over the credit limit of %s.", FormatRupees(r.Customer.CreditLimit))
	}
	if len(r.LowStock) > 0 {
		fmt.Fprintf(&b, "\n📉 Low stock: %s.", strings.Join(r.LowStock, ", "))
	}
	return b.String()
}

func renderPayment(r *core.PaymentResult) string {
	var b strings.Builder
	if r.AlreadyRecorded {
		fmt.Fprintf(&b, "ℹ️ Payment %s was already recorded on %s.\n", r.Payment.ExternalRef, r.Payment.CreatedAt.Format("02 Jan"))
	}
	fmt.Fprintf(&b, "✅ %s received from %s (%s).", FormatRupees(r.Payment.Amount), r.Customer.Name, modeLabel(r.Payment.Mode))
	for _, a := range r.Allocations {
		fmt.Fprintf(&b, "\n• %s: %s applied, %s", a.InvoiceNumber, FormatRupees(a.Applied), a.Status)
	}
	switch {
	case r.Customer.Outstanding.IsNegative():
		fmt.Fprintf(&b, "\nAdvance with us: %s.", FormatRupees(r.Customer.Outstanding.Neg()))
	case r.Customer.Outstanding.IsZero():
		b.WriteString("\nAll dues cleared.")
	default:
		fmt.Fprintf(&b, "\nBalance due: %s.", FormatRupees(r.Customer.Outstanding))
	}
	return b.String()
}

func renderInventory(r *core.InventoryResult) string {
	p := r.Product
	text := fmt.Sprintf("📦 %s stock %d → %d (%+d).", p.Name, r.Previous, p.Stock, r.Delta)
	if r.Created {
		text = fmt.Sprintf("📦 New product %s with stock %d. Set its price with a create product message.", p.Name, p.Stock)
	}
	if r.LowStock {
		text += fmt.Sprintf("\n📉 Low stock: %d left.", p.Stock)
	}
	return text
}

// RenderDailySummary is also used for the scheduled owner summary.
func RenderDailySummary(s *core.DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Summary for %s\n", s.Date)
	fmt.Fprintf(&b, "Sales: %d invoices, %s\n", s.Sales.Count, FormatRupees(s.Sales.Sum))
	fmt.Fprintf(&b, "Payments in: %d, %s\n", s.Payments.Count, FormatRupees(s.Payments.Sum))
	fmt.Fprintf(&b, "Expenses: %d, %s\n", s.Expenses.Count, FormatRupees(s.Expenses.Sum))
	fmt.Fprintf(&b, "Net cash flow: %s\n", FormatRupees(s.NetCashFlow))
	fmt.Fprintf(&b, "Total udhaar outstanding: %s", FormatRupees(s.TotalOutstanding))
	if s.Advances.IsPositive() {
		fmt.Fprintf(&b, "\nAdvances held: %s (net %s)", FormatRupees(s.Advances), FormatRupees(s.NetOutstanding))
	}
	return b.String()
}

func renderCustomerDetails(d *core.CustomerDetails) string {
	c := d.Customer
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s", c.Name)
	if c.Phone != "" {
		fmt.Fprintf(&b, " (%s)", c.Phone)
	}
	fmt.Fprintf(&b, "\nOutstanding: %s", FormatRupees(c.Outstanding))
	for _, e := range d.RecentEntries {
		fmt.Fprintf(&b, "\n• %s %s %s: %s", e.CreatedAt.Format("02 Jan"), e.Type, FormatRupees(e.Amount), e.Description)
	}
	return b.String()
}

func renderLowStock(r *core.LowStockReport) string {
	if len(r.Products) == 0 {
		return "✅ All products are above their low stock level."
	}
	var b strings.Builder
	b.WriteString("📉 Low stock:")
	for _, p := range r.Products {
		fmt.Fprintf(&b, "\n• %s: %d %s (alert at %d)", p.Name, p.Stock, p.Unit, p.LowStockAlert)
	}
	return b.String()
}

func renderOverdue(r *core.OverdueReport) string {
	if len(r.Customers) == 0 {
		return fmt.Sprintf("✅ No udhaar older than %d days.", r.Days)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ %d customers with no payment for %d+ days, %s total:", len(r.Customers), r.Days, FormatRupees(r.Total))
	for _, oc := range r.Customers {
		fmt.Fprintf(&b, "\n• %s: %s since %s", oc.Customer.Name, FormatRupees(oc.Customer.Outstanding), oc.LastActivity.Format("02 Jan"))
		if oc.ReminderSent {
			b.WriteString(" (reminded)")
		}
	}
	return b.String()
}

// ReminderText is the message sent to a customer with overdue udhaar.
func ReminderText(shop string, oc core.OverdueCustomer) string {
	return fmt.Sprintf("Namaste %s, a gentle reminder from %s: %s is pending on your account since %s. Please pay at your convenience. Thank you!",
		oc.Customer.Name, shop, FormatRupees(oc.Customer.Outstanding), oc.LastActivity.Format("02 Jan 2006"))
}
