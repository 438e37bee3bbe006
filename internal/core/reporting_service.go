package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// DailySummary covers one calendar day in the ledger's time zone.
// NetCashFlow = Payments.Sum − Expenses.Sum. TotalOutstanding is the udhaar
// owed by customers with a positive balance at the time of the query;
// Advances is what the shop holds for customers who overpaid, and
// NetOutstanding = TotalOutstanding − Advances.
type DailySummary struct {
	Date             string          `json:"date"`
	Sales            Totals          `json:"sales"`
	Payments         Totals          `json:"payments"`
	Expenses         Totals          `json:"expenses"`
	NetCashFlow      decimal.Decimal `json:"net_cash_flow"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	Advances         decimal.Decimal `json:"advances"`
	NetOutstanding   decimal.Decimal `json:"net_outstanding"`
}

// CustomerDetails is a customer with recent udhaar entries and invoices.
type CustomerDetails struct {
	Customer       Customer      `json:"customer"`
	RecentEntries  []LedgerEntry `json:"recent_entries"`
	RecentInvoices []Invoice     `json:"recent_invoices"`
}

type LowStockReport struct {
	Products []Product `json:"products"`
}

type OverdueReport struct {
	Days      int               `json:"days"`
	Customers []OverdueCustomer `json:"customers"`
	Total     decimal.Decimal   `json:"total_overdue"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only queries over the ledger.
type ReportingService interface {
	// DailySummary reports on the calendar day containing day.
	DailySummary(ctx context.Context, day time.Time) (*DailySummary, error)
	CustomerDetails(ctx context.Context, name string) (*CustomerDetails, error)
	LowStock(ctx context.Context) (*LowStockReport, error)
	// Overdue lists customers with a balance and no ledger activity in the last days days.
	Overdue(ctx context.Context, days int) (*OverdueReport, error)
	MarkReminderSent(ctx context.Context, entryID int64) error
	// Today is the current calendar day in the ledger's clock.
	Today() time.Time
}

// ── Implementation ────────────────────────────────────────────────────────────

const (
	recentEntries      = 10
	recentInvoices     = 5
	DefaultOverdueDays = 30
)

type reportingService struct {
	store Reader
	options
}

func NewReportingService(store Reader, opts ...Option) ReportingService {
	return &reportingService{store: store, options: buildOptions(opts)}
}

func (s *reportingService) Today() time.Time {
	return startOfDay(s.now())
}

func (s *reportingService) DailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	from := startOfDay(day.In(s.now().Location()))
	to := from.AddDate(0, 0, 1)

	sales, err := s.store.SalesBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to total sales: %w", err)
	}
	payments, err := s.store.PaymentsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to total payments: %w", err)
	}
	expenses, err := s.store.ExpensesBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to total expenses: %w", err)
	}
	outstanding, advances, err := s.store.OutstandingBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total outstanding balances: %w", err)
	}

	return &DailySummary{
		Date:             from.Format(time.DateOnly),
		Sales:            sales,
		Payments:         payments,
		Expenses:         expenses,
		NetCashFlow:      payments.Sum.Sub(expenses.Sum),
		TotalOutstanding: outstanding,
		Advances:         advances,
		NetOutstanding:   outstanding.Sub(advances),
	}, nil
}

func (s *reportingService) CustomerDetails(ctx context.Context, name string) (*CustomerDetails, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	refs := make([]NamedRef, len(customers))
	for i, c := range customers {
		refs[i] = NamedRef{ID: int64(i), Name: c.Name}
	}
	ref, ok := s.match(refs, name)
	if !ok {
		return nil, newActionError("get_customer_details", ErrUnknownCustomer, "customer %q not found", name)
	}
	c := customers[ref.ID]

	entries, err := s.store.CustomerEntries(ctx, c.ID, recentEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	invoices, err := s.store.CustomerInvoices(ctx, c.ID, recentInvoices)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	return &CustomerDetails{Customer: c, RecentEntries: entries, RecentInvoices: invoices}, nil
}

func (s *reportingService) LowStock(ctx context.Context) (*LowStockReport, error) {
	products, err := s.store.LowStockProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock products: %w", err)
	}
	return &LowStockReport{Products: products}, nil
}

func (s *reportingService) Overdue(ctx context.Context, days int) (*OverdueReport, error) {
	if days <= 0 {
		days = DefaultOverdueDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	customers, err := s.store.OverdueCustomers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue customers: %w", err)
	}
	report := &OverdueReport{Days: days, Customers: customers, Total: decimal.Zero}
	for _, oc := range customers {
		report.Total = report.Total.Add(oc.Customer.Outstanding)
	}
	return report, nil
}

func (s *reportingService) MarkReminderSent(ctx context.Context, entryID int64) error {
	if err := s.store.MarkReminderSent(ctx, entryID); err != nil {
		return fmt.Errorf("failed to flag reminder on entry %d: %w", entryID, err)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
