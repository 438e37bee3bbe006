package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/core"
)

func TestReporting_DailySummary(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Charger", "500", 0, 20)

	_, err := f.ledger.CreateInvoice(f.ctx, "", sale("Ramesh", "Charger", 2, "500"))
	require.NoError(t, err)
	paid := sale("Suresh", "Charger", 1, "500")
	paid.PaymentMode = core.PaymentCash
	_, err = f.ledger.CreateInvoice(f.ctx, "", paid)
	require.NoError(t, err)
	_, err = f.ledger.RecordPayment(f.ctx, "", core.RecordPaymentRequest{CustomerName: "Ramesh", Amount: dec("300"), Mode: core.PaymentUPI})
	require.NoError(t, err)
	_, err = f.ledger.RecordExpense(f.ctx, "", core.RecordExpenseRequest{Category: "Rent", Amount: dec("200")})
	require.NoError(t, err)

	// Yesterday's activity must not leak into today.
	f.now = f.now.AddDate(0, 0, -1)
	_, err = f.ledger.RecordExpense(f.ctx, "", core.RecordExpenseRequest{Category: "tea", Amount: dec("40")})
	require.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)

	s, err := f.reports.DailySummary(f.ctx, f.reports.Today())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", s.Date)
	assert.Equal(t, 2, s.Sales.Count)
	assert.Equal(t, "1500.00", s.Sales.Sum.StringFixed(2))
	assert.Equal(t, 2, s.Payments.Count)
	assert.Equal(t, "800.00", s.Payments.Sum.StringFixed(2))
	assert.Equal(t, 1, s.Expenses.Count)
	assert.Equal(t, "600.00", s.NetCashFlow.StringFixed(2))
	assert.Equal(t, "700.00", s.TotalOutstanding.StringFixed(2))
	assert.True(t, s.Advances.IsZero())
	assert.Equal(t, "700.00", s.NetOutstanding.StringFixed(2))

	empty, err := f.reports.DailySummary(f.ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, ist))
	require.NoError(t, err)
	assert.Zero(t, empty.Sales.Count)
	assert.True(t, empty.NetCashFlow.IsZero())
}

func TestReporting_DailySummaryAdvances(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Charger", "500", 0, 20)

	_, err := f.ledger.CreateInvoice(f.ctx, "", sale("Ramesh", "Charger", 2, "500"))
	require.NoError(t, err)
	_, err = f.ledger.CreateInvoice(f.ctx, "", sale("Suresh", "Charger", 1, "500"))
	require.NoError(t, err)
	_, err = f.ledger.RecordPayment(f.ctx, "", core.RecordPaymentRequest{CustomerName: "Suresh", Amount: dec("800"), Mode: core.PaymentCash})
	require.NoError(t, err)

	s, err := f.reports.DailySummary(f.ctx, f.reports.Today())
	require.NoError(t, err)
	assert.Equal(t, "1000.00", s.TotalOutstanding.StringFixed(2))
	assert.Equal(t, "300.00", s.Advances.StringFixed(2))
	assert.Equal(t, "700.00", s.NetOutstanding.StringFixed(2))
}

func TestReporting_CustomerDetailsAndLowStock(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Charger", "500", 0, 11)
	f.product(t, "Cable", "100", 0, 50)

	_, err := f.ledger.CreateInvoice(f.ctx, "", sale("Ramesh Kumar", "Charger", 2, "500"))
	require.NoError(t, err)

	d, err := f.reports.CustomerDetails(f.ctx, "ramesh")
	require.NoError(t, err)
	assert.Equal(t, "Ramesh Kumar", d.Customer.Name)
	require.Len(t, d.RecentEntries, 1)
	require.Len(t, d.RecentInvoices, 1)

	_, err = f.reports.CustomerDetails(f.ctx, "Zubair")
	assert.ErrorIs(t, err, core.ErrUnknownCustomer)

	low, err := f.reports.LowStock(f.ctx)
	require.NoError(t, err)
	require.Len(t, low.Products, 1)
	assert.Equal(t, "Charger", low.Products[0].Name)
}

func TestReporting_OverdueAndReminderFlag(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Charger", "500", 0, 20)

	_, err := f.ledger.CreateInvoice(f.ctx, "", sale("Ramesh", "Charger", 1, "500"))
	require.NoError(t, err)
	_, err = f.ledger.CreateInvoice(f.ctx, "", sale("Suresh", "Charger", 1, "500"))
	require.NoError(t, err)

	f.now = f.now.AddDate(0, 0, 20)
	_, err = f.ledger.RecordPayment(f.ctx, "", core.RecordPaymentRequest{CustomerName: "Suresh", Amount: dec("100"), Mode: core.PaymentCash})
	require.NoError(t, err)

	f.now = f.now.AddDate(0, 0, 15)
	report, err := f.reports.Overdue(f.ctx, 30)
	require.NoError(t, err)
	require.Len(t, report.Customers, 1)
	oc := report.Customers[0]
	assert.Equal(t, "Ramesh", oc.Customer.Name)
	assert.False(t, oc.ReminderSent)
	assert.NotZero(t, oc.LastDebitID)
	assert.Equal(t, "500.00", report.Total.StringFixed(2))

	require.NoError(t, f.reports.MarkReminderSent(f.ctx, oc.LastDebitID))
	report, err = f.reports.Overdue(f.ctx, 30)
	require.NoError(t, err)
	require.Len(t, report.Customers, 1)
	assert.True(t, report.Customers[0].ReminderSent)
}
