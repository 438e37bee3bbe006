package pg_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/core"
	"biz-agent/internal/db"
	"biz-agent/internal/store/pg"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Integration tests truncate every table; never point this at a live database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool, zerolog.Nop()))
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE action_receipts, stock_movements, expenses, udhaar_ledger, payments,
			invoice_items, invoices, invoice_sequences, customers, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func newLedger(pool *pgxpool.Pool) (*core.Ledger, core.ReportingService) {
	store := pg.New(pool)
	now := func() time.Time { return time.Date(2026, 10, 18, 11, 30, 0, 0, ist) }
	return core.NewLedger(store, core.WithClock(now)), core.NewReportingService(store, core.WithClock(now))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStore_InvoiceLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ledger, reports := newLedger(pool)
	ctx := context.Background()

	gst := int64(18)
	_, err := ledger.CreateProduct(ctx, "", core.CreateProductRequest{
		Name: "Vivo V29", SellingPrice: dec("29999"), Stock: 5, GSTRate: &gst,
	})
	require.NoError(t, err)

	inv, err := ledger.CreateInvoice(ctx, "msg-1", core.CreateInvoiceRequest{
		CustomerName: "Sharma Mobiles",
		Items:        []core.InvoiceLine{{ProductName: "vivo v29", Quantity: 2, Rate: dec("29999")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV202610180001", inv.Invoice.Number)
	assert.True(t, inv.CustomerCreated)
	assert.Equal(t, "70797.64", inv.Invoice.Total.StringFixed(2))

	_, err = ledger.CreateInvoice(ctx, "msg-1", core.CreateInvoiceRequest{
		CustomerName: "Sharma Mobiles",
		Items:        []core.InvoiceLine{{ProductName: "vivo v29", Quantity: 1, Rate: dec("29999")}},
	})
	var dup *core.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "create_invoice", dup.Receipt.Action)

	pay, err := ledger.RecordPayment(ctx, "msg-2", core.RecordPaymentRequest{
		CustomerName: "Sharma Mobiles", Amount: dec("50000"), Mode: core.PaymentUPI, ExternalRef: "UTR123",
	})
	require.NoError(t, err)
	require.Len(t, pay.Allocations, 1)
	assert.Equal(t, core.InvoicePartial, pay.Allocations[0].Status)
	assert.Equal(t, "20797.64", pay.Customer.Outstanding.StringFixed(2))

	again, err := ledger.RecordPayment(ctx, "msg-3", core.RecordPaymentRequest{
		CustomerName: "Sharma Mobiles", Amount: dec("50000"), Mode: core.PaymentUPI, ExternalRef: "UTR123",
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyRecorded)

	products, err := pg.New(pool).ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.EqualValues(t, 3, products[0].Stock)

	entries, err := pg.New(pool).CustomerEntries(ctx, inv.Customer.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.EntryCredit, entries[0].Type)

	summary, err := reports.DailySummary(ctx, time.Date(2026, 10, 18, 0, 0, 0, 0, ist))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sales.Count)
	assert.Equal(t, "20797.64", summary.TotalOutstanding.StringFixed(2))
	assert.True(t, summary.Advances.IsZero())
	assert.Equal(t, "20797.64", summary.NetOutstanding.StringFixed(2))
}

func TestStore_InsufficientStockRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ledger, _ := newLedger(pool)
	ctx := context.Background()

	_, err := ledger.CreateProduct(ctx, "", core.CreateProductRequest{Name: "Charger", SellingPrice: dec("499"), Stock: 1})
	require.NoError(t, err)

	_, err = ledger.CreateInvoice(ctx, "msg-1", core.CreateInvoiceRequest{
		CustomerName: "Walk-in",
		Items:        []core.InvoiceLine{{ProductName: "Charger", Quantity: 2, Rate: dec("499")}},
	})
	require.ErrorIs(t, err, core.ErrInsufficientStock)

	rcpt, err := pg.New(pool).Receipt(ctx, "msg-1")
	require.NoError(t, err)
	assert.Nil(t, rcpt)

	var customers int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM customers").Scan(&customers))
	assert.Zero(t, customers)
}

func TestStore_ConcurrentInvoicesAreGapless(t *testing.T) {
	pool := setupTestDB(t)
	ledger, _ := newLedger(pool)
	ctx := context.Background()

	_, err := ledger.CreateProduct(ctx, "", core.CreateProductRequest{Name: "Earbuds", SellingPrice: dec("999"), Stock: 100})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.CreateInvoice(ctx, uuid.NewString(), core.CreateInvoiceRequest{
				CustomerName: fmt.Sprintf("Customer %d", i),
				Items:        []core.InvoiceLine{{ProductName: "Earbuds", Quantity: 1, Rate: dec("999")}},
			})
			errs[i] = err
			if err == nil {
				numbers[i] = res.Invoice.Number
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("INV20261018%04d", i+1)
	}
	assert.ElementsMatch(t, want, numbers)

	products, err := pg.New(pool).ListProducts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100-n, products[0].Stock)
}
