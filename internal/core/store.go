package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the ledger. Mutations happen inside a
// Tx; the embedded Reader serves reporting queries outside of one.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Reader
}

// Tx is one all-or-nothing unit of work. Lock* methods take a row lock that
// is held until Commit or Rollback. Rollback after Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Receipt returns the stored receipt for messageID, or nil when none exists.
	Receipt(ctx context.Context, messageID string) (*Receipt, error)
	PutReceipt(ctx context.Context, r Receipt) error

	// ── Products ──
	ProductNames(ctx context.Context) ([]NamedRef, error)
	LockProduct(ctx context.Context, id int64) (*Product, error)
	InsertProduct(ctx context.Context, p *Product) error
	SetProductStock(ctx context.Context, id, stock int64, at time.Time) error
	InsertStockMovement(ctx context.Context, m *StockMovement) error

	// ── Customers ──
	CustomerNames(ctx context.Context) ([]NamedRef, error)
	// CustomerByPhone returns nil when no customer has that phone.
	CustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	LockCustomer(ctx context.Context, id int64) (*Customer, error)
	InsertCustomer(ctx context.Context, c *Customer) error
	UpdateCustomerProfile(ctx context.Context, c *Customer) error
	SetCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error

	// ── Invoices & payments ──
	// NextInvoiceSequence returns the next number of day's gapless sequence, starting at 1.
	NextInvoiceSequence(ctx context.Context, day time.Time) (int64, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	// LockInvoiceByNumber returns nil when no invoice has that number.
	LockInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)
	// LockOpenInvoices returns the customer's unpaid invoices, oldest first.
	LockOpenInvoices(ctx context.Context, customerID int64) ([]Invoice, error)
	SetInvoicePaid(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error
	// PaymentByExternalRef returns nil when no payment carries ref.
	PaymentByExternalRef(ctx context.Context, ref string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error
	InsertExpense(ctx context.Context, e *Expense) error
}

// NamedRef is the id and display name of a product or customer, the input of
// fuzzy name resolution.
type NamedRef struct {
	ID   int64
	Name string
}

// Reader answers reporting queries and flags sent reminders. Time ranges are
// half-open [from, to).
type Reader interface {
	Receipt(ctx context.Context, messageID string) (*Receipt, error)

	SalesBetween(ctx context.Context, from, to time.Time) (Totals, error)
	PaymentsBetween(ctx context.Context, from, to time.Time) (Totals, error)
	ExpensesBetween(ctx context.Context, from, to time.Time) (Totals, error)
	// OutstandingBalances returns the sum of positive customer balances and
	// the sum of advances (negative balances) as a positive amount.
	OutstandingBalances(ctx context.Context) (receivable, advances decimal.Decimal, err error)

	ListProducts(ctx context.Context) ([]Product, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	LowStockProducts(ctx context.Context) ([]Product, error)
	// OverdueCustomers lists customers owing money whose newest ledger entry is older than before.
	OverdueCustomers(ctx context.Context, before time.Time) ([]OverdueCustomer, error)
	CustomerEntries(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error)
	CustomerInvoices(ctx context.Context, customerID int64, limit int) ([]Invoice, error)
	MarkReminderSent(ctx context.Context, entryID int64) error
}
