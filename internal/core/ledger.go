package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerService is the transactional bookkeeping API. Every mutating call
// takes the message id that caused it; a message id is applied at most once
// and a repeat returns a *DuplicateError carrying the stored receipt.
type LedgerService interface {
	CreateInvoice(ctx context.Context, messageID string, req CreateInvoiceRequest) (*InvoiceResult, error)
	RecordPayment(ctx context.Context, messageID string, req RecordPaymentRequest) (*PaymentResult, error)
	UpdateInventory(ctx context.Context, messageID string, req UpdateInventoryRequest) (*InventoryResult, error)
	CreateProduct(ctx context.Context, messageID string, req CreateProductRequest) (*ProductResult, error)
	CreateCustomer(ctx context.Context, messageID string, req CreateCustomerRequest) (*CustomerResult, error)
	RecordExpense(ctx context.Context, messageID string, req RecordExpenseRequest) (*ExpenseResult, error)
	Receipt(ctx context.Context, messageID string) (*Receipt, error)
}

// Option configures a Ledger or ReportingService.
type Option func(*options)

type options struct {
	now     func() time.Time
	matcher Matcher
	log     zerolog.Logger
}

// WithClock overrides time.Now. Invoice numbering and daily summaries use the
// clock's location to decide the calendar day.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMatcher(m Matcher) Option {
	return func(o *options) { o.matcher = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		matcher: NewSimilarityMatcher(DefaultMatchThreshold),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Ledger struct {
	store Store
	options
}

func NewLedger(store Store, opts ...Option) *Ledger {
	return &Ledger{store: store, options: buildOptions(opts)}
}

func (l *Ledger) Receipt(ctx context.Context, messageID string) (*Receipt, error) {
	return l.store.Receipt(ctx, messageID)
}

// apply runs fn in one transaction. When messageID is set, a prior receipt
// aborts the call and a new receipt holding the JSON of the result is
// written in the same transaction as the mutation.
func apply[T any](ctx context.Context, l *Ledger, messageID, action string, fn func(tx Tx, now time.Time) (*T, error)) (*T, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if messageID != "" {
		prior, err := tx.Receipt(ctx, messageID)
		if err != nil {
			return nil, fmt.Errorf("failed to check receipt: %w", err)
		}
		if prior != nil {
			return nil, &DuplicateError{Receipt: *prior}
		}
	}

	now := l.now()
	result, err := fn(tx, now)
	if err != nil {
		return nil, err
	}

	if messageID != "" {
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode receipt: %w", err)
		}
		if err := tx.PutReceipt(ctx, Receipt{MessageID: messageID, Action: action, Payload: payload, CreatedAt: now}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	l.log.Debug().Str("action", action).Str("message_id", messageID).Msg("ledger mutation committed")
	return result, nil
}

// ── Name resolution ───────────────────────────────────────────────────────────

func (o *options) match(refs []NamedRef, name string) (NamedRef, bool) {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	idx, score, ok := o.matcher.Best(name, names)
	if !ok {
		return NamedRef{}, false
	}
	o.log.Debug().Str("query", name).Str("match", refs[idx].Name).Float64("score", score).Msg("name resolved")
	return refs[idx], true
}

// findProduct returns the id of the product best matching name, or false.
func (l *Ledger) findProduct(ctx context.Context, tx Tx, name string) (int64, bool, error) {
	refs, err := tx.ProductNames(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to list products: %w", err)
	}
	ref, ok := l.match(refs, name)
	return ref.ID, ok, nil
}

func (l *Ledger) findCustomer(ctx context.Context, tx Tx, name string) (int64, bool, error) {
	refs, err := tx.CustomerNames(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to list customers: %w", err)
	}
	ref, ok := l.match(refs, name)
	return ref.ID, ok, nil
}

// lockProducts locks ids in ascending order so concurrent transactions never
// wait on each other in a cycle.
func lockProducts(ctx context.Context, tx Tx, ids []int64) (map[int64]*Product, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	locked := make(map[int64]*Product, len(sorted))
	for _, id := range sorted {
		if _, done := locked[id]; done {
			continue
		}
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
		}
		locked[id] = p
	}
	return locked, nil
}

// postEntry appends a udhaar entry and moves the customer's balance with it.
func postEntry(ctx context.Context, tx Tx, c *Customer, typ EntryType, amount decimal.Decimal, description string, at time.Time) (*LedgerEntry, error) {
	balance := c.Outstanding
	switch typ {
	case EntryDebit:
		balance = balance.Add(amount)
	case EntryCredit:
		balance = balance.Sub(amount)
	default:
		return nil, fmt.Errorf("invalid entry type %q", typ)
	}
	e := &LedgerEntry{
		CustomerID:   c.ID,
		CustomerName: c.Name,
		Type:         typ,
		Amount:       amount,
		Balance:      balance,
		Description:  description,
		CreatedAt:    at,
	}
	if err := tx.InsertLedgerEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if err := tx.SetCustomerBalance(ctx, c.ID, balance, at); err != nil {
		return nil, fmt.Errorf("failed to update customer balance: %w", err)
	}
	c.Outstanding = balance
	c.UpdatedAt = at
	return e, nil
}

// ── Money ─────────────────────────────────────────────────────────────────────

var hundred = decimal.NewFromInt(100)

// round2 rounds to paise.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// lineAmounts returns the pre-tax base and the taxed amount of one line.
func lineAmounts(qty int64, rate, gstRate decimal.Decimal) (base, amount decimal.Decimal) {
	raw := decimal.NewFromInt(qty).Mul(rate)
	tax := raw.Mul(gstRate).Div(hundred)
	return round2(raw), round2(raw.Add(tax))
}

// statusFor derives invoice status from what has been paid.
func statusFor(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartial
	default:
		return InvoicePending
	}
}
