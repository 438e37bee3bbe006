// Package memory is an in-process core.Store. Transactions are serialized:
// Begin clones the committed state, the Tx mutates its clone, and Commit
// swaps the clone in. Readers see only committed state.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"biz-agent/internal/core"
)

type state struct {
	products  map[int64]core.Product
	customers map[int64]core.Customer
	invoices  map[int64]core.Invoice
	sequences map[string]int64
	payments  []core.Payment
	entries   []core.LedgerEntry
	expenses  []core.Expense
	movements []core.StockMovement
	receipts  map[string]core.Receipt
	lastID    int64
}

func newState() *state {
	return &state{
		products:  make(map[int64]core.Product),
		customers: make(map[int64]core.Customer),
		invoices:  make(map[int64]core.Invoice),
		sequences: make(map[string]int64),
		receipts:  make(map[string]core.Receipt),
	}
}

func (s *state) clone() *state {
	return &state{
		products:  maps.Clone(s.products),
		customers: maps.Clone(s.customers),
		invoices:  maps.Clone(s.invoices),
		sequences: maps.Clone(s.sequences),
		payments:  slices.Clone(s.payments),
		entries:   slices.Clone(s.entries),
		expenses:  slices.Clone(s.expenses),
		movements: slices.Clone(s.movements),
		receipts:  maps.Clone(s.receipts),
		lastID:    s.lastID,
	}
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

type Store struct {
	// sem admits one transaction at a time.
	sem chan struct{}

	mu        sync.RWMutex
	committed *state
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{sem: make(chan struct{}, 1), committed: newState()}
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tx{store: s, st: s.snapshot().clone()}, nil
}

type tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.st
	t.store.mu.Unlock()
	<-t.store.sem
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.sem
	return nil
}

// ── Receipts ──────────────────────────────────────────────────────────────────

func (t *tx) Receipt(ctx context.Context, messageID string) (*core.Receipt, error) {
	return receipt(t.st, messageID), nil
}

func receipt(st *state, messageID string) *core.Receipt {
	r, ok := st.receipts[messageID]
	if !ok {
		return nil
	}
	return &r
}

func (t *tx) PutReceipt(ctx context.Context, r core.Receipt) error {
	if _, ok := t.st.receipts[r.MessageID]; ok {
		return fmt.Errorf("receipt %s: %w", r.MessageID, core.ErrDuplicateMessage)
	}
	t.st.receipts[r.MessageID] = r
	return nil
}

// ── Products ──────────────────────────────────────────────────────────────────

func (t *tx) ProductNames(ctx context.Context) ([]core.NamedRef, error) {
	refs := make([]core.NamedRef, 0, len(t.st.products))
	for _, p := range sortedProducts(t.st) {
		refs = append(refs, core.NamedRef{ID: p.ID, Name: p.Name})
	}
	return refs, nil
}

func (t *tx) LockProduct(ctx context.Context, id int64) (*core.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	return &p, nil
}

func (t *tx) InsertProduct(ctx context.Context, p *core.Product) error {
	for _, existing := range t.st.products {
		if strings.EqualFold(existing.Name, p.Name) {
			return fmt.Errorf("product %q already exists", p.Name)
		}
	}
	p.ID = t.st.nextID()
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) SetProductStock(ctx context.Context, id, stock int64, at time.Time) error {
	p, ok := t.st.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	if stock < 0 {
		return fmt.Errorf("product %d: stock %d: %w", id, stock, core.ErrInsufficientStock)
	}
	p.Stock = stock
	p.UpdatedAt = at
	t.st.products[id] = p
	return nil
}

func (t *tx) InsertStockMovement(ctx context.Context, m *core.StockMovement) error {
	m.ID = t.st.nextID()
	t.st.movements = append(t.st.movements, *m)
	return nil
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (t *tx) CustomerNames(ctx context.Context) ([]core.NamedRef, error) {
	refs := make([]core.NamedRef, 0, len(t.st.customers))
	for _, c := range sortedCustomers(t.st) {
		refs = append(refs, core.NamedRef{ID: c.ID, Name: c.Name})
	}
	return refs, nil
}

func (t *tx) CustomerByPhone(ctx context.Context, phone string) (*core.Customer, error) {
	if phone == "" {
		return nil, nil
	}
	for _, c := range t.st.customers {
		if c.Phone == phone {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *tx) LockCustomer(ctx context.Context, id int64) (*core.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, core.ErrUnknownCustomer)
	}
	return &c, nil
}

func (t *tx) InsertCustomer(ctx context.Context, c *core.Customer) error {
	if c.Phone != "" {
		if existing, _ := t.CustomerByPhone(ctx, c.Phone); existing != nil {
			return fmt.Errorf("phone %s already belongs to customer %d", c.Phone, existing.ID)
		}
	}
	c.ID = t.st.nextID()
	t.st.customers[c.ID] = *c
	return nil
}

func (t *tx) UpdateCustomerProfile(ctx context.Context, c *core.Customer) error {
	cur, ok := t.st.customers[c.ID]
	if !ok {
		return fmt.Errorf("customer %d: %w", c.ID, core.ErrUnknownCustomer)
	}
	cur.Name, cur.Email, cur.Address = c.Name, c.Email, c.Address
	if c.Phone != "" {
		cur.Phone = c.Phone
	}
	cur.CreditLimit = c.CreditLimit
	cur.UpdatedAt = c.UpdatedAt
	t.st.customers[c.ID] = cur
	return nil
}

func (t *tx) SetCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	c, ok := t.st.customers[id]
	if !ok {
		return fmt.Errorf("customer %d: %w", id, core.ErrUnknownCustomer)
	}
	c.Outstanding = balance
	c.UpdatedAt = at
	t.st.customers[id] = c
	return nil
}

// ── Invoices & payments ───────────────────────────────────────────────────────

func (t *tx) NextInvoiceSequence(ctx context.Context, day time.Time) (int64, error) {
	key := day.Format(time.DateOnly)
	t.st.sequences[key]++
	return t.st.sequences[key], nil
}

func (t *tx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	for _, existing := range t.st.invoices {
		if existing.Number == inv.Number {
			return fmt.Errorf("invoice number %s already used", inv.Number)
		}
	}
	inv.ID = t.st.nextID()
	stored := *inv
	stored.Items = slices.Clone(inv.Items)
	t.st.invoices[inv.ID] = stored
	return nil
}

func (t *tx) LockInvoiceByNumber(ctx context.Context, number string) (*core.Invoice, error) {
	for _, inv := range t.st.invoices {
		if inv.Number == number {
			return &inv, nil
		}
	}
	return nil, nil
}

func (t *tx) LockOpenInvoices(ctx context.Context, customerID int64) ([]core.Invoice, error) {
	var open []core.Invoice
	for _, inv := range t.st.invoices {
		if inv.CustomerID == customerID && inv.Status != core.InvoicePaid {
			open = append(open, inv)
		}
	}
	sortInvoices(open, false)
	return open, nil
}

func (t *tx) SetInvoicePaid(ctx context.Context, id int64, paid decimal.Decimal, status core.InvoiceStatus) error {
	inv, ok := t.st.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %d not found", id)
	}
	inv.Paid = paid
	inv.Status = status
	t.st.invoices[id] = inv
	return nil
}

func (t *tx) PaymentByExternalRef(ctx context.Context, ref string) (*core.Payment, error) {
	for _, p := range t.st.payments {
		if ref != "" && p.ExternalRef == ref {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertPayment(ctx context.Context, p *core.Payment) error {
	if existing, _ := t.PaymentByExternalRef(ctx, p.ExternalRef); existing != nil {
		return fmt.Errorf("payment reference %s already recorded", p.ExternalRef)
	}
	p.ID = t.st.nextID()
	t.st.payments = append(t.st.payments, *p)
	return nil
}

func (t *tx) InsertLedgerEntry(ctx context.Context, e *core.LedgerEntry) error {
	e.ID = t.st.nextID()
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) InsertExpense(ctx context.Context, e *core.Expense) error {
	e.ID = t.st.nextID()
	t.st.expenses = append(t.st.expenses, *e)
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

func (s *Store) Receipt(ctx context.Context, messageID string) (*core.Receipt, error) {
	return receipt(s.snapshot(), messageID), nil
}

func between(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func (s *Store) SalesBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	out := core.Totals{Sum: decimal.Zero}
	for _, inv := range s.snapshot().invoices {
		if between(inv.CreatedAt, from, to) {
			out.Count++
			out.Sum = out.Sum.Add(inv.Total)
		}
	}
	return out, nil
}

func (s *Store) PaymentsBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	out := core.Totals{Sum: decimal.Zero}
	for _, p := range s.snapshot().payments {
		if between(p.CreatedAt, from, to) {
			out.Count++
			out.Sum = out.Sum.Add(p.Amount)
		}
	}
	return out, nil
}

func (s *Store) ExpensesBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	out := core.Totals{Sum: decimal.Zero}
	for _, e := range s.snapshot().expenses {
		if between(e.CreatedAt, from, to) {
			out.Count++
			out.Sum = out.Sum.Add(e.Amount)
		}
	}
	return out, nil
}

func (s *Store) OutstandingBalances(ctx context.Context) (receivable, advances decimal.Decimal, err error) {
	receivable, advances = decimal.Zero, decimal.Zero
	for _, c := range s.snapshot().customers {
		switch {
		case c.Outstanding.IsPositive():
			receivable = receivable.Add(c.Outstanding)
		case c.Outstanding.IsNegative():
			advances = advances.Sub(c.Outstanding)
		}
	}
	return receivable, advances, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]core.Product, error) {
	return sortedProducts(s.snapshot()), nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	return sortedCustomers(s.snapshot()), nil
}

func (s *Store) LowStockProducts(ctx context.Context) ([]core.Product, error) {
	var low []core.Product
	for _, p := range sortedProducts(s.snapshot()) {
		if p.Stock <= p.LowStockAlert {
			low = append(low, p)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].Stock < low[j].Stock })
	return low, nil
}

func (s *Store) OverdueCustomers(ctx context.Context, before time.Time) ([]core.OverdueCustomer, error) {
	st := s.snapshot()
	var out []core.OverdueCustomer
	for _, c := range sortedCustomers(st) {
		if !c.Outstanding.IsPositive() {
			continue
		}
		oc := core.OverdueCustomer{Customer: c}
		for _, e := range st.entries {
			if e.CustomerID != c.ID {
				continue
			}
			if e.CreatedAt.After(oc.LastActivity) {
				oc.LastActivity = e.CreatedAt
			}
			if e.Type == core.EntryDebit && e.ID > oc.LastDebitID {
				oc.LastDebitID = e.ID
				oc.ReminderSent = e.ReminderSent
			}
		}
		if oc.LastActivity.Before(before) {
			out = append(out, oc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Customer.Outstanding.GreaterThan(out[j].Customer.Outstanding)
	})
	return out, nil
}

func (s *Store) CustomerEntries(ctx context.Context, customerID int64, limit int) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	entries := s.snapshot().entries
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].CustomerID == customerID {
			out = append(out, entries[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CustomerInvoices(ctx context.Context, customerID int64, limit int) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, inv := range s.snapshot().invoices {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	sortInvoices(out, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, entryID int64) error {
	t, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback(ctx)
	st := t.(*tx).st
	for i := range st.entries {
		if st.entries[i].ID == entryID {
			st.entries[i].ReminderSent = true
			return t.Commit(ctx)
		}
	}
	return fmt.Errorf("ledger entry %d not found", entryID)
}

// Entries returns every udhaar entry for a customer in posting order.
func (s *Store) Entries(customerID int64) []core.LedgerEntry {
	var out []core.LedgerEntry
	for _, e := range s.snapshot().entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out
}

// Movements returns every stock movement for a product in posting order.
func (s *Store) Movements(productID int64) []core.StockMovement {
	var out []core.StockMovement
	for _, m := range s.snapshot().movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out
}

func sortedProducts(st *state) []core.Product {
	var out []core.Product
	for _, v := range st.products {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedCustomers(st *state) []core.Customer {
	var out []core.Customer
	for _, v := range st.customers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortInvoices(invs []core.Invoice, newestFirst bool) {
	sort.Slice(invs, func(i, j int) bool {
		a, b := invs[i], invs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) != newestFirst
		}
		return (a.ID < b.ID) != newestFirst
	})
}
