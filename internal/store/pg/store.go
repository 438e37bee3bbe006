// Package pg is the PostgreSQL core.Store. Row locks are taken with
// SELECT ... FOR UPDATE and held until the transaction ends.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"biz-agent/internal/core"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &tx{tx: t}, nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ── Receipts ──────────────────────────────────────────────────────────────────

func (t *tx) Receipt(ctx context.Context, messageID string) (*core.Receipt, error) {
	return receipt(ctx, t.tx, messageID)
}

func receipt(ctx context.Context, q querier, messageID string) (*core.Receipt, error) {
	var r core.Receipt
	err := q.QueryRow(ctx,
		"SELECT message_id, action, payload, created_at FROM action_receipts WHERE message_id = $1",
		messageID,
	).Scan(&r.MessageID, &r.Action, &r.Payload, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt %s: %w", messageID, err)
	}
	return &r, nil
}

// PutReceipt inserts the receipt. A concurrent transaction that already
// stored the same message id makes the insert a no-op, reported as
// core.ErrDuplicateMessage.
func (t *tx) PutReceipt(ctx context.Context, r core.Receipt) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO action_receipts (message_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING`,
		r.MessageID, r.Action, r.Payload, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store receipt %s: %w", r.MessageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s: %w", r.MessageID, core.ErrDuplicateMessage)
	}
	return nil
}

// ── Products ──────────────────────────────────────────────────────────────────

const productColumns = `id, name, unit, stock, cost_price, selling_price, gst_rate, low_stock_alert, created_at, updated_at`

func scanProduct(row scanner) (core.Product, error) {
	var p core.Product
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.Stock, &p.CostPrice, &p.SellingPrice,
		&p.GSTRate, &p.LowStockAlert, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *tx) ProductNames(ctx context.Context) ([]core.NamedRef, error) {
	return namedRefs(ctx, t.tx, "SELECT id, name FROM products ORDER BY id")
}

func namedRefs(ctx context.Context, q querier, sql string) ([]core.NamedRef, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	defer rows.Close()
	var refs []core.NamedRef
	for rows.Next() {
		var r core.NamedRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (t *tx) LockProduct(ctx context.Context, id int64) (*core.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
	}
	return &p, nil
}

func (t *tx) InsertProduct(ctx context.Context, p *core.Product) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO products (name, name_key, unit, stock, cost_price, selling_price, gst_rate, low_stock_alert, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		p.Name, core.NormalizeName(p.Name), p.Unit, p.Stock, p.CostPrice, p.SellingPrice,
		p.GSTRate, p.LowStockAlert, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("product %q already exists", p.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (t *tx) SetProductStock(ctx context.Context, id, stock int64, at time.Time) error {
	if stock < 0 {
		return fmt.Errorf("product %d: stock %d: %w", id, stock, core.ErrInsufficientStock)
	}
	tag, err := t.tx.Exec(ctx,
		"UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1", id, stock, at)
	if err != nil {
		return fmt.Errorf("failed to update stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, core.ErrUnknownProduct)
	}
	return nil
}

func (t *tx) InsertStockMovement(ctx context.Context, m *core.StockMovement) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, delta, resulting_stock, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.ProductID, m.Delta, m.ResultingStock, m.Reason, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return nil
}

// ── Customers ─────────────────────────────────────────────────────────────────

const customerColumns = `id, name, COALESCE(phone, ''), email, address, outstanding_balance, credit_limit, created_at, updated_at`

func scanCustomer(row scanner) (core.Customer, error) {
	var c core.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Outstanding,
		&c.CreditLimit, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *tx) CustomerNames(ctx context.Context) ([]core.NamedRef, error) {
	return namedRefs(ctx, t.tx, "SELECT id, name FROM customers ORDER BY id")
}

func (t *tx) CustomerByPhone(ctx context.Context, phone string) (*core.Customer, error) {
	if phone == "" {
		return nil, nil
	}
	c, err := scanCustomer(t.tx.QueryRow(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE phone = $1", phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by phone: %w", err)
	}
	return &c, nil
}

func (t *tx) LockCustomer(ctx context.Context, id int64) (*core.Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, core.ErrUnknownCustomer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer %d: %w", id, err)
	}
	return &c, nil
}

func (t *tx) InsertCustomer(ctx context.Context, c *core.Customer) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customers (name, phone, email, address, outstanding_balance, credit_limit, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.Name, c.Phone, c.Email, c.Address, c.Outstanding, c.CreditLimit, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("phone %s already belongs to another customer", c.Phone)
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (t *tx) UpdateCustomerProfile(ctx context.Context, c *core.Customer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE customers SET name = $2, email = $3, address = $4, credit_limit = $5, updated_at = $6,
			phone = COALESCE(NULLIF($7, ''), phone)
		WHERE id = $1`,
		c.ID, c.Name, c.Email, c.Address, c.CreditLimit, c.UpdatedAt, c.Phone,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d: %w", c.ID, core.ErrUnknownCustomer)
	}
	return nil
}

func (t *tx) SetCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE customers SET outstanding_balance = $2, updated_at = $3 WHERE id = $1", id, balance, at)
	if err != nil {
		return fmt.Errorf("failed to update balance of customer %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d: %w", id, core.ErrUnknownCustomer)
	}
	return nil
}

// ── Invoices & payments ───────────────────────────────────────────────────────

// NextInvoiceSequence bumps day's counter in place. The upserted row stays
// locked until the transaction ends, so numbers are gapless.
func (t *tx) NextInvoiceSequence(ctx context.Context, day time.Time) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (day, last_number)
		VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`,
		day.Format(time.DateOnly),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate invoice number: %w", err)
	}
	return next, nil
}

const invoiceColumns = `id, invoice_number, customer_id, customer_name, invoice_date, subtotal, gst_amount,
	total_amount, paid_amount, status, COALESCE(payment_mode, ''), notes, created_at`

func scanInvoice(row scanner) (core.Invoice, error) {
	var inv core.Invoice
	var status, mode string
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.InvoiceDate,
		&inv.Subtotal, &inv.GSTAmount, &inv.Total, &inv.Paid, &status, &mode, &inv.Notes, &inv.CreatedAt)
	inv.Status = core.InvoiceStatus(status)
	inv.PaymentMode = core.PaymentMode(mode)
	return inv, err
}

func (t *tx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, customer_id, customer_name, invoice_date, subtotal, gst_amount,
			total_amount, paid_amount, status, payment_mode, notes, created_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
		RETURNING id`,
		inv.Number, inv.CustomerID, inv.CustomerName, inv.InvoiceDate.Format(time.DateOnly),
		inv.Subtotal, inv.GSTAmount, inv.Total, inv.Paid, string(inv.Status), string(inv.PaymentMode),
		inv.Notes, inv.CreatedAt,
	).Scan(&inv.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("invoice number %s already used", inv.Number)
	}
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range inv.Items {
		batch.Queue(`
			INSERT INTO invoice_items (invoice_id, line_number, product_id, product_name, quantity, rate, gst_rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inv.ID, it.LineNumber, it.ProductID, it.ProductName, it.Quantity, it.Rate, it.GSTRate, it.Amount,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert invoice items: %w", err)
	}
	return nil
}

// loadItems fills the items of invs with one query.
func loadItems(ctx context.Context, q querier, invs []core.Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	ids := make([]int64, len(invs))
	index := make(map[int64]int, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID
		index[inv.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT invoice_id, line_number, product_id, product_name, quantity, rate, gst_rate, amount
		FROM invoice_items WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, line_number`, ids)
	if err != nil {
		return fmt.Errorf("failed to load invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var invoiceID int64
		var it core.InvoiceItem
		if err := rows.Scan(&invoiceID, &it.LineNumber, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.Rate, &it.GSTRate, &it.Amount); err != nil {
			return fmt.Errorf("failed to scan invoice item: %w", err)
		}
		i := index[invoiceID]
		invs[i].Items = append(invs[i].Items, it)
	}
	return rows.Err()
}

func queryInvoices(ctx context.Context, q querier, sql string, args ...any) ([]core.Invoice, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	var out []core.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadItems(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) LockInvoiceByNumber(ctx context.Context, number string) (*core.Invoice, error) {
	invs, err := queryInvoices(ctx, t.tx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE invoice_number = $1 FOR UPDATE", number)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, nil
	}
	return &invs[0], nil
}

func (t *tx) LockOpenInvoices(ctx context.Context, customerID int64) ([]core.Invoice, error) {
	return queryInvoices(ctx, t.tx, "SELECT "+invoiceColumns+` FROM invoices
		WHERE customer_id = $1 AND status <> 'paid'
		ORDER BY created_at, id
		FOR UPDATE`, customerID)
}

func (t *tx) SetInvoicePaid(ctx context.Context, id int64, paid decimal.Decimal, status core.InvoiceStatus) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE invoices SET paid_amount = $2, status = $3 WHERE id = $1", id, paid, string(status))
	if err != nil {
		return fmt.Errorf("failed to update invoice %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d not found", id)
	}
	return nil
}

func (t *tx) PaymentByExternalRef(ctx context.Context, ref string) (*core.Payment, error) {
	if ref == "" {
		return nil, nil
	}
	var p core.Payment
	var mode string
	err := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, customer_name, COALESCE(invoice_number, ''), amount, payment_mode,
			COALESCE(external_ref, ''), notes, created_at
		FROM payments WHERE external_ref = $1`, ref,
	).Scan(&p.ID, &p.CustomerID, &p.CustomerName, &p.InvoiceNumber, &p.Amount, &mode,
		&p.ExternalRef, &p.Notes, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment %s: %w", ref, err)
	}
	p.Mode = core.PaymentMode(mode)
	return &p, nil
}

func (t *tx) InsertPayment(ctx context.Context, p *core.Payment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (customer_id, customer_name, invoice_number, amount, payment_mode, external_ref, notes, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8)
		RETURNING id`,
		p.CustomerID, p.CustomerName, p.InvoiceNumber, p.Amount, string(p.Mode), p.ExternalRef, p.Notes, p.CreatedAt,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment reference %s already recorded", p.ExternalRef)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *tx) InsertLedgerEntry(ctx context.Context, e *core.LedgerEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO udhaar_ledger (customer_id, customer_name, entry_type, amount, balance, description, reminder_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.CustomerID, e.CustomerName, string(e.Type), e.Amount, e.Balance, e.Description, e.ReminderSent, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (t *tx) InsertExpense(ctx context.Context, e *core.Expense) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO expenses (category, description, amount, payment_mode, vendor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.Category, e.Description, e.Amount, string(e.Mode), e.Vendor, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}
