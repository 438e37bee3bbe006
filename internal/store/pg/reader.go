package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"biz-agent/internal/core"
)

func (s *Store) Receipt(ctx context.Context, messageID string) (*core.Receipt, error) {
	return receipt(ctx, s.pool, messageID)
}

func (s *Store) totals(ctx context.Context, table, column string, from, to time.Time) (core.Totals, error) {
	out := core.Totals{Sum: decimal.Zero}
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(%s), 0) FROM %s WHERE created_at >= $1 AND created_at < $2",
		column, table), from, to,
	).Scan(&out.Count, &out.Sum)
	if err != nil {
		return out, fmt.Errorf("failed to total %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) SalesBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	return s.totals(ctx, "invoices", "total_amount", from, to)
}

func (s *Store) PaymentsBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	return s.totals(ctx, "payments", "amount", from, to)
}

func (s *Store) ExpensesBetween(ctx context.Context, from, to time.Time) (core.Totals, error) {
	return s.totals(ctx, "expenses", "amount", from, to)
}

func (s *Store) OutstandingBalances(ctx context.Context) (receivable, advances decimal.Decimal, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(outstanding_balance) FILTER (WHERE outstanding_balance > 0), 0),
			COALESCE(-SUM(outstanding_balance) FILTER (WHERE outstanding_balance < 0), 0)
		FROM customers`,
	).Scan(&receivable, &advances)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to total outstanding: %w", err)
	}
	return receivable, advances, nil
}

func (s *Store) queryProducts(ctx context.Context, sql string) ([]core.Product, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()
	var out []core.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]core.Product, error) {
	return s.queryProducts(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
}

func (s *Store) LowStockProducts(ctx context.Context) ([]core.Product, error) {
	return s.queryProducts(ctx, "SELECT "+productColumns+
		" FROM products WHERE stock <= low_stock_alert ORDER BY stock, id")
}

func (s *Store) ListCustomers(ctx context.Context) ([]core.Customer, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()
	var out []core.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// OverdueCustomers treats a customer with no ledger entries as inactive since forever.
func (s *Store) OverdueCustomers(ctx context.Context, before time.Time) ([]core.OverdueCustomer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, COALESCE(c.phone, ''), c.email, c.address, c.outstanding_balance, c.credit_limit,
			c.created_at, c.updated_at, a.last_activity, COALESCE(d.id, 0), COALESCE(d.reminder_sent, false)
		FROM customers c
		CROSS JOIN LATERAL (
			SELECT MAX(created_at) AS last_activity FROM udhaar_ledger WHERE customer_id = c.id
		) a
		LEFT JOIN LATERAL (
			SELECT id, reminder_sent FROM udhaar_ledger
			WHERE customer_id = c.id AND entry_type = 'debit'
			ORDER BY id DESC LIMIT 1
		) d ON true
		WHERE c.outstanding_balance > 0 AND (a.last_activity IS NULL OR a.last_activity < $1)
		ORDER BY c.outstanding_balance DESC, c.id`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue customers: %w", err)
	}
	defer rows.Close()

	var out []core.OverdueCustomer
	for rows.Next() {
		var oc core.OverdueCustomer
		var last *time.Time
		c := &oc.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Outstanding, &c.CreditLimit,
			&c.CreatedAt, &c.UpdatedAt, &last, &oc.LastDebitID, &oc.ReminderSent); err != nil {
			return nil, fmt.Errorf("failed to scan overdue customer: %w", err)
		}
		if last != nil {
			oc.LastActivity = *last
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (s *Store) CustomerEntries(ctx context.Context, customerID int64, limit int) ([]core.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, customer_name, entry_type, amount, balance, description, reminder_sent, created_at
		FROM udhaar_ledger WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2::int, 0)`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()
	var out []core.LedgerEntry
	for rows.Next() {
		var e core.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.CustomerName, &typ, &e.Amount, &e.Balance,
			&e.Description, &e.ReminderSent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Type = core.EntryType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CustomerInvoices(ctx context.Context, customerID int64, limit int) ([]core.Invoice, error) {
	return queryInvoices(ctx, s.pool, "SELECT "+invoiceColumns+` FROM invoices
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2::int, 0)`, customerID, limit)
}

func (s *Store) MarkReminderSent(ctx context.Context, entryID int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE udhaar_ledger SET reminder_sent = true WHERE id = $1", entryID)
	if err != nil {
		return fmt.Errorf("failed to mark reminder on entry %d: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %d not found", entryID)
	}
	return nil
}
