package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMode is how money changed hands.
type PaymentMode string

const (
	PaymentCash PaymentMode = "cash"
	PaymentUPI  PaymentMode = "upi"
	PaymentCard PaymentMode = "card"
)

// PaymentModes lists every accepted mode, in the order shown to users.
var PaymentModes = []PaymentMode{PaymentCash, PaymentUPI, PaymentCard}

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
)

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// GSTRates are the tax slabs a product may carry.
var GSTRates = []int64{0, 5, 12, 18, 28}

const (
	DefaultGSTRate       = 18
	DefaultLowStockAlert = 10
	DefaultUnit          = "piece"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	Stock         int64           `json:"stock"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	GSTRate       decimal.Decimal `json:"gst_rate"`
	LowStockAlert int64           `json:"low_stock_alert"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Customer.Outstanding is owned by the ledger: it only changes together with a
// LedgerEntry and always equals the sum of debits minus the sum of credits.
type Customer struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone,omitempty"`
	Email       string          `json:"email,omitempty"`
	Address     string          `json:"address,omitempty"`
	Outstanding decimal.Decimal `json:"outstanding_balance"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Invoice struct {
	ID            int64           `json:"id"`
	Number        string          `json:"invoice_number"`
	CustomerID    int64           `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Items         []InvoiceItem   `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	GSTAmount     decimal.Decimal `json:"gst_amount"`
	Total         decimal.Decimal `json:"total_amount"`
	Paid          decimal.Decimal `json:"paid_amount"`
	Status        InvoiceStatus   `json:"status"`
	PaymentMode   PaymentMode     `json:"payment_mode,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Due is the unpaid remainder of the invoice, never negative.
func (inv Invoice) Due() decimal.Decimal {
	d := inv.Total.Sub(inv.Paid)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

type InvoiceItem struct {
	LineNumber  int             `json:"line_number"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	GSTRate     decimal.Decimal `json:"gst_rate"`
	Amount      decimal.Decimal `json:"amount"`
}

type Payment struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          PaymentMode     `json:"payment_mode"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEntry is one line of the udhaar (customer credit) ledger. Balance is
// the customer's outstanding balance right after this entry was applied.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Type         EntryType       `json:"entry_type"`
	Amount       decimal.Decimal `json:"amount"`
	Balance      decimal.Decimal `json:"balance"`
	Description  string          `json:"description"`
	ReminderSent bool            `json:"reminder_sent"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Expense struct {
	ID          int64           `json:"id"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        PaymentMode     `json:"payment_mode"`
	Vendor      string          `json:"vendor,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StockMovement records every change to a product's stock with its reason.
type StockMovement struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	Delta          int64     `json:"delta"`
	ResultingStock int64     `json:"resulting_stock"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Receipt is the stored outcome of an applied message id. Payload holds the
// JSON encoding of the result returned the first time.
type Receipt struct {
	MessageID string    `json:"message_id"`
	Action    string    `json:"action"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Totals is a count and sum over a set of money movements.
type Totals struct {
	Count int             `json:"count"`
	Sum   decimal.Decimal `json:"total"`
}

// OverdueCustomer is a customer with a positive balance and no ledger activity
// since before the cutoff.
type OverdueCustomer struct {
	Customer     Customer  `json:"customer"`
	LastActivity time.Time `json:"last_activity"`
	// LastDebitID is the newest debit entry, the one a reminder is recorded against.
	LastDebitID  int64 `json:"last_debit_id"`
	ReminderSent bool  `json:"reminder_sent"`
}
