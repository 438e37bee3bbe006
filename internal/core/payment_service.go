package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RecordPaymentRequest struct {
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Mode         PaymentMode     `json:"payment_mode"`
	// ExternalRef is the UPI/UTR or card reference; unique when present.
	ExternalRef string `json:"external_ref,omitempty"`
	// InvoiceNumber targets one invoice; otherwise the payment settles the
	// customer's open invoices oldest first.
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (r RecordPaymentRequest) Validate() error {
	const op = "record_payment"
	if strings.TrimSpace(r.CustomerName) == "" {
		return NewValidationError(op, "customer name is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError(op, "amount must be positive, got %s", r.Amount)
	}
	if !slices.Contains(PaymentModes, r.Mode) {
		return NewValidationError(op, "unknown payment mode %q", r.Mode)
	}
	return nil
}

// Allocation is the part of a payment applied to one invoice.
type Allocation struct {
	InvoiceNumber string          `json:"invoice_number"`
	Applied       decimal.Decimal `json:"applied"`
	Status        InvoiceStatus   `json:"status"`
}

type PaymentResult struct {
	Payment     Payment      `json:"payment"`
	Customer    Customer     `json:"customer"`
	Allocations []Allocation `json:"allocations,omitempty"`
	// Unapplied is the part not matched to any invoice; it stays on the
	// customer's balance as an advance.
	Unapplied decimal.Decimal `json:"unapplied"`
	// AlreadyRecorded is set when the external reference was seen before and
	// the earlier payment is returned unchanged.
	AlreadyRecorded bool `json:"already_recorded"`
}

func (l *Ledger) RecordPayment(ctx context.Context, messageID string, req RecordPaymentRequest) (*PaymentResult, error) {
	// Stored money columns hold paise.
	req.Amount = round2(req.Amount)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "record_payment", func(tx Tx, now time.Time) (*PaymentResult, error) {
		const op = "record_payment"
		ref := strings.TrimSpace(req.ExternalRef)

		if ref != "" {
			prior, err := tx.PaymentByExternalRef(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("failed to look up payment reference: %w", err)
			}
			if prior != nil {
				c, err := tx.LockCustomer(ctx, prior.CustomerID)
				if err != nil {
					return nil, fmt.Errorf("failed to load customer: %w", err)
				}
				return &PaymentResult{Payment: *prior, Customer: *c, Unapplied: decimal.Zero, AlreadyRecorded: true}, nil
			}
		}

		id, ok, err := l.findCustomer(ctx, tx, req.CustomerName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newActionError(op, ErrUnknownCustomer, "customer %q not found", req.CustomerName)
		}
		customer, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock customer: %w", err)
		}

		var open []Invoice
		if num := strings.ToUpper(strings.TrimSpace(req.InvoiceNumber)); num != "" {
			inv, err := tx.LockInvoiceByNumber(ctx, num)
			if err != nil {
				return nil, fmt.Errorf("failed to lock invoice: %w", err)
			}
			if inv == nil {
				return nil, NewValidationError(op, "invoice %s not found", num)
			}
			if inv.CustomerID != customer.ID {
				return nil, NewValidationError(op, "invoice %s belongs to %s, not %s", num, inv.CustomerName, customer.Name)
			}
			open = []Invoice{*inv}
		} else {
			open, err = tx.LockOpenInvoices(ctx, customer.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock open invoices: %w", err)
			}
		}

		res := &PaymentResult{}
		remaining := req.Amount
		for _, inv := range open {
			if !remaining.IsPositive() {
				break
			}
			due := inv.Due()
			if !due.IsPositive() {
				continue
			}
			applied := decimal.Min(due, remaining)
			paid := inv.Paid.Add(applied)
			status := statusFor(inv.Total, paid)
			if err := tx.SetInvoicePaid(ctx, inv.ID, paid, status); err != nil {
				return nil, fmt.Errorf("failed to update invoice %s: %w", inv.Number, err)
			}
			res.Allocations = append(res.Allocations, Allocation{InvoiceNumber: inv.Number, Applied: applied, Status: status})
			remaining = remaining.Sub(applied)
		}
		res.Unapplied = remaining

		pay := Payment{
			CustomerID:   customer.ID,
			CustomerName: customer.Name,
			Amount:       req.Amount,
			Mode:         req.Mode,
			ExternalRef:  ref,
			Notes:        strings.TrimSpace(req.Notes),
			CreatedAt:    now,
		}
		switch {
		case strings.TrimSpace(req.InvoiceNumber) != "":
			pay.InvoiceNumber = open[0].Number
		case len(res.Allocations) == 1:
			pay.InvoiceNumber = res.Allocations[0].InvoiceNumber
		}
		if err := tx.InsertPayment(ctx, &pay); err != nil {
			return nil, fmt.Errorf("failed to insert payment: %w", err)
		}

		desc := fmt.Sprintf("Payment received (%s)", req.Mode)
		if ref != "" {
			desc += " ref " + ref
		}
		if _, err := postEntry(ctx, tx, customer, EntryCredit, req.Amount, desc, now); err != nil {
			return nil, err
		}

		res.Payment = pay
		res.Customer = *customer
		return res, nil
	})
}
