package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CreateCustomerRequest struct {
	Name        string           `json:"name"`
	Phone       string           `json:"phone"`
	Email       string           `json:"email,omitempty"`
	Address     string           `json:"address,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

func (r CreateCustomerRequest) Validate() error {
	const op = "create_customer"
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError(op, "customer name is required")
	}
	if len(NormalizePhone(r.Phone)) < 10 {
		return NewValidationError(op, "phone number %q is too short", r.Phone)
	}
	if r.CreditLimit != nil && r.CreditLimit.IsNegative() {
		return NewValidationError(op, "credit limit must not be negative")
	}
	return nil
}

type CustomerResult struct {
	Customer Customer `json:"customer"`
	Created  bool     `json:"created"`
}

// CreateCustomer upserts by phone: an existing customer with the same phone
// gets its profile updated, the balance is never touched.
func (l *Ledger) CreateCustomer(ctx context.Context, messageID string, req CreateCustomerRequest) (*CustomerResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "create_customer", func(tx Tx, now time.Time) (*CustomerResult, error) {
		phone := NormalizePhone(req.Phone)
		existing, err := tx.CustomerByPhone(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to look up customer by phone: %w", err)
		}

		if existing != nil {
			c, err := tx.LockCustomer(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock customer: %w", err)
			}
			c.Name = strings.TrimSpace(req.Name)
			if req.Email != "" {
				c.Email = strings.TrimSpace(req.Email)
			}
			if req.Address != "" {
				c.Address = strings.TrimSpace(req.Address)
			}
			if req.CreditLimit != nil {
				c.CreditLimit = round2(*req.CreditLimit)
			}
			c.UpdatedAt = now
			if err := tx.UpdateCustomerProfile(ctx, c); err != nil {
				return nil, fmt.Errorf("failed to update customer: %w", err)
			}
			return &CustomerResult{Customer: *c}, nil
		}

		c := &Customer{
			Name:        strings.TrimSpace(req.Name),
			Phone:       phone,
			Email:       strings.TrimSpace(req.Email),
			Address:     strings.TrimSpace(req.Address),
			Outstanding: decimal.Zero,
			CreditLimit: decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if req.CreditLimit != nil {
			c.CreditLimit = round2(*req.CreditLimit)
		}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to insert customer: %w", err)
		}
		return &CustomerResult{Customer: *c, Created: true}, nil
	})
}

type RecordExpenseRequest struct {
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Mode        PaymentMode     `json:"payment_mode,omitempty"`
	Vendor      string          `json:"vendor,omitempty"`
}

func (r RecordExpenseRequest) Validate() error {
	const op = "record_expense"
	if strings.TrimSpace(r.Category) == "" {
		return NewValidationError(op, "expense category is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError(op, "amount must be positive, got %s", r.Amount)
	}
	if r.Mode != "" && !slices.Contains(PaymentModes, r.Mode) {
		return NewValidationError(op, "unknown payment mode %q", r.Mode)
	}
	return nil
}

type ExpenseResult struct {
	Expense Expense `json:"expense"`
}

func (l *Ledger) RecordExpense(ctx context.Context, messageID string, req RecordExpenseRequest) (*ExpenseResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "record_expense", func(tx Tx, now time.Time) (*ExpenseResult, error) {
		mode := req.Mode
		if mode == "" {
			mode = PaymentCash
		}
		e := &Expense{
			Category:    strings.ToLower(strings.TrimSpace(req.Category)),
			Description: strings.TrimSpace(req.Description),
			Amount:      round2(req.Amount),
			Mode:        mode,
			Vendor:      strings.TrimSpace(req.Vendor),
			CreatedAt:   now,
		}
		if err := tx.InsertExpense(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to insert expense: %w", err)
		}
		return &ExpenseResult{Expense: *e}, nil
	})
}
