package app

import (
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
)

type Outcome string

const (
	OutcomeAction        Outcome = "action"
	OutcomeClarification Outcome = "clarification"
	OutcomeFailure       Outcome = "failure"
	OutcomeUnauthorized  Outcome = "unauthorized"
)

// MessageResult is returned by HandleMessage.
type MessageResult struct {
	FlushID   string           `json:"flush_id"`
	SenderID  string           `json:"sender_id"`
	MessageID string           `json:"message_id"`
	Outcome   Outcome          `json:"outcome"`
	Action    string           `json:"action,omitempty"`
	Result    *dispatch.Result `json:"result,omitempty"`
	Reply     string           `json:"reply"`
	// Delivered is false when the replier failed; the reply is still recorded.
	Delivered bool `json:"delivered"`
}

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer `json:"customers"`
}

// ProductListResult is returned by ListProducts.
type ProductListResult struct {
	Products []core.Product `json:"products"`
}

// ReminderResult is returned by SendOverdueReminders.
type ReminderResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
