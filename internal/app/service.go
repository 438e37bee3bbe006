package app

import (
	"context"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
)

// ApplicationService is the single interface all adapters (web, CLI,
// scheduler, aggregator) call. Implementations contain no transport or
// display concerns beyond rendering reply text.
type ApplicationService interface {
	// HandleMessage runs one merged message through authorization, the
	// intent resolver and the dispatcher, and sends the reply to the sender.
	HandleMessage(ctx context.Context, msg aggregator.Merged) (*MessageResult, error)

	// ExecuteAction dispatches a structured call directly, bypassing the resolver.
	ExecuteAction(ctx context.Context, req ExecuteActionRequest) (*dispatch.Result, error)

	// GetDailySummary reports on a YYYY-MM-DD day; empty means today.
	GetDailySummary(ctx context.Context, date string) (*core.DailySummary, error)

	ListProducts(ctx context.Context) (*ProductListResult, error)
	ListCustomers(ctx context.Context) (*CustomerListResult, error)

	// SendDailySummary renders today's summary and sends it to the owner.
	SendDailySummary(ctx context.Context) error

	// SendOverdueReminders messages every overdue customer that has a phone
	// and has not been reminded since their last debit.
	SendOverdueReminders(ctx context.Context, days int) (*ReminderResult, error)
}
