package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/ai"
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
	"biz-agent/internal/store/memory"
)

type sent struct {
	to, body string
}

type fakeReplier struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *fakeReplier) Send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sent{to, body})
	return nil
}

// scripted returns queued resolutions and records every request.
type scripted struct {
	queue []ai.Resolution
	seen  []ai.Request
}

func (s *scripted) Resolve(_ context.Context, req ai.Request) ai.Resolution {
	s.seen = append(s.seen, req)
	if len(s.queue) == 0 {
		return ai.Failure{Err: errors.New("no script")}
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r
}

type env struct {
	ctx      context.Context
	now      time.Time
	store    *memory.Store
	ledger   *core.Ledger
	resolver *scripted
	replier  *fakeReplier
	svc      ApplicationService
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	e := &env{
		ctx:      context.Background(),
		now:      time.Date(2026, 10, 18, 11, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)),
		store:    memory.New(),
		resolver: &scripted{},
		replier:  &fakeReplier{},
	}
	clock := func() time.Time { return e.now }
	e.ledger = core.NewLedger(e.store, core.WithClock(clock))
	reports := core.NewReportingService(e.store, core.WithClock(clock))
	reg := dispatch.NewRegistry()
	dispatch.RegisterLedgerActions(reg, e.ledger, reports)
	d := dispatch.NewDispatcher(reg, e.ledger, dispatch.DefaultConfig(), zerolog.Nop())
	e.svc = NewAppService(d, e.resolver, reports, e.store, e.replier, cfg, zerolog.Nop())

	gst := int64(18)
	_, err := e.ledger.CreateProduct(e.ctx, "", core.CreateProductRequest{
		Name: "Vivo V29", SellingPrice: decimal.NewFromInt(29999), Stock: 5, GSTRate: &gst,
	})
	require.NoError(t, err)
	return e
}

func merged(sender, id, text string) aggregator.Merged {
	return aggregator.Merged{FlushID: "01J" + id, SenderID: sender, MessageID: id, MessageIDs: []string{id}, Text: text, Fragments: 1}
}

var saleAction = ai.ActionCall{Name: "create_invoice", Args: map[string]any{
	"customer_name": "Ramesh",
	"items":         []any{map[string]any{"product_name": "Vivo V29", "quantity": 1, "rate": 29999}},
}}

func TestHandleMessage_ActionReply(t *testing.T) {
	e := newEnv(t, Config{})
	e.resolver.queue = []ai.Resolution{saleAction}

	res, err := e.svc.HandleMessage(e.ctx, merged("+919810000001", "wamid.1", "Ramesh ko 1 Vivo V29 udhaar"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAction, res.Outcome)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.Success)
	assert.True(t, res.Delivered)
	assert.Contains(t, res.Reply, "INV202610180001")
	assert.Contains(t, res.Reply, "₹35,398.82")
	assert.Contains(t, res.Reply, "Added to udhaar")

	require.Len(t, e.replier.msgs, 1)
	assert.Equal(t, "+919810000001", e.replier.msgs[0].to)
	assert.Equal(t, res.Reply, e.replier.msgs[0].body)
}

func TestHandleMessage_RedeliveredMessageIsNotAppliedTwice(t *testing.T) {
	e := newEnv(t, Config{})
	e.resolver.queue = []ai.Resolution{saleAction, saleAction}

	_, err := e.svc.HandleMessage(e.ctx, merged("a", "wamid.1", "sale"))
	require.NoError(t, err)
	res, err := e.svc.HandleMessage(e.ctx, merged("a", "wamid.1", "sale"))
	require.NoError(t, err)
	assert.True(t, res.Result.Duplicate)
	assert.Contains(t, res.Reply, "INV202610180001")
	assert.Contains(t, res.Reply, "Already recorded")

	products, err := e.store.ListProducts(e.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, products[0].Stock)
}

func TestHandleMessage_ClarificationFeedsContext(t *testing.T) {
	e := newEnv(t, Config{ContextTurns: 2})
	e.resolver.queue = []ai.Resolution{
		ai.Clarification{Text: "Kitne piece?"},
		saleAction,
	}

	res, err := e.svc.HandleMessage(e.ctx, merged("a", "m1", "Ramesh ko Vivo"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Equal(t, "Kitne piece?", res.Reply)

	_, err = e.svc.HandleMessage(e.ctx, merged("a", "m2", "1"))
	require.NoError(t, err)
	require.Len(t, e.resolver.seen, 2)
	assert.Empty(t, e.resolver.seen[0].Recent)
	assert.Equal(t, []ai.Exchange{{User: "Ramesh ko Vivo", Reply: "Kitne piece?"}}, e.resolver.seen[1].Recent)
}

func TestHandleMessage_Failures(t *testing.T) {
	e := newEnv(t, Config{})
	e.resolver.queue = []ai.Resolution{
		ai.Failure{Err: &core.ActionError{Op: "resolve", Err: core.ErrResolverTimeout}},
		ai.ActionCall{Name: "create_invoice", Args: map[string]any{
			"customer_name": "Ramesh",
			"items":         []any{map[string]any{"product_name": "Vivo V29", "quantity": 10, "rate": 29999}},
		}},
	}

	res, err := e.svc.HandleMessage(e.ctx, merged("a", "m1", "x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, replyTimeout, res.Reply)

	res, err = e.svc.HandleMessage(e.ctx, merged("a", "m2", "y"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAction, res.Outcome)
	assert.False(t, res.Result.Success)
	assert.Equal(t, core.KindInsufficientStock, res.Result.Error.Kind)
	assert.Contains(t, res.Reply, "⚠️")
}

func TestHandleMessage_Unauthorized(t *testing.T) {
	e := newEnv(t, Config{Authorized: []string{"+91 98100 00001"}, OwnerPhone: "+919999900000"})

	res, err := e.svc.HandleMessage(e.ctx, merged("whatsapp:+919812345678", "m1", "sale"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnauthorized, res.Outcome)
	assert.Equal(t, replyUnauthorized, res.Reply)
	assert.Empty(t, e.resolver.seen)

	e.resolver.queue = []ai.Resolution{ai.Clarification{Text: "ok"}}
	res, err = e.svc.HandleMessage(e.ctx, merged("whatsapp:+919999900000", "m2", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarification, res.Outcome, "owner is always allowed")
}

func TestHandleMessage_ReplyFailureIsReported(t *testing.T) {
	e := newEnv(t, Config{})
	e.replier.err = errors.New("twilio down")
	e.resolver.queue = []ai.Resolution{ai.Clarification{Text: "?"}}

	res, err := e.svc.HandleMessage(e.ctx, merged("a", "m1", "x"))
	require.Error(t, err)
	assert.False(t, res.Delivered)
}

func TestSendOverdueReminders(t *testing.T) {
	e := newEnv(t, Config{ShopName: "Sharma Mobiles"})
	_, err := e.ledger.CreateCustomer(e.ctx, "", core.CreateCustomerRequest{Name: "Ramesh", Phone: "+919810000001"})
	require.NoError(t, err)
	_, err = e.ledger.CreateInvoice(e.ctx, "", core.CreateInvoiceRequest{
		CustomerName: "Ramesh",
		Items:        []core.InvoiceLine{{ProductName: "Vivo V29", Quantity: 1, Rate: decimal.NewFromInt(10000)}},
	})
	require.NoError(t, err)
	_, err = e.ledger.CreateInvoice(e.ctx, "", core.CreateInvoiceRequest{
		CustomerName: "Walk-in Suresh",
		Items:        []core.InvoiceLine{{ProductName: "Vivo V29", Quantity: 1, Rate: decimal.NewFromInt(10000)}},
	})
	require.NoError(t, err)

	e.now = e.now.AddDate(0, 0, 31)
	res, err := e.svc.SendOverdueReminders(e.ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Skipped, "customer without a phone")
	require.Len(t, e.replier.msgs, 1)
	assert.Equal(t, "+919810000001", e.replier.msgs[0].to)
	assert.Contains(t, e.replier.msgs[0].body, "Sharma Mobiles")
	assert.Contains(t, e.replier.msgs[0].body, "₹11,800")

	res, err = e.svc.SendOverdueReminders(e.ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Equal(t, 2, res.Skipped)
}

func TestSendDailySummary(t *testing.T) {
	e := newEnv(t, Config{})
	assert.Error(t, e.svc.SendDailySummary(e.ctx))

	e = newEnv(t, Config{OwnerPhone: "+919999900000"})
	require.NoError(t, e.svc.SendDailySummary(e.ctx))
	require.Len(t, e.replier.msgs, 1)
	assert.Contains(t, e.replier.msgs[0].body, "Summary for 2026-10-18")
}

func TestExecuteActionAndSummary(t *testing.T) {
	e := newEnv(t, Config{})
	res, err := e.svc.ExecuteAction(e.ctx, ExecuteActionRequest{
		Action: "record_expense", MessageID: "api-1",
		Args: map[string]any{"category": "Rent", "amount": "15,000"},
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = e.svc.ExecuteAction(e.ctx, ExecuteActionRequest{})
	assert.ErrorIs(t, err, core.ErrValidation)

	s, err := e.svc.GetDailySummary(e.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "15000.00", s.Expenses.Sum.StringFixed(2))

	_, err = e.svc.GetDailySummary(e.ctx, "18-10-2026")
	assert.ErrorIs(t, err, core.ErrValidation)
}
