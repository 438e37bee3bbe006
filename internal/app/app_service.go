package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/ai"
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
	"biz-agent/internal/obs"
)

// Resolver is the bounded intent resolver, satisfied by *ai.Adapter.
type Resolver interface {
	Resolve(ctx context.Context, req ai.Request) ai.Resolution
}

// Replier delivers reply text to a sender.
type Replier interface {
	Send(ctx context.Context, to, body string) error
}

type Config struct {
	ShopName     string
	OwnerPhone   string
	Authorized   []string
	ContextTurns int
}

type appService struct {
	dispatcher *dispatch.Dispatcher
	resolver   Resolver
	reports    core.ReportingService
	reader     core.Reader
	replier    Replier
	memory     *Memory
	auth       *Authorizer
	cfg        Config
	log        zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	dispatcher *dispatch.Dispatcher,
	resolver Resolver,
	reports core.ReportingService,
	reader core.Reader,
	replier Replier,
	cfg Config,
	log zerolog.Logger,
) ApplicationService {
	if cfg.ShopName == "" {
		cfg.ShopName = "your shop"
	}
	return &appService{
		dispatcher: dispatcher,
		resolver:   resolver,
		reports:    reports,
		reader:     reader,
		replier:    replier,
		memory:     NewMemory(cfg.ContextTurns),
		auth:       NewAuthorizer(cfg.Authorized, cfg.OwnerPhone),
		cfg:        cfg,
		log:        log,
	}
}

// FlushHandler adapts the service to the aggregator's flush callback.
func FlushHandler(svc ApplicationService, log zerolog.Logger) aggregator.Handler {
	return func(ctx context.Context, m aggregator.Merged) {
		if _, err := svc.HandleMessage(ctx, m); err != nil {
			log.Error().Err(err).Str("sender", m.SenderID).Str("flush_id", m.FlushID).Msg("message handling failed")
		}
	}
}

func (s *appService) HandleMessage(ctx context.Context, msg aggregator.Merged) (*MessageResult, error) {
	out := &MessageResult{FlushID: msg.FlushID, SenderID: msg.SenderID, MessageID: msg.MessageID}
	log := s.log.With().Str("sender", msg.SenderID).Str("flush_id", msg.FlushID).Logger()

	if !s.auth.Allowed(msg.SenderID) {
		log.Warn().Msg("message from unauthorized sender")
		out.Outcome = OutcomeUnauthorized
		out.Reply = replyUnauthorized
		return out, s.reply(ctx, out)
	}

	req := ai.Request{
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		MediaRefs: msg.MediaRefs,
		Recent:    s.memory.Recent(msg.SenderID),
	}
	switch r := s.resolver.Resolve(ctx, req).(type) {
	case ai.ActionCall:
		res := s.dispatcher.Execute(ctx, dispatch.Call{
			Action:    r.Name,
			Args:      r.Args,
			MessageID: msg.MessageID,
			SenderID:  msg.SenderID,
		})
		out.Outcome = OutcomeAction
		out.Action = r.Name
		out.Result = &res
		out.Reply = RenderResult(res)
	case ai.Clarification:
		out.Outcome = OutcomeClarification
		out.Reply = r.Text
	case ai.Failure:
		out.Outcome = OutcomeFailure
		out.Reply = renderFailure(&dispatch.ResultError{Kind: r.Kind()})
		log.Warn().Err(r.Err).Str("kind", string(r.Kind())).Msg("message not resolved")
	}

	s.memory.Add(msg.SenderID, ai.Exchange{User: msg.Text, Reply: out.Reply})
	return out, s.reply(ctx, out)
}

func (s *appService) reply(ctx context.Context, out *MessageResult) error {
	if s.replier == nil {
		return nil
	}
	if err := s.replier.Send(ctx, out.SenderID, out.Reply); err != nil {
		obs.RepliesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send reply to %s: %w", out.SenderID, err)
	}
	obs.RepliesTotal.WithLabelValues("sent").Inc()
	out.Delivered = true
	return nil
}

func (s *appService) ExecuteAction(ctx context.Context, req ExecuteActionRequest) (*dispatch.Result, error) {
	if req.Action == "" {
		return nil, core.NewValidationError("execute", "action is required")
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	res := s.dispatcher.Execute(ctx, dispatch.Call{
		Action:    req.Action,
		Args:      req.Args,
		MessageID: req.MessageID,
		SenderID:  req.SenderID,
	})
	return &res, nil
}

func (s *appService) GetDailySummary(ctx context.Context, date string) (*core.DailySummary, error) {
	day := s.reports.Today()
	if date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, date, day.Location())
		if err != nil {
			return nil, core.NewValidationError("daily_summary", "date must be YYYY-MM-DD, got %q", date)
		}
		day = parsed
	}
	return s.reports.DailySummary(ctx, day)
}

func (s *appService) ListProducts(ctx context.Context) (*ProductListResult, error) {
	products, err := s.reader.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return &ProductListResult{Products: products}, nil
}

func (s *appService) ListCustomers(ctx context.Context) (*CustomerListResult, error) {
	customers, err := s.reader.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Customers: customers}, nil
}

func (s *appService) SendDailySummary(ctx context.Context) error {
	if s.cfg.OwnerPhone == "" {
		return errors.New("owner phone is not configured")
	}
	summary, err := s.reports.DailySummary(ctx, s.reports.Today())
	if err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}
	if s.replier == nil {
		return nil
	}
	return s.replier.Send(ctx, s.cfg.OwnerPhone, RenderDailySummary(summary))
}

func (s *appService) SendOverdueReminders(ctx context.Context, days int) (*ReminderResult, error) {
	report, err := s.reports.Overdue(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("overdue report: %w", err)
	}
	out := &ReminderResult{}
	for _, oc := range report.Customers {
		if oc.ReminderSent || oc.Customer.Phone == "" || s.replier == nil {
			out.Skipped++
			continue
		}
		if err := s.replier.Send(ctx, oc.Customer.Phone, ReminderText(s.cfg.ShopName, oc)); err != nil {
			s.log.Warn().Err(err).Str("customer", oc.Customer.Name).Msg("failed to send udhaar reminder")
			out.Failed++
			continue
		}
		if err := s.reports.MarkReminderSent(ctx, oc.LastDebitID); err != nil {
			return out, fmt.Errorf("mark reminder for %s: %w", oc.Customer.Name, err)
		}
		out.Sent++
	}
	s.log.Info().Int("sent", out.Sent).Int("skipped", out.Skipped).Int("failed", out.Failed).Msg("udhaar reminders processed")
	return out, nil
}
