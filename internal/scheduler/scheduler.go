// Package scheduler runs the owner's daily summary and udhaar reminders on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"biz-agent/internal/app"
)

const (
	DefaultSummarySpec  = "0 21 * * *"
	DefaultReminderSpec = "0 10 * * *"
	jobTimeout          = 2 * time.Minute
)

// Jobs is the part of the application service the scheduler drives.
type Jobs interface {
	SendDailySummary(ctx context.Context) error
	SendOverdueReminders(ctx context.Context, days int) (*app.ReminderResult, error)
}

type Config struct {
	SummarySpec  string
	ReminderSpec string
	OverdueDays  int
	Location     *time.Location
}

type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	cfg  Config
	log  zerolog.Logger
}

func New(jobs Jobs, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	if cfg.SummarySpec == "" {
		cfg.SummarySpec = DefaultSummarySpec
	}
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = DefaultReminderSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Scheduler{jobs: jobs, cfg: cfg, log: log}
	cl := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.SummarySpec, s.runSummary); err != nil {
		return nil, fmt.Errorf("summary schedule %q: %w", cfg.SummarySpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.ReminderSpec, s.runReminders); err != nil {
		return nil, fmt.Errorf("reminder schedule %q: %w", cfg.ReminderSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("summary", s.cfg.SummarySpec).Str("reminders", s.cfg.ReminderSpec).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.jobs.SendDailySummary(ctx); err != nil {
		s.log.Error().Err(err).Msg("daily summary job failed")
		return
	}
	s.log.Info().Msg("daily summary sent")
}

func (s *Scheduler) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.jobs.SendOverdueReminders(ctx, s.cfg.OverdueDays); err != nil {
		s.log.Error().Err(err).Msg("udhaar reminder job failed")
	}
}

// cronLogger routes cron's own logging to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
