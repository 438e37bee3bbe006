package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"biz-agent/internal/ai"
	"biz-agent/internal/app"
	"biz-agent/internal/config"
	"biz-agent/internal/core"
	"biz-agent/internal/db"
	"biz-agent/internal/dispatch"
	"biz-agent/internal/logger"
	"biz-agent/internal/notify"
	"biz-agent/internal/store/pg"
)

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Bookkeeping agent command line",
	Long: `app runs bookkeeping actions against the ledger database without the
chat transport: apply migrations, execute structured actions, ask the intent
resolver, print reports and issue API tokens.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logger.DefaultConfig()
		cfg.Output = "stderr"
		if verbose {
			cfg.Level = "debug"
		}
		return logger.Setup(cfg)
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// stack is the ledger wiring shared by the commands.
type stack struct {
	cfg        *config.Config
	pool       *pgxpool.Pool
	store      *pg.Store
	ledger     *core.Ledger
	reports    core.ReportingService
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
}

func openStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	s := &stack{cfg: cfg, pool: pool, store: pg.New(pool)}
	clock := func() time.Time { return time.Now().In(cfg.Timezone) }
	s.ledger = core.NewLedger(s.store,
		core.WithClock(clock),
		core.WithMatcher(core.NewSimilarityMatcher(cfg.MatchThreshold)),
		core.WithLogger(logger.WithComponent("ledger")),
	)
	s.reports = core.NewReportingService(s.store, core.WithClock(clock))
	s.registry = dispatch.NewRegistry()
	dispatch.RegisterLedgerActions(s.registry, s.ledger, s.reports)
	s.dispatcher = dispatch.NewDispatcher(s.registry, s.store,
		dispatch.Config{LockTimeout: cfg.LockTimeout}, logger.WithComponent("dispatch"))
	return s, nil
}

func (s *stack) close() {
	s.pool.Close()
}

// service builds the application service with replies going to the log.
// The resolver is only contacted by commands that need it.
func (s *stack) service() (app.ApplicationService, error) {
	return s.serviceWith(notify.NewLogReplier(logger.WithComponent("replies")))
}

func (s *stack) serviceWith(replier app.Replier) (app.ApplicationService, error) {
	agent, err := ai.NewAgent(s.cfg.OpenAIAPIKey, s.cfg.OpenAIModel, s.registry.Catalog(), logger.WithComponent("agent"))
	if err != nil {
		return nil, err
	}
	agent.WithClock(func() time.Time { return time.Now().In(s.cfg.Timezone) })
	resolver := ai.NewAdapter(agent, s.registry, s.cfg.ResolverTimeout, logger.WithComponent("resolver"))
	return app.NewAppService(s.dispatcher, resolver, s.reports, s.store, replier,
		app.Config{
			ShopName:     s.cfg.ShopName,
			OwnerPhone:   s.cfg.OwnerPhone,
			Authorized:   s.cfg.AuthorizedSenders,
			ContextTurns: s.cfg.ContextTurns,
		}, logger.WithComponent("app")), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
