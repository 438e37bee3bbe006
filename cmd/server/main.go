package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	webAdapter "biz-agent/internal/adapters/web"
	"biz-agent/internal/aggregator"
	"biz-agent/internal/ai"
	"biz-agent/internal/app"
	"biz-agent/internal/config"
	"biz-agent/internal/core"
	"biz-agent/internal/db"
	"biz-agent/internal/dispatch"
	"biz-agent/internal/logger"
	"biz-agent/internal/notify"
	"biz-agent/internal/obs"
	"biz-agent/internal/scheduler"
	"biz-agent/internal/store/pg"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logger.GetLogger()
		l.Fatal().Err(err).Msg("config")
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		l := logger.GetLogger()
		l.Fatal().Err(err).Msg("logger")
	}
	log := logger.WithComponent("server")
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger.WithComponent("migrate")); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	store := pg.New(pool)
	clock := func() time.Time { return time.Now().In(cfg.Timezone) }
	ledger := core.NewLedger(store,
		core.WithClock(clock),
		core.WithMatcher(core.NewSimilarityMatcher(cfg.MatchThreshold)),
		core.WithLogger(logger.WithComponent("ledger")),
	)
	reports := core.NewReportingService(store, core.WithClock(clock))

	registry := dispatch.NewRegistry()
	dispatch.RegisterLedgerActions(registry, ledger, reports)
	dispatcher := dispatch.NewDispatcher(registry, store, dispatch.Config{LockTimeout: cfg.LockTimeout},
		logger.WithComponent("dispatch"))

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set")
	}
	agent, err := ai.NewAgent(cfg.OpenAIAPIKey, cfg.OpenAIModel, registry.Catalog(), logger.WithComponent("agent"))
	if err != nil {
		log.Fatal().Err(err).Msg("agent")
	}
	agent.WithClock(clock)
	resolver := ai.NewAdapter(agent, registry, cfg.ResolverTimeout, logger.WithComponent("resolver"))

	var replier app.Replier
	if cfg.TwilioEnabled() {
		replier = notify.NewTwilioReplier(notify.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			WhatsAppNumber: cfg.TwilioWhatsAppNumber,
			SMSNumber:      cfg.TwilioSMSNumber,
		}, logger.WithComponent("twilio"))
	} else {
		log.Warn().Msg("Twilio is not configured, replies are only logged")
		replier = notify.NewLogReplier(logger.WithComponent("replies"))
	}

	svc := app.NewAppService(dispatcher, resolver, reports, store, replier, app.Config{
		ShopName:     cfg.ShopName,
		OwnerPhone:   cfg.OwnerPhone,
		Authorized:   cfg.AuthorizedSenders,
		ContextTurns: cfg.ContextTurns,
	}, logger.WithComponent("app"))

	agg := aggregator.New(
		aggregator.Config{Window: cfg.DebounceWindow},
		app.FlushHandler(svc, logger.WithComponent("pipeline")),
		aggregator.WithLogger(logger.WithComponent("aggregator")),
		aggregator.WithClock(clock),
	)

	sched, err := scheduler.New(svc, scheduler.Config{
		SummarySpec:  cfg.SummaryCron,
		ReminderSpec: cfg.ReminderCron,
		OverdueDays:  cfg.OverdueDays,
		Location:     cfg.Timezone,
	}, logger.WithComponent("scheduler"))
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	sched.Start()

	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: webAdapter.NewHandler(ctx, svc, agg, webAdapter.Config{
			JWTSecret:         cfg.JWTSecret,
			AllowedOrigins:    cfg.AllowedOrigins,
			InboundRatePerSec: cfg.InboundRatePerSec,
			InboundBurst:      cfg.InboundBurst,
		}, logger.WithComponent("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	shutdown(srv, agg, sched, log)
}

// shutdown stops intake first, then flushes open buffers so no fragment
// already acknowledged is lost, then waits for scheduled jobs.
func shutdown(srv *http.Server, agg *aggregator.Aggregator, sched *scheduler.Scheduler, log zerolog.Logger) {
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := agg.Drain(ctx); err != nil {
		log.Error().Err(err).Int("pending", agg.Pending()).Msg("aggregator drain incomplete")
	}
	if err := sched.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler stop")
	}
	log.Info().Msg("stopped")
}
