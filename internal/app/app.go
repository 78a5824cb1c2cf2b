// Package app initializes and holds the long-lived services of the monitor,
// acting as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/clock/system"
	"github.com/Alexzz96/nga-monitor/internal/config"
	"github.com/Alexzz96/nga-monitor/internal/crawler"
	"github.com/Alexzz96/nga-monitor/internal/logging"
	"github.com/Alexzz96/nga-monitor/internal/metrics"
	"github.com/Alexzz96/nga-monitor/internal/monitor"
	"github.com/Alexzz96/nga-monitor/internal/notify"
	"github.com/Alexzz96/nga-monitor/internal/progress"
	"github.com/Alexzz96/nga-monitor/internal/progress/sinks"
	"github.com/Alexzz96/nga-monitor/internal/ratelimit"
	"github.com/Alexzz96/nga-monitor/internal/schedule"
	"github.com/Alexzz96/nga-monitor/internal/session"
	"github.com/Alexzz96/nga-monitor/internal/store/postgres"
)

// App holds the shared, long-lived services of the monitor. It is built once
// at startup and torn down in Close, in reverse dependency order.
type App struct {
	Cfg          config.Config
	Logger       *zap.Logger
	DB           *pgxpool.Pool
	Pool         *session.Pool
	Crawler      *crawler.Crawler
	Limiter      *ratelimit.Limiter
	Hub          *progress.Hub
	Orchestrator *monitor.Orchestrator
	Resolver     *schedule.Resolver
	Targets      *postgres.TargetStore
	Tasks        *postgres.TaskStore
	Clock        *system.Clock

	dbCore *logging.DatabaseCore
}

// New builds the full service graph from configuration. It fails fast: any
// service that cannot come up aborts startup. ctx doubles as the process
// lifetime: canceling it stops in-flight background backfills.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	targets := postgres.NewTargetStore(db)
	sent := postgres.NewSentStore(db)
	archive := postgres.NewArchiveStore(db)
	tasks := postgres.NewTaskStore(db)
	rules := postgres.NewRuleStore(db)
	summaries := postgres.NewSummaryStore(db)

	var dbCore *logging.DatabaseCore
	if cfg.Logging.Persist {
		dbCore = logging.NewDatabaseCore(postgres.NewLogStore(db), logging.CoreConfig{})
		logger = logging.WithDatabase(logger, dbCore)
	}

	clk := system.New()

	pool := session.NewPool(session.NewChromeEngine(session.ChromeConfig{}), logger)
	crawl := crawler.New(pool, crawler.Config{
		AuthStatePath:    cfg.Crawler.AuthStatePath,
		NavTimeout:       cfg.Crawler.NavTimeout(),
		SettleDelay:      time.Duration(cfg.Crawler.SettleDelayMs) * time.Millisecond,
		PageDelay:        time.Duration(cfg.Crawler.PageDelayMs) * time.Millisecond,
		RateLimitBackoff: time.Duration(cfg.Crawler.RateLimitBackoffMs) * time.Millisecond,
		CorrectTimes:     cfg.Crawler.CorrectTimes,
	}, logger)

	limiter := ratelimit.New("discord", ratelimit.Config{
		RequestsPerSecond: cfg.Discord.RequestsPerSecond,
		RequestsPerMinute: cfg.Discord.RequestsPerMinute,
		BurstSize:         cfg.Discord.BurstSize,
	}, clk, logger)

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register backfill metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewTaskSink(tasks, logger),
		promSink,
	)

	orch := monitor.New(
		monitor.Config{SendTimeout: cfg.Discord.SendTimeout(), BaseContext: ctx},
		monitor.Stores{Targets: targets, Sent: sent, Archive: archive, Tasks: tasks},
		crawl,
		notify.NewSender(cfg.Discord.WebhookURL, logger),
		limiter,
		hub,
		clk,
		logger,
	)

	resolver := schedule.New(rules, summaries, clk, logger)

	return &App{
		Cfg:          cfg,
		Logger:       logger,
		DB:           db,
		Pool:         pool,
		Crawler:      crawl,
		Limiter:      limiter,
		Hub:          hub,
		Orchestrator: orch,
		Resolver:     resolver,
		Targets:      targets,
		Tasks:        tasks,
		Clock:        clk,
		dbCore:       dbCore,
	}, nil
}

// Close tears down services in reverse dependency order. The hub drains
// before the task store's pool goes away; the database core flushes before
// the logger syncs.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub did not drain cleanly", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Shutdown()
	}
	if a.dbCore != nil {
		a.dbCore.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logger.Sync()
}
