// Command scheduler runs the adaptive feed/watch poller: one orchestrator
// goroutine per configured category, the A3 health/metrics server, and the
// A4 housekeeping cron worker, all sharing a single persistence connection.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sguzman/pulsewire-sub000/internal/concurrency"
	"github.com/sguzman/pulsewire-sub000/internal/config"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/infra/adapter/persistence/postgres"
	"github.com/sguzman/pulsewire-sub000/internal/infra/adapter/persistence/sqlite"
	"github.com/sguzman/pulsewire-sub000/internal/infra/headers"
	"github.com/sguzman/pulsewire-sub000/internal/infra/housekeeping"
	"github.com/sguzman/pulsewire-sub000/internal/infra/httpclient"
	"github.com/sguzman/pulsewire-sub000/internal/infra/server"
	"github.com/sguzman/pulsewire-sub000/internal/observability/logging"
	"github.com/sguzman/pulsewire-sub000/internal/ports/random"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
	"github.com/sguzman/pulsewire-sub000/internal/scheduler/executor"
	"github.com/sguzman/pulsewire-sub000/internal/scheduler/orchestrator"
	"github.com/sguzman/pulsewire-sub000/internal/scheduler/tick"
)

func main() {
	var (
		driver      = flag.String("driver", envOr("SCHEDULER_DRIVER", "sqlite"), "persistence driver: sqlite or postgres")
		dsn         = flag.String("dsn", envOr("SCHEDULER_DSN", "pulsewire-scheduler.db"), "sqlite file path or postgres DSN")
		appPath     = flag.String("config", envOr("SCHEDULER_APP_CONFIG", "config/app.yaml"), "app config YAML path")
		feedsPath   = flag.String("feeds", envOr("SCHEDULER_FEEDS_CONFIG", "config/feeds.yaml"), "feeds YAML path")
		watchesPath = flag.String("watches", envOr("SCHEDULER_WATCHES_CONFIG", "config/watches.yaml"), "watches YAML path")
		domainsPath = flag.String("domains", envOr("SCHEDULER_DOMAINS_CONFIG", "config/domains.yaml"), "domain-concurrency YAML path")
		healthAddr  = flag.String("health-addr", envOr("SCHEDULER_HEALTH_ADDR", ":8080"), "health/metrics server listen address")
	)
	flag.Parse()

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, fallbacks, err := config.LoadApp(*appPath)
	if err != nil {
		logger.Error("scheduler: fatal error loading app config", slog.Any("error", err))
		os.Exit(1)
	}
	for _, w := range fallbacks {
		logger.Warn("scheduler: config fallback applied", slog.String("field", w.Field), slog.String("message", w.Message))
	}

	feedEntries, err := config.LoadFeeds(*feedsPath)
	if err != nil {
		logger.Error("scheduler: fatal error loading feeds", slog.Any("error", err))
		os.Exit(1)
	}
	watchEntries, err := config.LoadWatches(*watchesPath)
	if err != nil {
		logger.Error("scheduler: fatal error loading watches", slog.Any("error", err))
		os.Exit(1)
	}
	if err := config.CheckIDCollisions(feedEntries, watchEntries); err != nil {
		logger.Error("scheduler: fatal error validating ids", slog.Any("error", err))
		os.Exit(1)
	}
	domainLimits, err := config.LoadDomainLimits(*domainsPath)
	if err != nil {
		logger.Error("scheduler: fatal error loading domain limits", slog.Any("error", err))
		os.Exit(1)
	}

	feeds := make([]model.FeedConfig, 0, len(feedEntries))
	categorySet := make(map[string]struct{})
	for _, e := range feedEntries {
		f, cerr := config.ToModelFeed(e, app)
		if cerr != nil {
			logger.Warn("scheduler: dropping feed with invalid url", slog.String("id", e.ID), slog.Any("error", cerr))
			continue
		}
		feeds = append(feeds, f)
		categorySet[f.Category] = struct{}{}
	}

	watches := make([]model.WatchConfig, 0, len(watchEntries))
	for _, e := range watchEntries {
		w, cerr := config.ToModelWatch(e, app)
		if cerr != nil {
			logger.Warn("scheduler: dropping watch with invalid url", slog.String("id", e.ID), slog.Any("error", cerr))
			continue
		}
		feeds = append(feeds, w.FeedConfig)
		watches = append(watches, w)
		categorySet[w.Category] = struct{}{}
	}

	categories := make([]string, 0, len(categorySet))
	for c := range categorySet {
		categories = append(categories, c)
	}

	perOrigin := make(map[string]concurrency.OriginLimits, len(domainLimits))
	for _, d := range domainLimits {
		perOrigin[strings.ToLower(d.Host)] = concurrency.OriginLimits{
			MaxConcurrent: d.MaxConcurrent,
			MinIntervalMs: d.MinIntervalMs,
		}
	}

	r, closeRepo := openRepository(logger, *driver, *dsn)
	defer closeRepo()

	if err := r.Migrate(ctx, app.Timezone, app.DefaultBasePollSeconds); err != nil {
		logger.Error("scheduler: fatal error running migrations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := r.UpsertCategories(ctx, categories, app.Timezone); err != nil {
		logger.Error("scheduler: fatal error upserting categories", slog.Any("error", err))
		os.Exit(1)
	}
	if err := r.UpsertFeedsBulk(ctx, feeds, watches, 200, app.Timezone); err != nil {
		logger.Error("scheduler: fatal error upserting feeds", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("scheduler: loaded configuration",
		slog.Int("feeds", len(feeds)), slog.Int("watches", len(watches)), slog.Int("categories", len(categories)))

	guards := concurrency.New(app.GlobalMaxConcurrent, perOrigin)
	httpClient := httpclient.New(app.UserAgent)
	hdrs := headers.New()
	rnd := random.NewMutexRand(time.Now().UnixNano())

	exec := executor.New(r, httpClient, guards, rnd, hdrs, app, app.Timezone)
	runner := tick.NewRunner(r, exec, app, watches)

	healthServer := server.New(*healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("scheduler: health server failed", slog.Any("error", err))
		}
	}()

	hk := housekeeping.New(r, app.HousekeepingRetention, nil)
	if err := hk.Start(app.HousekeepingSchedule); err != nil {
		logger.Error("scheduler: fatal error starting housekeeping", slog.Any("error", err))
		os.Exit(1)
	}
	defer hk.Stop()

	for _, category := range categories {
		o := orchestrator.New(runner, category, func() int64 { return time.Now().UnixMilli() })
		go o.Run(ctx)
		logger.Info("scheduler: orchestrator started", slog.String("category", category))
	}

	healthServer.SetReady(true)
	logger.Info("scheduler: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("scheduler: shutting down")
	cancel()
	time.Sleep(200 * time.Millisecond)
}

func openRepository(logger *slog.Logger, driver, dsn string) (repo.Repository, func()) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		r, err := postgres.Open(dsn)
		if err != nil {
			logger.Error("scheduler: fatal error opening postgres", slog.Any("error", err))
			os.Exit(1)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Error("scheduler: error closing postgres", slog.Any("error", err))
			}
		}
	case "sqlite", "":
		r, err := sqlite.Open(dsn)
		if err != nil {
			logger.Error("scheduler: fatal error opening sqlite", slog.Any("error", err))
			os.Exit(1)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Error("scheduler: error closing sqlite", slog.Any("error", err))
			}
		}
	default:
		logger.Error("scheduler: unknown driver", slog.String("driver", driver))
		os.Exit(1)
		return nil, nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
