// Package tick implements the tick runner (C8): one category's due-feed
// selection plus a bounded-parallelism dispatch of each due feed through the
// link-state decision and, if it decided to act, the action executor (C7).
package tick

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sguzman/pulsewire-sub000/internal/config"
	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/observability/metrics"
	"github.com/sguzman/pulsewire-sub000/internal/observability/tracing"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
	"github.com/sguzman/pulsewire-sub000/internal/scheduler/executor"
)

// DueBatchSize bounds how many feeds a single tick selects for one category.
const DueBatchSize = 1000

// defaultMaxConcurrent is the fallback bounded-parallelism width when the
// app config leaves GlobalMaxConcurrent unset.
const defaultMaxConcurrent = 64

// Runner drives one category's tick. WatchesByID supplies the watch-specific
// configuration for feed ids that are watches; ids absent from the map are
// treated as ordinary RSS/Atom feeds.
type Runner struct {
	Repo        repo.Repository
	Exec        *executor.Executor
	App         config.AppConfig
	WatchesByID map[string]*model.WatchConfig
}

// NewRunner builds a Runner.
func NewRunner(r repo.Repository, exec *executor.Executor, app config.AppConfig, watches []model.WatchConfig) *Runner {
	byID := make(map[string]*model.WatchConfig, len(watches))
	for i := range watches {
		byID[watches[i].ID] = &watches[i]
	}
	return &Runner{Repo: r, Exec: exec, App: app, WatchesByID: byID}
}

// RunTick runs one due-selection + dispatch pass for category. Only an
// error from due-selection itself (an infrastructure failure) is returned;
// every per-feed error is logged and swallowed so one bad feed never stops
// its siblings.
func (r *Runner) RunTick(ctx context.Context, category string, nowMs int64) error {
	ctx, span := tracing.GetTracer().Start(ctx, "scheduler.tick.run")
	defer span.End()

	runID := uuid.NewString()
	span.SetAttributes(attribute.String("tick.run_id", runID), attribute.String("tick.category", category))

	start := time.Now()

	due, err := r.Repo.DueFeedsForCategory(ctx, category, nowMs, DueBatchSize)
	if err != nil {
		return err
	}
	metrics.RecordTick(category, len(due))

	width := r.App.GlobalMaxConcurrent
	if width <= 0 {
		width = defaultMaxConcurrent
	}
	sem := make(chan struct{}, width)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, feed := range due {
		feed := feed
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return nil
			}
			defer func() { <-sem }()

			if err := r.runFeed(egCtx, feed, nowMs); err != nil {
				slog.Warn("tick: action failed for feed, continuing with siblings",
					slog.String("run_id", runID), slog.String("category", category),
					slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = eg.Wait()

	elapsed := time.Since(start)
	if r.App.LogTickWarnSeconds > 0 && elapsed > time.Duration(r.App.LogTickWarnSeconds)*time.Second {
		slog.Warn("tick: exceeded warn threshold",
			slog.String("run_id", runID), slog.String("category", category),
			slog.Duration("elapsed", elapsed), slog.Int("due_feeds", len(due)))
	}

	return nil
}

func (r *Runner) runFeed(ctx context.Context, feed model.FeedConfig, nowMs int64) error {
	stored, err := r.Repo.LatestState(ctx, feed.ID)
	if err != nil {
		return err
	}

	state := initialOrStored(stored, feed, r.App, nowMs)
	action := linkstate.DecideNextAction(state, nowMs)
	if action.Kind == linkstate.ActionSleepUntil {
		// The feed isn't due yet by its own state; due-selection will surface
		// it again once next_action_at passes.
		return nil
	}

	watch := r.WatchesByID[feed.ID]
	return r.Exec.Execute(ctx, feed, watch, action, nowMs)
}

func initialOrStored(stored *linkstate.State, feed model.FeedConfig, app config.AppConfig, nowMs int64) linkstate.State {
	if stored != nil {
		return *stored
	}
	return linkstate.Initial(feed.ID, feed.BasePollSeconds, app.MaxPollSeconds, app.JitterFraction, nowMs)
}
