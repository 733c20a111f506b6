// Package housekeeping runs the scheduler's auxiliary cron-scheduled job
// (A4): pruning old feed_state_history rows and re-logging the current
// quarantine roster. It is deliberately separate from the per-category
// orchestrator (C9), which never does housekeeping work on its hot path.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
)

// Worker runs the housekeeping job on a cron schedule.
type Worker struct {
	Repo             repo.Repository
	HistoryRetention time.Duration
	cron             *cron.Cron
}

// New builds a Worker. historyRetention bounds how far back
// feed_state_history rows are kept; anything older is pruned each run.
func New(r repo.Repository, historyRetention time.Duration, loc *time.Location) *Worker {
	if loc == nil {
		loc = time.UTC
	}
	return &Worker{Repo: r, HistoryRetention: historyRetention, cron: cron.New(cron.WithLocation(loc))}
}

// Start registers the job on schedule (standard 5-field cron syntax) and
// starts the underlying cron scheduler. It does not block.
func (w *Worker) Start(schedule string) error {
	_, err := w.cron.AddFunc(schedule, func() {
		w.runOnce(context.Background())
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop blocks until any in-flight run completes, then stops the scheduler.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-w.HistoryRetention).UnixMilli()

	removed, err := w.Repo.PruneStateHistory(ctx, cutoff)
	if err != nil {
		slog.Error("housekeeping: prune failed", slog.Any("error", err))
	} else {
		slog.Info("housekeeping: pruned state history", slog.Int64("rows_removed", removed), slog.Duration("elapsed", time.Since(start)))
	}

	quarantined, err := w.Repo.ListQuarantinedFeeds(ctx)
	if err != nil {
		slog.Error("housekeeping: list quarantined feeds failed", slog.Any("error", err))
		return
	}
	slog.Info("housekeeping: quarantine roster", slog.Int("count", len(quarantined)), slog.Any("feed_ids", quarantined))
}
