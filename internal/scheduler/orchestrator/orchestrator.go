// Package orchestrator runs one long-lived loop per category (C9): a fixed
// 5s ticker drives the tick runner, with exponential retry backoff applied
// whenever a tick itself fails.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/sguzman/pulsewire-sub000/internal/scheduler/tick"
)

// TickInterval is the fixed interval between ticks for a category, absent a
// retry backoff in effect.
const TickInterval = 5 * time.Second

// maxRetryShift caps the exponential term of retryBackoff so the backoff
// itself saturates rather than overflowing.
const maxRetryShift = 5

// maxRetrySeconds is the ceiling retryBackoff ever returns.
const maxRetrySeconds = 60

// Orchestrator drives one category's tick loop.
type Orchestrator struct {
	Runner   *tick.Runner
	Category string
	Now      func() int64
}

// New builds an Orchestrator for category, using nowFn to produce the
// "current time in epoch milliseconds" each tick needs. nowFn is injected
// (rather than calling time.Now directly) so tests can run ticks against a
// fixed or stepped clock.
func New(runner *tick.Runner, category string, nowFn func() int64) *Orchestrator {
	return &Orchestrator{Runner: runner, Category: category, Now: nowFn}
}

// Run blocks, driving ticks for Category until ctx is cancelled. It never
// returns on a tick failure; only ctx cancellation ends the loop.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	var consecutiveErrors uint32

	slog.Info("orchestrator: started", slog.String("category", o.Category), slog.Duration("interval", TickInterval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator: stopped", slog.String("category", o.Category))
			return

		case <-ticker.C:
			if err := o.Runner.RunTick(ctx, o.Category, o.Now()); err != nil {
				consecutiveErrors++
				backoff := retryBackoff(consecutiveErrors)
				slog.Error("orchestrator: tick failed, backing off",
					slog.String("category", o.Category),
					slog.Any("error", err),
					slog.Uint64("consecutive_errors", uint64(consecutiveErrors)),
					slog.Duration("backoff", backoff))

				select {
				case <-ctx.Done():
					slog.Info("orchestrator: stopped", slog.String("category", o.Category))
					return
				case <-time.After(backoff):
				}
				continue
			}

			consecutiveErrors = 0
		}
	}
}

// retryBackoff implements min(2*2^min(errs,5), 60) seconds.
func retryBackoff(consecutiveErrors uint32) time.Duration {
	shift := consecutiveErrors
	if shift > maxRetryShift {
		shift = maxRetryShift
	}
	seconds := 2 << shift
	if seconds > maxRetrySeconds {
		seconds = maxRetrySeconds
	}
	return time.Duration(seconds) * time.Second
}
