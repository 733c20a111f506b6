// Package repo defines the persistence port the scheduler depends on. Two
// concrete adapters implement it: a SQLite dialect (modernc.org/sqlite) for
// single-node deployments and a Postgres dialect (jackc/pgx/v5) for shared
// ones. Both share this interface so the scheduler core never imports a
// driver package directly.
package repo

import (
	"context"

	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/feed/parser"
)

// StateRow is the persisted shape of a feed's current link-state row.
type StateRow struct {
	State linkstate.State
}

// Repository is the persistence port (C4). Every write is idempotent at the
// row level via the documented conflict key; callers may safely retry a
// failed call.
type Repository interface {
	// Migrate applies the schema. Safe to call repeatedly.
	Migrate(ctx context.Context, zone string, defaultPollSeconds uint64) error

	// UpsertFeedsBulk upserts feeds (and, for watches, their watch_configs
	// row) by feed id, chunkSize rows per transaction.
	UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, watches []model.WatchConfig, chunkSize int, zone string) error

	// UpsertCategories is idempotent on category name.
	UpsertCategories(ctx context.Context, names []string, zone string) error

	// LatestState returns the current state row for feedID, nil if absent.
	LatestState(ctx context.Context, feedID string) (*linkstate.State, error)

	// DueFeedsForCategory selects feeds due for action: no state row yet, or
	// next_action_at_ms <= nowMs, excluding quarantined (error_feeds) ids.
	// Ordered ascending by next_action_at_ms, then by id.
	DueFeedsForCategory(ctx context.Context, category string, nowMs int64, limit int) ([]model.FeedConfig, error)

	// InsertState upserts feed_state_current by feed id. If recordHistory is
	// true, the new state is appended to feed_state_history first.
	InsertState(ctx context.Context, state linkstate.State, recordedAtMs int64, zone string, recordHistory bool) error

	// InsertEvent appends a fetch_events row.
	InsertEvent(ctx context.Context, feedID string, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string, zone string) error

	// InsertPayloadWithItems writes one feed_payloads row and its feed_items
	// rows in a single transaction.
	InsertPayloadWithItems(ctx context.Context, feedID string, fetchedAtMs int64, etag *string, lastModifiedMs *int64, contentHash string, parsed *parser.ParsedFeed, zone string) error

	// MarkFeedError upserts error_feeds by feed id.
	MarkFeedError(ctx context.Context, feedID string, errKind model.ErrorKind, status *int, errorCount uint32, observedAtMs int64, zone string) error

	// LatestCookieHeader returns the persisted Cookie header for feedID.
	LatestCookieHeader(ctx context.Context, feedID string) (header string, found bool, err error)

	// UpsertCookieHeader stores the merged Cookie header for feedID.
	UpsertCookieHeader(ctx context.Context, feedID string, header string, observedAtMs int64, zone string) error

	// PruneStateHistory deletes feed_state_history rows older than the
	// cutoff and returns the number removed. Housekeeping-only (A4); not on
	// the core tick path.
	PruneStateHistory(ctx context.Context, olderThanMs int64) (int64, error)

	// ListQuarantinedFeeds returns the ids currently present in error_feeds.
	// Housekeeping-only (A4), used to re-log the quarantine roster.
	ListQuarantinedFeeds(ctx context.Context) ([]string, error)

	// Close releases the underlying connection pool.
	Close() error
}
