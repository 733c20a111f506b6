// Package sqlite is the embedded-database dialect of the persistence port
// (C4), for single-node deployments. It stores timestamps as epoch
// milliseconds, matching the in-memory representation the scheduler core
// already uses, so no conversion happens at the port boundary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/feed/parser"
	"github.com/sguzman/pulsewire-sub000/internal/infra/adapter/persistence/rowcodec"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
)

// Repo is the sqlite-backed implementation of repo.Repository.
type Repo struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and returns a
// ready Repo. Callers must call Migrate before using it against a fresh
// file.
func Open(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY
	return &Repo{db: db}, nil
}

var _ repo.Repository = (*Repo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feeds (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	base_poll_seconds INTEGER NOT NULL,
	kind TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	cookie_jar_path TEXT NOT NULL DEFAULT '',
	extra_header_path TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feeds_category ON feeds(category);

CREATE TABLE IF NOT EXISTS watch_configs (
	feed_id TEXT PRIMARY KEY REFERENCES feeds(id),
	check_method TEXT NOT NULL,
	fallback_to_get INTEGER NOT NULL,
	detectors TEXT NOT NULL,
	fetch_body_on_change INTEGER NOT NULL,
	item_selector TEXT NOT NULL DEFAULT '',
	title_selector TEXT NOT NULL DEFAULT '',
	link_selector TEXT NOT NULL DEFAULT '',
	summary_selector TEXT NOT NULL DEFAULT '',
	published_selector TEXT NOT NULL DEFAULT '',
	include_selector TEXT NOT NULL DEFAULT '',
	exclude_selector TEXT NOT NULL DEFAULT '',
	item_identity TEXT NOT NULL,
	emit_mode TEXT NOT NULL,
	emit_title TEXT NOT NULL DEFAULT '',
	body_cap_bytes INTEGER NOT NULL DEFAULT 0,
	item_cap INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feed_state_current (
	feed_id TEXT PRIMARY KEY,
	phase TEXT NOT NULL,
	last_head_at INTEGER,
	last_head_status INTEGER,
	last_head_error TEXT NOT NULL,
	last_get_at INTEGER,
	last_get_status INTEGER,
	last_get_error TEXT NOT NULL,
	etag TEXT,
	last_modified INTEGER,
	backoff_index INTEGER NOT NULL,
	base_poll_seconds INTEGER NOT NULL,
	max_poll_seconds INTEGER NOT NULL,
	jitter_fraction REAL NOT NULL,
	next_action_at INTEGER NOT NULL,
	jitter_seconds INTEGER NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	consecutive_error_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_next_action ON feed_state_current(next_action_at);

CREATE TABLE IF NOT EXISTS feed_state_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	phase TEXT NOT NULL,
	last_head_at INTEGER,
	last_head_status INTEGER,
	last_head_error TEXT NOT NULL,
	last_get_at INTEGER,
	last_get_status INTEGER,
	last_get_error TEXT NOT NULL,
	etag TEXT,
	last_modified INTEGER,
	backoff_index INTEGER NOT NULL,
	next_action_at INTEGER NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	consecutive_error_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_feed ON feed_state_history(feed_id, recorded_at);

CREATE TABLE IF NOT EXISTS fetch_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id TEXT NOT NULL,
	event_time INTEGER NOT NULL,
	method TEXT NOT NULL,
	status INTEGER,
	error_kind TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	backoff_index INTEGER NOT NULL,
	scheduled_next_action_at INTEGER NOT NULL,
	debug TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_feed ON fetch_events(feed_id, event_time);

CREATE TABLE IF NOT EXISTS feed_payloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	etag TEXT,
	last_modified INTEGER,
	content_hash TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	updated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_payloads_feed ON feed_payloads(feed_id, fetched_at);

CREATE TABLE IF NOT EXISTS feed_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload_id INTEGER NOT NULL REFERENCES feed_payloads(id),
	feed_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	guid TEXT NOT NULL DEFAULT '',
	published_at INTEGER,
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_items_payload ON feed_items(payload_id);

CREATE TABLE IF NOT EXISTS error_feeds (
	feed_id TEXT PRIMARY KEY,
	error_count INTEGER NOT NULL,
	last_error_kind TEXT NOT NULL,
	last_error_status INTEGER,
	last_error_at INTEGER NOT NULL,
	note TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS source_cookies (
	feed_id TEXT PRIMARY KEY,
	cookie_header TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Migrate applies the schema; it is pure DDL and safe to call repeatedly.
func (r *Repo) Migrate(ctx context.Context, zone string, defaultPollSeconds uint64) error {
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

func (r *Repo) UpsertCategories(ctx context.Context, names []string, zone string) error {
	nowMs := time.Now().UnixMilli()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertCategories: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO categories (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, q, name, nowMs); err != nil {
			return fmt.Errorf("UpsertCategories: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repo) UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, watches []model.WatchConfig, chunkSize int, zone string) error {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	nowMs := time.Now().UnixMilli()

	const feedQ = `INSERT INTO feeds (id, url, domain, category, base_poll_seconds, kind, language, content_type, tags, cookie_jar_path, extra_header_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url, domain = excluded.domain, category = excluded.category,
			base_poll_seconds = excluded.base_poll_seconds, kind = excluded.kind,
			language = excluded.language, content_type = excluded.content_type, tags = excluded.tags,
			cookie_jar_path = excluded.cookie_jar_path, extra_header_path = excluded.extra_header_path`

	const watchQ = `INSERT INTO watch_configs (feed_id, check_method, fallback_to_get, detectors, fetch_body_on_change,
			item_selector, title_selector, link_selector, summary_selector, published_selector, include_selector,
			exclude_selector, item_identity, emit_mode, emit_title, body_cap_bytes, item_cap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET
			check_method = excluded.check_method, fallback_to_get = excluded.fallback_to_get,
			detectors = excluded.detectors, fetch_body_on_change = excluded.fetch_body_on_change,
			item_selector = excluded.item_selector, title_selector = excluded.title_selector,
			link_selector = excluded.link_selector, summary_selector = excluded.summary_selector,
			published_selector = excluded.published_selector, include_selector = excluded.include_selector,
			exclude_selector = excluded.exclude_selector, item_identity = excluded.item_identity,
			emit_mode = excluded.emit_mode, emit_title = excluded.emit_title,
			body_cap_bytes = excluded.body_cap_bytes, item_cap = excluded.item_cap`

	watchByID := make(map[string]*model.WatchConfig, len(watches))
	for i := range watches {
		watchByID[watches[i].ID] = &watches[i]
	}

	apply := func(batch []model.FeedConfig) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("UpsertFeedsBulk: begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, f := range batch {
			kind := rowcodec.FeedKindFeed
			if _, isWatch := watchByID[f.ID]; isWatch {
				kind = rowcodec.FeedKindWatch
			}
			if _, err := tx.ExecContext(ctx, feedQ, f.ID, f.URL, f.Domain, f.Category, f.BasePollSeconds, kind,
				f.Language, f.ContentType, rowcodec.TagsToString(f.Tags), f.CookieJarPath, f.ExtraHeaderPath, nowMs); err != nil {
				return fmt.Errorf("UpsertFeedsBulk: feed %s: %w", f.ID, err)
			}
			if w, isWatch := watchByID[f.ID]; isWatch {
				if _, err := tx.ExecContext(ctx, watchQ, w.ID, rowcodec.CheckMethodString(w.CheckMethod), w.FallbackToGet,
					rowcodec.DetectorsToString(w.Detectors), w.FetchBodyOnChange, w.ItemSelector, w.TitleSelector,
					w.LinkSelector, w.SummarySelector, w.PublishedSelector, w.IncludeSelector, w.ExcludeSelector,
					rowcodec.ItemIdentityString(w.ItemIdentity), rowcodec.EmitModeString(w.EmitMode), w.EmitTitle,
					w.BodyCapBytes, w.ItemCap); err != nil {
					return fmt.Errorf("UpsertFeedsBulk: watch %s: %w", w.ID, err)
				}
			}
		}
		return tx.Commit()
	}

	for start := 0; start < len(feeds); start += chunkSize {
		end := start + chunkSize
		if end > len(feeds) {
			end = len(feeds)
		}
		if err := apply(feeds[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) LatestState(ctx context.Context, feedID string) (*linkstate.State, error) {
	const q = `SELECT phase, last_head_at, last_head_status, last_head_error, last_get_at, last_get_status,
		last_get_error, etag, last_modified, backoff_index, base_poll_seconds, max_poll_seconds, jitter_fraction,
		next_action_at, jitter_seconds, note, consecutive_error_count
		FROM feed_state_current WHERE feed_id = ?`

	var (
		phase, headErr, getErr, note string
		lastHeadAt, lastGetAt, lastModified, backoffIndex, basePoll, maxPoll, nextAction, jitterSeconds, consecutiveErrors sql.NullInt64
		lastHeadStatus, lastGetStatus                                                                                    sql.NullInt64
		etag                                                                                                             sql.NullString
		jitterFraction                                                                                                   sql.NullFloat64
	)
	row := r.db.QueryRowContext(ctx, q, feedID)
	err := row.Scan(&phase, &lastHeadAt, &lastHeadStatus, &headErr, &lastGetAt, &lastGetStatus, &getErr, &etag,
		&lastModified, &backoffIndex, &basePoll, &maxPoll, &jitterFraction, &nextAction, &jitterSeconds, &note, &consecutiveErrors)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestState: %w", err)
	}

	state := linkstate.State{
		FeedID:                feedID,
		Phase:                 rowcodec.PhaseFromString(phase),
		LastHeadError:         rowcodec.ErrorKindFromString(headErr),
		LastGetError:          rowcodec.ErrorKindFromString(getErr),
		BackoffIndex:          uint32(backoffIndex.Int64),
		BasePollSeconds:       uint64(basePoll.Int64),
		MaxPollSeconds:        uint64(maxPoll.Int64),
		JitterFraction:        jitterFraction.Float64,
		NextActionAtMs:        nextAction.Int64,
		JitterSeconds:         jitterSeconds.Int64,
		Note:                  note,
		ConsecutiveErrorCount: uint32(consecutiveErrors.Int64),
	}
	if lastHeadAt.Valid {
		v := lastHeadAt.Int64
		state.LastHeadAtMs = &v
	}
	if lastHeadStatus.Valid {
		v := int(lastHeadStatus.Int64)
		state.LastHeadStatus = &v
	}
	if lastGetAt.Valid {
		v := lastGetAt.Int64
		state.LastGetAtMs = &v
	}
	if lastGetStatus.Valid {
		v := int(lastGetStatus.Int64)
		state.LastGetStatus = &v
	}
	if etag.Valid {
		v := etag.String
		state.Etag = &v
	}
	if lastModified.Valid {
		v := lastModified.Int64
		state.LastModifiedMs = &v
	}
	return &state, nil
}

func (r *Repo) DueFeedsForCategory(ctx context.Context, category string, nowMs int64, limit int) ([]model.FeedConfig, error) {
	const q = `SELECT f.id, f.url, f.domain, f.category, f.base_poll_seconds, f.language, f.content_type, f.tags,
			f.cookie_jar_path, f.extra_header_path
		FROM feeds f
		LEFT JOIN feed_state_current s ON s.feed_id = f.id
		LEFT JOIN error_feeds e ON e.feed_id = f.id
		WHERE f.category = ? AND e.feed_id IS NULL AND (s.feed_id IS NULL OR s.next_action_at <= ?)
		ORDER BY COALESCE(s.next_action_at, 0) ASC, f.id ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, q, category, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("DueFeedsForCategory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FeedConfig
	for rows.Next() {
		var f model.FeedConfig
		var tags string
		if err := rows.Scan(&f.ID, &f.URL, &f.Domain, &f.Category, &f.BasePollSeconds, &f.Language, &f.ContentType,
			&tags, &f.CookieJarPath, &f.ExtraHeaderPath); err != nil {
			return nil, fmt.Errorf("DueFeedsForCategory: scan: %w", err)
		}
		f.Tags = rowcodec.TagsFromString(tags)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repo) InsertState(ctx context.Context, state linkstate.State, recordedAtMs int64, zone string, recordHistory bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertState: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if recordHistory {
		const histQ = `INSERT INTO feed_state_history (feed_id, recorded_at, phase, last_head_at, last_head_status,
				last_head_error, last_get_at, last_get_status, last_get_error, etag, last_modified, backoff_index,
				next_action_at, note, consecutive_error_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, histQ, state.FeedID, recordedAtMs, state.Phase.String(), state.LastHeadAtMs,
			state.LastHeadStatus, state.LastHeadError.String(), state.LastGetAtMs, state.LastGetStatus,
			state.LastGetError.String(), state.Etag, state.LastModifiedMs, state.BackoffIndex, state.NextActionAtMs,
			state.Note, state.ConsecutiveErrorCount); err != nil {
			return fmt.Errorf("InsertState: history: %w", err)
		}
	}

	const q = `INSERT INTO feed_state_current (feed_id, phase, last_head_at, last_head_status, last_head_error,
			last_get_at, last_get_status, last_get_error, etag, last_modified, backoff_index, base_poll_seconds,
			max_poll_seconds, jitter_fraction, next_action_at, jitter_seconds, note, consecutive_error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET
			phase = excluded.phase, last_head_at = excluded.last_head_at, last_head_status = excluded.last_head_status,
			last_head_error = excluded.last_head_error, last_get_at = excluded.last_get_at,
			last_get_status = excluded.last_get_status, last_get_error = excluded.last_get_error,
			etag = excluded.etag, last_modified = excluded.last_modified, backoff_index = excluded.backoff_index,
			base_poll_seconds = excluded.base_poll_seconds, max_poll_seconds = excluded.max_poll_seconds,
			jitter_fraction = excluded.jitter_fraction, next_action_at = excluded.next_action_at,
			jitter_seconds = excluded.jitter_seconds, note = excluded.note,
			consecutive_error_count = excluded.consecutive_error_count`

	if _, err := tx.ExecContext(ctx, q, state.FeedID, state.Phase.String(), state.LastHeadAtMs, state.LastHeadStatus,
		state.LastHeadError.String(), state.LastGetAtMs, state.LastGetStatus, state.LastGetError.String(), state.Etag,
		state.LastModifiedMs, state.BackoffIndex, state.BasePollSeconds, state.MaxPollSeconds, state.JitterFraction,
		state.NextActionAtMs, state.JitterSeconds, state.Note, state.ConsecutiveErrorCount); err != nil {
		return fmt.Errorf("InsertState: %w", err)
	}
	return tx.Commit()
}

func (r *Repo) InsertEvent(ctx context.Context, feedID string, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string, zone string) error {
	const q = `INSERT INTO fetch_events (feed_id, event_time, method, status, error_kind, latency_ms, backoff_index,
			scheduled_next_action_at, debug)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, feedID, time.Now().UnixMilli(), method, status, errKind.String(), latencyMs,
		backoffIndex, scheduledNextActionAtMs, note)
	if err != nil {
		return fmt.Errorf("InsertEvent: %w", err)
	}
	return nil
}

func (r *Repo) InsertPayloadWithItems(ctx context.Context, feedID string, fetchedAtMs int64, etag *string, lastModifiedMs *int64, contentHash string, parsed *parser.ParsedFeed, zone string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertPayloadWithItems: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const payloadQ = `INSERT INTO feed_payloads (feed_id, fetched_at, etag, last_modified, content_hash, title, link,
			description, language, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var updatedAt *int64
	if parsed.UpdatedAtMs != 0 {
		updatedAt = &parsed.UpdatedAtMs
	}
	res, err := tx.ExecContext(ctx, payloadQ, feedID, fetchedAtMs, etag, lastModifiedMs, contentHash, parsed.Title,
		parsed.Link, parsed.Description, parsed.Language, updatedAt)
	if err != nil {
		return fmt.Errorf("InsertPayloadWithItems: payload: %w", err)
	}
	payloadID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("InsertPayloadWithItems: LastInsertId: %w", err)
	}

	const itemQ = `INSERT INTO feed_items (payload_id, feed_id, title, link, guid, published_at, category, description, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, item := range parsed.Items {
		var publishedAt *int64
		if item.PublishedAtMs != 0 {
			publishedAt = &item.PublishedAtMs
		}
		if _, err := tx.ExecContext(ctx, itemQ, payloadID, feedID, item.Title, item.Link, item.GUID, publishedAt,
			item.Category, item.Description, item.Summary); err != nil {
			return fmt.Errorf("InsertPayloadWithItems: item: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repo) MarkFeedError(ctx context.Context, feedID string, errKind model.ErrorKind, status *int, errorCount uint32, observedAtMs int64, zone string) error {
	const q = `INSERT INTO error_feeds (feed_id, error_count, last_error_kind, last_error_status, last_error_at, note)
		VALUES (?, ?, ?, ?, ?, 'max-consecutive-errors')
		ON CONFLICT(feed_id) DO UPDATE SET
			error_count = excluded.error_count, last_error_kind = excluded.last_error_kind,
			last_error_status = excluded.last_error_status, last_error_at = excluded.last_error_at,
			note = excluded.note`
	_, err := r.db.ExecContext(ctx, q, feedID, errorCount, errKind.String(), status, observedAtMs)
	if err != nil {
		return fmt.Errorf("MarkFeedError: %w", err)
	}
	return nil
}

func (r *Repo) LatestCookieHeader(ctx context.Context, feedID string) (string, bool, error) {
	const q = `SELECT cookie_header FROM source_cookies WHERE feed_id = ?`
	var header string
	err := r.db.QueryRowContext(ctx, q, feedID).Scan(&header)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("LatestCookieHeader: %w", err)
	}
	return header, true, nil
}

func (r *Repo) UpsertCookieHeader(ctx context.Context, feedID string, header string, observedAtMs int64, zone string) error {
	const q = `INSERT INTO source_cookies (feed_id, cookie_header, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET cookie_header = excluded.cookie_header, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, q, feedID, header, observedAtMs)
	if err != nil {
		return fmt.Errorf("UpsertCookieHeader: %w", err)
	}
	return nil
}

func (r *Repo) PruneStateHistory(ctx context.Context, olderThanMs int64) (int64, error) {
	const q = `DELETE FROM feed_state_history WHERE recorded_at < ?`
	res, err := r.db.ExecContext(ctx, q, olderThanMs)
	if err != nil {
		return 0, fmt.Errorf("PruneStateHistory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PruneStateHistory: RowsAffected: %w", err)
	}
	return n, nil
}

func (r *Repo) ListQuarantinedFeeds(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT feed_id FROM error_feeds ORDER BY feed_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListQuarantinedFeeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListQuarantinedFeeds: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) Close() error {
	return r.db.Close()
}
