// Package executor implements the action executor (C7): given a feed and a
// decided HEAD/GET action, it performs the I/O, folds the result through
// the link-state machine, and writes event/payload/state/quarantine rows in
// the prescribed order: event -> payload (GET only) -> state -> quarantine.
package executor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sguzman/pulsewire-sub000/internal/concurrency"
	"github.com/sguzman/pulsewire-sub000/internal/config"
	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/feed/parser"
	"github.com/sguzman/pulsewire-sub000/internal/infra/headers"
	"github.com/sguzman/pulsewire-sub000/internal/observability/metrics"
	"github.com/sguzman/pulsewire-sub000/internal/observability/tracing"
	"github.com/sguzman/pulsewire-sub000/internal/ports/porthttp"
	"github.com/sguzman/pulsewire-sub000/internal/ports/random"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
)

// Executor wires together the ports C7 depends on: persistence, HTTP,
// concurrency guards, and the randomness source driving jitter and history
// sampling.
type Executor struct {
	Repo    repo.Repository
	HTTP    porthttp.Client
	Guards  *concurrency.Guards
	Rand    random.Source
	Headers *headers.Provider
	App     config.AppConfig
	Zone    string
}

// New builds an Executor from its ports.
func New(r repo.Repository, h porthttp.Client, g *concurrency.Guards, rnd random.Source, hdrs *headers.Provider, app config.AppConfig, zone string) *Executor {
	return &Executor{Repo: r, HTTP: h, Guards: g, Rand: rnd, Headers: hdrs, App: app, Zone: zone}
}

// Execute dispatches a decided action. A SleepUntil action is a no-op here;
// the tick runner (C8) never hands one to Execute, but guarding is cheap.
func (e *Executor) Execute(ctx context.Context, feed model.FeedConfig, watch *model.WatchConfig, action linkstate.NextAction, nowMs int64) error {
	switch action.Kind {
	case linkstate.ActionDoHead:
		return e.doHead(ctx, feed, watch, action.State, nowMs)
	case linkstate.ActionDoGet:
		return e.doGet(ctx, feed, watch, action.State, nowMs)
	default:
		return nil
	}
}

func (e *Executor) extraHeadersFor(feed model.FeedConfig) map[string]string {
	if e.Headers == nil {
		return nil
	}
	return e.Headers.Load(feed.ExtraHeaderPath)
}

func (e *Executor) cookieHeaderFor(ctx context.Context, feed model.FeedConfig) string {
	stored, found, err := e.Repo.LatestCookieHeader(ctx, feed.ID)
	if err != nil {
		slog.Warn("executor: could not load stored cookie header", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
	}
	if found && stored != "" {
		return stored
	}
	if e.Headers != nil {
		return e.Headers.CookieHeader(feed.CookieJarPath)
	}
	return ""
}

func (e *Executor) doHead(ctx context.Context, feed model.FeedConfig, watch *model.WatchConfig, state linkstate.State, nowMs int64) error {
	ctx, span := tracing.GetTracer().Start(ctx, "scheduler.executor.head")
	defer span.End()

	release, err := e.Guards.Acquire(ctx, feed.Domain)
	if err != nil {
		return err
	}
	defer release()

	done := metrics.InflightActionStarted()
	cookieHeader := e.cookieHeaderFor(ctx, feed)
	res, httpErr := e.HTTP.Head(ctx, feed.URL, cookieHeader, e.extraHeadersFor(feed))
	done()
	if httpErr != nil && res.Error == model.ErrorKindNone {
		res.Error = model.ErrorKindUnexpected
	}
	metrics.RecordHTTPOutcome("head", feed.Domain, statusOrZero(res.Status), time.Duration(res.LatencyMs)*time.Millisecond)

	rand01 := e.Rand.NextFloat64()
	updated := linkstate.ApplyHeadResult(state, res, nowMs, rand01)
	metrics.RecordAction("head", outcomeOf(res.Error))

	// Bookkeeping writes must survive a cancelled parent context so a
	// shutting-down process still finishes persisting this action's outcome.
	ctx = context.WithoutCancel(ctx)

	if err := e.timedInsertEvent(ctx, feed.ID, "HEAD", res.Status, res.Error, res.LatencyMs, updated.BackoffIndex, updated.NextActionAtMs, updated.Note); err != nil {
		slog.Error("executor: insert_event failed, aborting remaining writes", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		return err
	}

	e.persistCookies(ctx, feed.ID, cookieHeader, res.SetCookieHeaders, nowMs)

	recordHistory := shouldRecordHistory(e.App.StateHistorySampleRate, e.Rand)
	if err := e.timedInsertState(ctx, updated, nowMs, recordHistory); err != nil {
		slog.Error("executor: insert_state failed", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		return err
	}

	return e.maybeMarkFeedError(ctx, feed.ID, res.Error, res.Status, updated.ConsecutiveErrorCount, nowMs)
}

func (e *Executor) doGet(ctx context.Context, feed model.FeedConfig, watch *model.WatchConfig, state linkstate.State, nowMs int64) error {
	ctx, span := tracing.GetTracer().Start(ctx, "scheduler.executor.get")
	defer span.End()

	release, err := e.Guards.Acquire(ctx, feed.Domain)
	if err != nil {
		return err
	}
	defer release()

	done := metrics.InflightActionStarted()
	cookieHeader := e.cookieHeaderFor(ctx, feed)
	res, httpErr := e.HTTP.Get(ctx, feed.URL, cookieHeader, e.extraHeadersFor(feed))
	done()
	if httpErr != nil && res.Error == model.ErrorKindNone {
		res.Error = model.ErrorKindUnexpected
	}
	metrics.RecordHTTPOutcome("get", feed.Domain, statusOrZero(res.Status), time.Duration(res.LatencyMs)*time.Millisecond)

	contentHash := ""
	if len(res.Body) > 0 {
		contentHash = parser.ContentHash(res.Body)
	}
	bodyChanged := computeBodyChanged(watch, state, res, contentHash)

	rand01 := e.Rand.NextFloat64()
	updated := linkstate.ApplyGetResult(state, res, nowMs, bodyChanged, rand01)
	metrics.RecordAction("get", outcomeOf(res.Error))

	ctx = context.WithoutCancel(ctx)

	if err := e.timedInsertEvent(ctx, feed.ID, "GET", res.Status, res.Error, res.LatencyMs, updated.BackoffIndex, updated.NextActionAtMs, updated.Note); err != nil {
		slog.Error("executor: insert_event failed, aborting remaining writes", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		return err
	}

	if res.Error == model.ErrorKindNone && len(res.Body) > 0 {
		e.persistPayload(ctx, feed, watch, res, nowMs, contentHash, bodyChanged)
	}

	e.persistCookies(ctx, feed.ID, cookieHeader, res.SetCookieHeaders, nowMs)

	recordHistory := shouldRecordHistory(e.App.StateHistorySampleRate, e.Rand)
	if err := e.timedInsertState(ctx, updated, nowMs, recordHistory); err != nil {
		slog.Error("executor: insert_state failed", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		return err
	}

	return e.maybeMarkFeedError(ctx, feed.ID, res.Error, res.Status, updated.ConsecutiveErrorCount, nowMs)
}

func (e *Executor) persistPayload(ctx context.Context, feed model.FeedConfig, watch *model.WatchConfig, res model.GetResult, nowMs int64, contentHash string, bodyChanged bool) {
	if watch != nil {
		e.persistWatchPayload(ctx, feed, watch, res, nowMs, contentHash, bodyChanged)
		return
	}

	parsed, parseErr := parser.Parse(res.Body)
	if parseErr != nil || parsed == nil {
		slog.Warn("executor: body did not parse as a feed, skipping payload",
			slog.String("feed_id", feed.ID), slog.String("error", parseErrString(parseErr)))
		return
	}
	if err := e.Repo.InsertPayloadWithItems(ctx, feed.ID, nowMs, res.Etag, res.LastModifiedMs, contentHash, parsed, e.Zone); err != nil {
		slog.Error("executor: insert_payload_with_items failed", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
	}
}

// persistWatchPayload emits the selector-extracted item set when the watch's
// CSS selectors found at least one item; otherwise, when the detectors
// judged the body changed, it falls back to a single synthetic item so a
// confirmed change is never silently dropped just because the page isn't
// structured the way the selectors expect.
func (e *Executor) persistWatchPayload(ctx context.Context, feed model.FeedConfig, watch *model.WatchConfig, res model.GetResult, nowMs int64, contentHash string, bodyChanged bool) {
	parsed, parseErr := parser.ParseWatchHTML(res.Body, feed.URL, watch)
	if parseErr == nil && parsed != nil && len(parsed.Items) > 0 {
		if err := e.Repo.InsertPayloadWithItems(ctx, feed.ID, nowMs, res.Etag, res.LastModifiedMs, contentHash, parsed, e.Zone); err != nil {
			slog.Error("executor: insert_payload_with_items failed", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		}
		return
	}

	if bodyChanged {
		synthetic := parser.SynthesizeWatchPayload(res.Body, feed.URL, feed.ID, contentHash, nowMs)
		if err := e.Repo.InsertPayloadWithItems(ctx, feed.ID, nowMs, res.Etag, res.LastModifiedMs, contentHash, synthetic, e.Zone); err != nil {
			slog.Error("executor: insert_payload_with_items (synthetic) failed", slog.String("feed_id", feed.ID), slog.String("error", err.Error()))
		}
		return
	}

	slog.Warn("executor: watch selectors found no items and no confirmed change, skipping payload",
		slog.String("feed_id", feed.ID), slog.String("error", parseErrString(parseErr)))
}

func parseErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Executor) persistCookies(ctx context.Context, feedID, existingCookieHeader string, setCookies []string, nowMs int64) {
	if len(setCookies) == 0 {
		return
	}
	merged := mergeCookieHeader(existingCookieHeader, setCookies)
	if merged == "" {
		return
	}
	if err := e.Repo.UpsertCookieHeader(ctx, feedID, merged, nowMs, e.Zone); err != nil {
		slog.Warn("executor: upsert_cookie_header failed", slog.String("feed_id", feedID), slog.String("error", err.Error()))
	}
}

func (e *Executor) timedInsertEvent(ctx context.Context, feedID, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string) error {
	start := time.Now()
	err := e.Repo.InsertEvent(ctx, feedID, method, status, errKind, latencyMs, backoffIndex, scheduledNextActionAtMs, note, e.Zone)
	metrics.RecordDBQuery("insert_event", time.Since(start))
	return err
}

func (e *Executor) timedInsertState(ctx context.Context, state linkstate.State, recordedAtMs int64, recordHistory bool) error {
	start := time.Now()
	err := e.Repo.InsertState(ctx, state, recordedAtMs, e.Zone, recordHistory)
	metrics.RecordDBQuery("insert_state", time.Since(start))
	return err
}

// maybeMarkFeedError implements the quarantine policy: a feed is pushed to
// error_feeds when its status is an immediate-error status regardless of
// count, or when consecutive errors have reached the configured threshold.
func (e *Executor) maybeMarkFeedError(ctx context.Context, feedID string, errKind model.ErrorKind, status *int, consecutiveErrorCount uint32, nowMs int64) error {
	immediate := status != nil && isImmediateErrorStatus(*status, e.App.ImmediateErrorStatuses)
	thresholdHit := e.App.MaxConsecutiveErrors > 0 && consecutiveErrorCount >= e.App.MaxConsecutiveErrors
	if !immediate && !thresholdHit {
		return nil
	}

	start := time.Now()
	err := e.Repo.MarkFeedError(ctx, feedID, errKind, status, consecutiveErrorCount, nowMs, e.Zone)
	metrics.RecordDBQuery("mark_feed_error", time.Since(start))
	if err != nil {
		slog.Error("executor: mark_feed_error failed", slog.String("feed_id", feedID), slog.String("error", err.Error()))
	}
	return err
}

func isImmediateErrorStatus(status int, set map[int]struct{}) bool {
	if set == nil {
		return false
	}
	_, ok := set[status]
	return ok
}

func outcomeOf(errKind model.ErrorKind) string {
	if errKind != model.ErrorKindNone {
		return "err"
	}
	return "ok"
}

func statusOrZero(status *int) int {
	if status == nil {
		return 0
	}
	return *status
}

// shouldRecordHistory decides whether this write should also append to
// feed_state_history. Sampling short-circuits at the 0.0/1.0 boundaries
// without consuming a random draw, which is what makes it deterministic in
// tests that spy on the random source's call count.
func shouldRecordHistory(sampleRate float64, rnd random.Source) bool {
	if sampleRate <= 0 {
		return false
	}
	if sampleRate >= 1 {
		return true
	}
	return rnd.NextFloat64() < sampleRate
}

// computeBodyChanged decides whether a GET's body should be treated as
// "changed" for the purposes of link-state transition and payload emission.
// Ordinary feeds (watch == nil) treat any successful fetch as a change --
// the HEAD phase is what filters out no-op GETs via its own 304/etag check.
// Watches instead disjunct over their configured detectors: Etag/LastModified
// fire when the validator differs from (or is absent in) the prior state;
// ContentLength/ContentHash/ElementHash fire whenever a hash was computable
// at all, since the caller only reaches this decision when a GET was issued.
func computeBodyChanged(watch *model.WatchConfig, state linkstate.State, res model.GetResult, contentHash string) bool {
	if res.Error != model.ErrorKindNone {
		return false
	}
	if watch == nil {
		return len(res.Body) > 0
	}

	hashPresent := contentHash != ""
	changed := false
	for _, d := range watch.Detectors {
		switch d {
		case model.WatchDetectorEtag:
			if res.Etag != nil && (state.Etag == nil || *state.Etag != *res.Etag) {
				changed = true
			}
		case model.WatchDetectorLastModified:
			if res.LastModifiedMs != nil && (state.LastModifiedMs == nil || *state.LastModifiedMs != *res.LastModifiedMs) {
				changed = true
			}
		case model.WatchDetectorContentLength, model.WatchDetectorContentHash, model.WatchDetectorElementHash:
			if hashPresent {
				changed = true
			}
		}
	}

	return changed || (watch.FetchBodyOnChange && hashPresent)
}

// mergeCookieHeader merges an existing "Cookie:" header with a batch of
// Set-Cookie response headers: last value wins per cookie name, empty
// names/values are dropped, and the result is re-serialized sorted by name
// for deterministic output regardless of input ordering.
func mergeCookieHeader(existing string, setCookies []string) string {
	pairs := map[string]string{}
	for _, kv := range strings.Split(existing, ";") {
		if name, value, ok := splitCookiePair(kv); ok {
			pairs[name] = value
		}
	}
	for _, sc := range setCookies {
		first := sc
		if idx := strings.Index(sc, ";"); idx >= 0 {
			first = sc[:idx]
		}
		if name, value, ok := splitCookiePair(first); ok {
			pairs[name] = value
		}
	}

	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+pairs[name])
	}
	return strings.Join(parts, "; ")
}

func splitCookiePair(s string) (name, value string, ok bool) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "=")
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:idx])
	value = strings.TrimSpace(s[idx+1:])
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}
