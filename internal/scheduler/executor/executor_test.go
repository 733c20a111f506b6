package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sguzman/pulsewire-sub000/internal/concurrency"
	"github.com/sguzman/pulsewire-sub000/internal/config"
	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/feed/parser"
	"github.com/sguzman/pulsewire-sub000/internal/ports/random"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
)

type fakeHTTP struct {
	headResult model.HeadResult
	getResult  model.GetResult
	headErr    error
	getErr     error
	headCalls  int
	getCalls   int
}

func (f *fakeHTTP) Head(ctx context.Context, url, cookieHeader string, extraHeaders map[string]string) (model.HeadResult, error) {
	f.headCalls++
	return f.headResult, f.headErr
}

func (f *fakeHTTP) Get(ctx context.Context, url, cookieHeader string, extraHeaders map[string]string) (model.GetResult, error) {
	f.getCalls++
	return f.getResult, f.getErr
}

type fakeRepo struct {
	events         []string
	states         []linkstate.State
	payloads       []*parser.ParsedFeed
	errorFeeds     []string
	cookieHeader   string
	cookieFound    bool
	upsertedCookie string
}

func (f *fakeRepo) Migrate(ctx context.Context, zone string, defaultPollSeconds uint64) error {
	return nil
}
func (f *fakeRepo) UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, watches []model.WatchConfig, chunkSize int, zone string) error {
	return nil
}
func (f *fakeRepo) UpsertCategories(ctx context.Context, names []string, zone string) error {
	return nil
}
func (f *fakeRepo) LatestState(ctx context.Context, feedID string) (*linkstate.State, error) {
	return nil, nil
}
func (f *fakeRepo) DueFeedsForCategory(ctx context.Context, category string, nowMs int64, limit int) ([]model.FeedConfig, error) {
	return nil, nil
}
func (f *fakeRepo) InsertState(ctx context.Context, state linkstate.State, recordedAtMs int64, zone string, recordHistory bool) error {
	f.states = append(f.states, state)
	return nil
}
func (f *fakeRepo) InsertEvent(ctx context.Context, feedID string, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string, zone string) error {
	f.events = append(f.events, method)
	return nil
}
func (f *fakeRepo) InsertPayloadWithItems(ctx context.Context, feedID string, fetchedAtMs int64, etag *string, lastModifiedMs *int64, contentHash string, parsed *parser.ParsedFeed, zone string) error {
	f.payloads = append(f.payloads, parsed)
	return nil
}
func (f *fakeRepo) MarkFeedError(ctx context.Context, feedID string, errKind model.ErrorKind, status *int, errorCount uint32, observedAtMs int64, zone string) error {
	f.errorFeeds = append(f.errorFeeds, feedID)
	return nil
}
func (f *fakeRepo) LatestCookieHeader(ctx context.Context, feedID string) (string, bool, error) {
	return f.cookieHeader, f.cookieFound, nil
}
func (f *fakeRepo) UpsertCookieHeader(ctx context.Context, feedID string, header string, observedAtMs int64, zone string) error {
	f.upsertedCookie = header
	return nil
}
func (f *fakeRepo) PruneStateHistory(ctx context.Context, olderThanMs int64) (int64, error) {
	return 0, nil
}
func (f *fakeRepo) ListQuarantinedFeeds(ctx context.Context) ([]string, error) {
	return f.errorFeeds, nil
}
func (f *fakeRepo) Close() error { return nil }

var _ repo.Repository = (*fakeRepo)(nil)

func testExecutor(r *fakeRepo, h *fakeHTTP, app config.AppConfig) *Executor {
	guards := concurrency.New(0, nil)
	return New(r, h, guards, random.Fixed(0.5), nil, app, "UTC")
}

func intPtr(v int) *int { return &v }

func TestExecutor_DoHead_NotModified_WritesEventAndState(t *testing.T) {
	r := &fakeRepo{}
	h := &fakeHTTP{headResult: model.HeadResult{Status: intPtr(304), Error: model.ErrorKindNone}}
	app := config.AppConfig{MaxConsecutiveErrors: 3}
	exec := testExecutor(r, h, app)

	state := linkstate.Initial("f1", 60, 3600, 0, 1_000_000)
	state.Phase = linkstate.NeedsHead
	action := linkstate.NextAction{Kind: linkstate.ActionDoHead, State: state}

	err := exec.Execute(context.Background(), model.FeedConfig{ID: "f1", URL: "https://example.com/feed"}, nil, action, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, []string{"HEAD"}, r.events)
	require.Len(t, r.states, 1)
	assert.Equal(t, linkstate.Sleeping, r.states[0].Phase)
	assert.Empty(t, r.errorFeeds)
}

func TestExecutor_DoHead_ImmediateErrorStatus_Quarantines(t *testing.T) {
	r := &fakeRepo{}
	h := &fakeHTTP{headResult: model.HeadResult{Status: intPtr(404), Error: model.ErrorKindHTTP4xx}}
	app := config.AppConfig{MaxConsecutiveErrors: 10, ImmediateErrorStatuses: map[int]struct{}{404: {}}}
	exec := testExecutor(r, h, app)

	state := linkstate.Initial("f1", 60, 3600, 0, 1_000_000)
	state.Phase = linkstate.NeedsHead
	action := linkstate.NextAction{Kind: linkstate.ActionDoHead, State: state}

	err := exec.Execute(context.Background(), model.FeedConfig{ID: "f1", URL: "https://example.com/feed"}, nil, action, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, []string{"f1"}, r.errorFeeds)
}

func TestExecutor_DoGet_ParsesFeedAndPersistsPayload(t *testing.T) {
	r := &fakeRepo{}
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title><link>https://example.com</link><item><title>I1</title><link>https://example.com/1</link></item></channel></rss>`
	h := &fakeHTTP{getResult: model.GetResult{Status: intPtr(200), Body: []byte(rss), Error: model.ErrorKindNone}}
	app := config.AppConfig{MaxConsecutiveErrors: 3}
	exec := testExecutor(r, h, app)

	state := linkstate.Initial("f1", 60, 3600, 0, 1_000_000)
	action := linkstate.NextAction{Kind: linkstate.ActionDoGet, State: state}

	err := exec.Execute(context.Background(), model.FeedConfig{ID: "f1", URL: "https://example.com/feed"}, nil, action, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET"}, r.events)
	require.Len(t, r.payloads, 1)
	assert.Equal(t, "T", r.payloads[0].Title)
	require.Len(t, r.states, 1)
	assert.Equal(t, linkstate.NeedsHead, r.states[0].Phase)
}

func TestExecutor_DoGet_WatchSynthesizesPayloadOnParseFailure(t *testing.T) {
	r := &fakeRepo{}
	html := `<html><body><p>not a feed, just changed text</p></body></html>`
	h := &fakeHTTP{getResult: model.GetResult{
		Status: intPtr(200),
		Body:   []byte(html),
		Etag:   strPtr("v2"),
		Error:  model.ErrorKindNone,
	}}
	app := config.AppConfig{MaxConsecutiveErrors: 3}
	exec := testExecutor(r, h, app)

	watch := &model.WatchConfig{
		FeedConfig: model.FeedConfig{ID: "w1", URL: "https://example.com/page"},
		Detectors:  []model.WatchDetector{model.WatchDetectorEtag},
	}
	state := linkstate.Initial("w1", 60, 3600, 0, 1_000_000)
	state.Etag = strPtr("v1")
	action := linkstate.NextAction{Kind: linkstate.ActionDoGet, State: state}

	err := exec.Execute(context.Background(), watch.FeedConfig, watch, action, 1_000_000)
	require.NoError(t, err)

	require.Len(t, r.payloads, 1)
	assert.Equal(t, "https://example.com/page", r.payloads[0].Link)
	require.Len(t, r.payloads[0].Items, 1)
	require.Len(t, r.states, 1)
	assert.Equal(t, linkstate.NeedsHead, r.states[0].Phase)
}

func strPtr(s string) *string { return &s }

func TestMergeCookieHeader_LastValueWinsAndSortedByName(t *testing.T) {
	merged := mergeCookieHeader("b=old; a=1", []string{"b=new; Path=/", "c=; Path=/", "d=4"})
	assert.Equal(t, "a=1; b=new; d=4", merged)
}

func TestComputeBodyChanged_PlainFeedChangedWheneverNoError(t *testing.T) {
	res := model.GetResult{Error: model.ErrorKindNone, Body: []byte("x")}
	assert.True(t, computeBodyChanged(nil, linkstate.State{}, res, "hash"))
}

func TestComputeBodyChanged_WatchEtagUnchangedIsFalse(t *testing.T) {
	watch := &model.WatchConfig{Detectors: []model.WatchDetector{model.WatchDetectorEtag}}
	state := linkstate.State{Etag: strPtr("same")}
	res := model.GetResult{Error: model.ErrorKindNone, Body: []byte("x"), Etag: strPtr("same")}
	assert.False(t, computeBodyChanged(watch, state, res, "hash"))
}

func TestShouldRecordHistory_BoundariesShortCircuit(t *testing.T) {
	assert.False(t, shouldRecordHistory(0, random.Fixed(0.999)))
	assert.True(t, shouldRecordHistory(1, random.Fixed(0.001)))
}
