package tick

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
	"github.com/sguzman/pulsewire-sub000/internal/scheduler/executor"
)

type fakeHTTP struct{}

func (f *fakeHTTP) Head(ctx context.Context, url, cookieHeader string, extraHeaders map[string]string) (model.HeadResult, error) {
	status := 200
	return model.HeadResult{Status: &status, Error: model.ErrorKindNone}, nil
}

func (f *fakeHTTP) Get(ctx context.Context, url, cookieHeader string, extraHeaders map[string]string) (model.GetResult, error) {
	status := 200
	return model.GetResult{Status: &status, Body: []byte("<rss></rss>"), Error: model.ErrorKindNone}, nil
}

type fakeRepo struct {
	due           []model.FeedConfig
	latestStates  map[string]*linkstate.State
	insertedState []linkstate.State
	events        []string
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
	return f.latestStates[feedID], nil
}
func (f *fakeRepo) DueFeedsForCategory(ctx context.Context, category string, nowMs int64, limit int) ([]model.FeedConfig, error) {
	return f.due, nil
}
func (f *fakeRepo) InsertState(ctx context.Context, state linkstate.State, recordedAtMs int64, zone string, recordHistory bool) error {
	f.insertedState = append(f.insertedState, state)
	return nil
}
func (f *fakeRepo) InsertEvent(ctx context.Context, feedID string, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string, zone string) error {
	f.events = append(f.events, feedID+":"+method)
	return nil
}
func (f *fakeRepo) InsertPayloadWithItems(ctx context.Context, feedID string, fetchedAtMs int64, etag *string, lastModifiedMs *int64, contentHash string, parsed *parser.ParsedFeed, zone string) error {
	return nil
}
func (f *fakeRepo) MarkFeedError(ctx context.Context, feedID string, errKind model.ErrorKind, status *int, errorCount uint32, observedAtMs int64, zone string) error {
	return nil
}
func (f *fakeRepo) LatestCookieHeader(ctx context.Context, feedID string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeRepo) UpsertCookieHeader(ctx context.Context, feedID string, header string, observedAtMs int64, zone string) error {
	return nil
}
func (f *fakeRepo) PruneStateHistory(ctx context.Context, olderThanMs int64) (int64, error) {
	return 0, nil
}
func (f *fakeRepo) ListQuarantinedFeeds(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) Close() error { return nil }

var _ repo.Repository = (*fakeRepo)(nil)

func TestRunner_RunTick_DispatchesDueFeedsAndWritesState(t *testing.T) {
	r := &fakeRepo{
		due:          []model.FeedConfig{{ID: "f1", URL: "https://a.example/feed", Domain: "a.example", BasePollSeconds: 60}},
		latestStates: map[string]*linkstate.State{},
	}
	guards := concurrency.New(0, nil)
	exec := executor.New(r, &fakeHTTP{}, guards, random.Fixed(0.5), nil, config.AppConfig{MaxPollSeconds: 3600}, "UTC")
	runner := NewRunner(r, exec, config.AppConfig{MaxPollSeconds: 3600, GlobalMaxConcurrent: 4}, nil)

	err := runner.RunTick(context.Background(), "news", 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, []string{"f1:GET"}, r.events)
	require.Len(t, r.insertedState, 1)
}

func TestRunner_RunTick_SkipsFeedNotYetDue(t *testing.T) {
	future := int64(2_000_000)
	r := &fakeRepo{
		due: []model.FeedConfig{{ID: "f1", URL: "https://a.example/feed", Domain: "a.example", BasePollSeconds: 60}},
		latestStates: map[string]*linkstate.State{
			"f1": {FeedID: "f1", Phase: linkstate.Sleeping, NextActionAtMs: future, MaxPollSeconds: 3600},
		},
	}
	guards := concurrency.New(0, nil)
	exec := executor.New(r, &fakeHTTP{}, guards, random.Fixed(0.5), nil, config.AppConfig{MaxPollSeconds: 3600}, "UTC")
	runner := NewRunner(r, exec, config.AppConfig{MaxPollSeconds: 3600, GlobalMaxConcurrent: 4}, nil)

	err := runner.RunTick(context.Background(), "news", 1_000_000)
	require.NoError(t, err)

	assert.Empty(t, r.events)
	assert.Empty(t, r.insertedState)
}

func TestRunner_RunTick_PropagatesDueSelectionInfraError(t *testing.T) {
	r := &errorDueRepo{fakeRepo: &fakeRepo{}}
	guards := concurrency.New(0, nil)
	exec := executor.New(r, &fakeHTTP{}, guards, random.Fixed(0.5), nil, config.AppConfig{}, "UTC")
	runner := NewRunner(r, exec, config.AppConfig{}, nil)

	err := runner.RunTick(context.Background(), "news", 1_000_000)
	assert.Error(t, err)
}

type errorDueRepo struct {
	*fakeRepo
}

func (e *errorDueRepo) DueFeedsForCategory(ctx context.Context, category string, nowMs int64, limit int) ([]model.FeedConfig, error) {
	return nil, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "db unavailable" }
