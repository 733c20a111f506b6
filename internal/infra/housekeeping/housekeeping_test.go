package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/feed/parser"
	"github.com/sguzman/pulsewire-sub000/internal/ports/repo"
)

type fakeRepo struct {
	pruneCutoffMs  int64
	pruneRemoved   int64
	quarantinedIDs []string
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
	return nil
}
func (f *fakeRepo) InsertEvent(ctx context.Context, feedID string, method string, status *int, errKind model.ErrorKind, latencyMs int64, backoffIndex uint32, scheduledNextActionAtMs int64, note string, zone string) error {
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
	f.pruneCutoffMs = olderThanMs
	return f.pruneRemoved, nil
}
func (f *fakeRepo) ListQuarantinedFeeds(ctx context.Context) ([]string, error) {
	return f.quarantinedIDs, nil
}
func (f *fakeRepo) Close() error { return nil }

var _ repo.Repository = (*fakeRepo)(nil)

func TestWorker_RunOnce_PrunesAndListsQuarantine(t *testing.T) {
	r := &fakeRepo{pruneRemoved: 3, quarantinedIDs: []string{"a", "b"}}
	w := New(r, 24*time.Hour, nil)

	before := time.Now().UnixMilli()
	w.runOnce(context.Background())

	assert.Less(t, r.pruneCutoffMs, before)
}

func TestWorker_Start_RegistersJobOnValidSchedule(t *testing.T) {
	r := &fakeRepo{}
	w := New(r, time.Hour, nil)
	require.NoError(t, w.Start("0 3 * * *"))
	w.Stop()
}

func TestWorker_Start_RejectsInvalidSchedule(t *testing.T) {
	r := &fakeRepo{}
	w := New(r, time.Hour, nil)
	err := w.Start("not a cron expression")
	assert.Error(t, err)
}
