package replica

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/types"
)

func newTestReplica(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedis(context.Background(), client, zerolog.New(io.Discard))
	require.True(t, r.Available())
	return r, srv
}

func tipAt(id string, at time.Time) types.Tip {
	return types.Tip{ID: id, Text: "tip " + id, CreatedAt: at, Comments: []types.Comment{}}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	r := NewRedis(context.Background(), client, zerolog.New(io.Discard))
	assert.False(t, r.Available())
	assert.ErrorIs(t, r.Create(context.Background(), tipAt("a", types.Now())), ErrUnavailable)
	_, err := r.Subscribe(context.Background(), 10, func([]types.Tip) {})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNilClientIsUnavailable(t *testing.T) {
	r := NewRedis(context.Background(), nil, zerolog.New(io.Discard))
	assert.False(t, r.Available())
}

func TestCreateAndSnapshotNewestFirst(t *testing.T) {
	r, _ := newTestReplica(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Create(ctx, tipAt("old", base)))
	require.NoError(t, r.Create(ctx, tipAt("mid", base.Add(time.Hour))))
	require.NoError(t, r.Create(ctx, tipAt("new", base.Add(2*time.Hour))))

	tips, err := r.Snapshot(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	assert.Equal(t, "new", tips[0].ID)
	assert.Equal(t, "mid", tips[1].ID)
	assert.True(t, tips[0].CreatedAt.Equal(base.Add(2*time.Hour)))
}

func TestSetReportsAndComments(t *testing.T) {
	r, _ := newTestReplica(t)
	ctx := context.Background()
	now := types.Now()

	require.NoError(t, r.Create(ctx, tipAt("a", now)))
	require.NoError(t, r.SetReports(ctx, "a", 3))
	comments := []types.Comment{
		{ID: "c1", Text: "first", CreatedAt: now},
		{ID: "c2", Text: "second", CreatedAt: now.Add(-time.Minute)},
	}
	require.NoError(t, r.SetComments(ctx, "a", comments))

	tips, err := r.Snapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, 3, tips[0].Reports)
	require.Len(t, tips[0].Comments, 2)
	assert.Equal(t, "c1", tips[0].Comments[0].ID)
	assert.Equal(t, "c2", tips[0].Comments[1].ID)
}

func TestFieldUpdateOnMissingTip(t *testing.T) {
	r, srv := newTestReplica(t)

	err := r.SetReports(context.Background(), "ghost", 2)
	assert.ErrorIs(t, err, ErrMissing)
	assert.False(t, srv.Exists("tips:ghost"))
}

func TestRemove(t *testing.T) {
	r, srv := newTestReplica(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, tipAt("a", types.Now())))
	require.NoError(t, r.Remove(ctx, "a"))

	tips, err := r.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tips)
	assert.False(t, srv.Exists("tips:a"))
}

func TestSnapshotSkipsMalformedRecords(t *testing.T) {
	r, srv := newTestReplica(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, tipAt("good", types.Now())))
	srv.HSet("tips:bad", "id", "bad", "text", "x", "createdAt", "not a time")
	_, err := srv.ZAdd("tips:index", float64(time.Now().UnixMilli()+1000), "bad")
	require.NoError(t, err)

	tips, err := r.Snapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, "good", tips[0].ID)
}

type snapshotRecorder struct {
	mu   sync.Mutex
	seen [][]types.Tip
}

func (s *snapshotRecorder) record(tips []types.Tip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, tips)
}

func (s *snapshotRecorder) last() []types.Tip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return nil
	}
	return s.seen[len(s.seen)-1]
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	r, _ := newTestReplica(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, tipAt("a", types.Now())))

	rec := &snapshotRecorder{}
	cancel, err := r.Subscribe(ctx, 100, rec.record)
	require.NoError(t, err)
	defer cancel()

	require.Len(t, rec.last(), 1)

	require.NoError(t, r.Create(ctx, tipAt("b", types.Now().Add(time.Second))))
	require.Eventually(t, func() bool {
		return len(rec.last()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Remove(ctx, "a"))
	require.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 1 && last[0].ID == "b"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	r, _ := newTestReplica(t)
	ctx := context.Background()

	rec := &snapshotRecorder{}
	cancel, err := r.Subscribe(ctx, 100, rec.record)
	require.NoError(t, err)
	cancel()
	cancel()

	rec.mu.Lock()
	before := len(rec.seen)
	rec.mu.Unlock()

	require.NoError(t, r.Create(ctx, tipAt("late", types.Now())))
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, before, len(rec.seen))
}

func TestNextBackoffResetsAfterHealthyConnection(t *testing.T) {
	next, wait := nextBackoff(time.Second, false)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, 2*time.Second, next)

	next, wait = nextBackoff(16*time.Second, false)
	assert.Equal(t, 16*time.Second, wait)
	assert.Equal(t, maxBackoffDelay, next)

	next, wait = nextBackoff(maxBackoffDelay, false)
	assert.Equal(t, maxBackoffDelay, wait)
	assert.Equal(t, maxBackoffDelay, next)

	next, wait = nextBackoff(maxBackoffDelay, true)
	assert.Equal(t, minBackoffDelay, wait)
	assert.Equal(t, 2*minBackoffDelay, next)
}
