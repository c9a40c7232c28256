package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNoArchive
	}
	return data, nil
}

func (s *memoryStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

type staticSource struct {
	mu       sync.Mutex
	tips     []types.Tip
	listener tips.Listener
}

func (s *staticSource) Tips() []types.Tip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneTips(s.tips)
}

func (s *staticSource) Subscribe(listener tips.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
	return func() {}
}

func (s *staticSource) change(t types.Tip) {
	s.mu.Lock()
	s.tips = append([]types.Tip{t}, s.tips...)
	listener := s.listener
	s.mu.Unlock()
	listener(types.Change{Kind: types.ChangeCreated, Tip: t})
}

func newTestWorker(source Source, store ObjectStore) *Worker {
	w := NewWorker(source, store, zerolog.New(io.Discard), WithInterval(time.Hour))
	w.now = func() time.Time { return time.Unix(1_750_000_000, 0) }
	return w
}

func TestExportSkipsWhenClean(t *testing.T) {
	store := newMemoryStore()
	source := &staticSource{}
	w := newTestWorker(source, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	wrote, err := w.Export(context.Background())
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Empty(t, store.keys())
}

func TestExportAndRestore(t *testing.T) {
	store := newMemoryStore()
	source := &staticSource{}
	w := newTestWorker(source, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source.change(types.Tip{ID: "a", Text: "archived", CreatedAt: created, Reports: 2, Comments: []types.Comment{}})

	wrote, err := w.Export(context.Background())
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.ElementsMatch(t, []string{"archive/tips/1750000000.json", "archive/tips/latest.json"}, store.keys())

	restored, err := Restore(context.Background(), store, "")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "archived", restored[0].Text)
	assert.Equal(t, 2, restored[0].Reports)
	assert.True(t, created.Equal(restored[0].CreatedAt))

	wrote, err = w.Export(context.Background())
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestExportFailureKeepsDirty(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket gone")
	source := &staticSource{}
	w := newTestWorker(source, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	source.change(types.Tip{ID: "a", Text: "x", CreatedAt: time.Now().UTC(), Comments: []types.Comment{}})
	_, err := w.Export(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bucket gone"))

	store.mu.Lock()
	store.putErr = nil
	store.mu.Unlock()

	wrote, err := w.Export(context.Background())
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestRestoreWithoutArchive(t *testing.T) {
	_, err := Restore(context.Background(), newMemoryStore(), "")
	assert.ErrorIs(t, err, ErrNoArchive)
}
