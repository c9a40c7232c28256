package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/types"
)

type memoryRecorder struct {
	mu      sync.Mutex
	kinds   []types.ChangeKind
	block   chan struct{}
	failing bool
}

func (r *memoryRecorder) Record(_ context.Context, change types.Change) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("postgres down")
	}
	r.kinds = append(r.kinds, change.Kind)
	return nil
}

func (r *memoryRecorder) recorded() []types.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChangeKind(nil), r.kinds...)
}

func TestJournalWriterPreservesOrder(t *testing.T) {
	rec := &memoryRecorder{}
	w := NewJournalWriter(rec, zerolog.New(io.Discard), 8)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	for _, kind := range []types.ChangeKind{types.ChangeCreated, types.ChangeReported, types.ChangeDeleted} {
		w.Enqueue(types.Change{Kind: kind})
	}
	require.Eventually(t, func() bool { return len(rec.recorded()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.ChangeKind{types.ChangeCreated, types.ChangeReported, types.ChangeDeleted}, rec.recorded())

	cancel()
	<-w.Done()
}

func TestJournalWriterDropsWhenFull(t *testing.T) {
	rec := &memoryRecorder{block: make(chan struct{})}
	w := NewJournalWriter(rec, zerolog.New(io.Discard), 1)

	w.Enqueue(types.Change{Kind: types.ChangeCreated})
	w.Enqueue(types.Change{Kind: types.ChangeReported})
	assert.Len(t, w.queue, 1)

	close(rec.block)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)
	assert.Equal(t, []types.ChangeKind{types.ChangeCreated}, rec.recorded())
}

func TestJournalWriterSurvivesFailures(t *testing.T) {
	rec := &memoryRecorder{failing: true}
	w := NewJournalWriter(rec, zerolog.New(io.Discard), 4)
	w.Enqueue(types.Change{Kind: types.ChangeCreated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)
	assert.Empty(t, rec.recorded())
}
