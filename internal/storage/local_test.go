package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	db, err := OpenBadger(DefaultBadgerConfig(InMemoryPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLocalStore(db, zerolog.New(io.Discard))
}

func TestLoadMissingKeyReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	tips := store.Load(context.Background())
	assert.NotNil(t, tips)
	assert.Empty(t, tips)
}

func TestLoadCorruptValueReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetRaw([]byte(`[{"id":"a","text":`)))

	assert.Empty(t, store.Load(context.Background()))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	want := []types.Tip{
		{
			ID:           "tip-2",
			Text:         "streetlight out on Main",
			ImageDataURL: "data:image/png;base64,iVBORw0KGgo=",
			CreatedAt:    base.Add(time.Hour),
			Reports:      3,
			Comments: []types.Comment{
				{ID: "c1", Text: "seen it too", CreatedAt: base.Add(2 * time.Hour)},
				{ID: "c2", Text: "&lt;b&gt;fixed&lt;/b&gt;", CreatedAt: base.Add(90 * time.Minute)},
			},
		},
		{
			ID:        "tip-1",
			Text:      "loose dog near the park",
			CreatedAt: base,
			Comments:  []types.Comment{},
		},
	}

	require.NoError(t, store.Save(context.Background(), want))
	got := store.Load(context.Background())

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Text, got[i].Text)
		assert.Equal(t, want[i].ImageDataURL, got[i].ImageDataURL)
		assert.Equal(t, want[i].Reports, got[i].Reports)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
		require.Len(t, got[i].Comments, len(want[i].Comments))
		for j := range want[i].Comments {
			assert.Equal(t, want[i].Comments[j].ID, got[i].Comments[j].ID)
			assert.Equal(t, want[i].Comments[j].Text, got[i].Comments[j].Text)
		}
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := types.Now()

	require.NoError(t, store.Save(ctx, []types.Tip{{ID: "a", Text: "one", CreatedAt: now}, {ID: "b", Text: "two", CreatedAt: now}}))
	require.NoError(t, store.Save(ctx, []types.Tip{{ID: "c", Text: "three", CreatedAt: now}}))

	got := store.Load(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestSaveAfterCloseFails(t *testing.T) {
	db, err := OpenBadger(DefaultBadgerConfig(InMemoryPath))
	require.NoError(t, err)
	store := NewLocalStore(db, zerolog.New(io.Discard))
	require.NoError(t, db.Close())

	err = store.Save(context.Background(), []types.Tip{{ID: "a", Text: "x", CreatedAt: types.Now()}})
	assert.Error(t, err)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = 0
	db, err := OpenBadger(cfg)
	require.NoError(t, err)
	store := NewLocalStore(db, zerolog.New(io.Discard), WithKey("tips_test"))
	require.NoError(t, store.Save(ctx, []types.Tip{{ID: "keep", Text: "durable", CreatedAt: types.Now()}}))
	require.NoError(t, db.Close())

	db2, err := OpenBadger(cfg)
	require.NoError(t, err)
	defer db2.Close()

	got := NewLocalStore(db2, zerolog.New(io.Discard), WithKey("tips_test")).Load(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)
}
