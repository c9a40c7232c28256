package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/types"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(errors.New("boom")))
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	j := NewJournal(nil, WithRetryDelay(time.Millisecond), WithMaxRetries(2))

	calls := 0
	err := j.retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	j := NewJournal(nil, WithRetryDelay(time.Millisecond))

	calls := 0
	permanent := &pgconn.PgError{Code: "23505"}
	err := j.retry(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestEntryForChangeStripsImage(t *testing.T) {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	change := types.Change{
		Kind: types.ChangeReported,
		Tip: types.Tip{
			ID:           "t1",
			Text:         "hello",
			ImageDataURL: "data:image/png;base64,AAAA",
			CreatedAt:    at,
			Reports:      2,
		},
		At: at,
	}

	entry, err := EntryForChange(change)
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TipID)
	assert.Equal(t, types.ChangeReported, entry.Kind)
	assert.Equal(t, 2, entry.Reports)

	var decoded types.Tip
	require.NoError(t, json.Unmarshal(entry.Payload, &decoded))
	assert.Empty(t, decoded.ImageDataURL)
	assert.Equal(t, "hello", decoded.Text)
}

func TestEntryForReplaceRecordsCount(t *testing.T) {
	entry, err := EntryForChange(types.Change{
		Kind:     types.ChangeReplaced,
		Snapshot: make([]types.Tip, 4),
	})
	require.NoError(t, err)
	assert.Empty(t, entry.TipID)
	assert.JSONEq(t, `{"count":4}`, string(entry.Payload))
}
