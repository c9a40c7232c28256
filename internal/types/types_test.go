package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 2000)
	for i := 0; i < 2000; i++ {
		id := NewID()
		require.Len(t, id, 32)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestStampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	s := Stamp(ts)
	assert.Equal(t, "2025-03-04T05:06:07.890Z", s)

	parsed, err := ParseStamp(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestDecodeTipsToleratesLegacyRecords(t *testing.T) {
	data := []byte(`[
		{"id":"a","text":"hello","createdAt":"2025-01-01T00:00:00.000Z","reports":2,"comments":null},
		{"id":"b","text":"no reports field","createdAt":"2025-01-02T00:00:00.000Z"},
		{"id":"","text":"missing id","createdAt":"2025-01-02T00:00:00.000Z"},
		{"id":"c","text":"negative","createdAt":"2025-01-03T00:00:00.000Z","reports":-4}
	]`)

	tips, skipped, err := DecodeTips(data)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, tips, 3)

	assert.Equal(t, 2, tips[0].Reports)
	assert.NotNil(t, tips[0].Comments)
	assert.Empty(t, tips[0].Comments)
	assert.Equal(t, 0, tips[1].Reports)
	assert.Equal(t, 0, tips[2].Reports)
}

func TestDecodeTipsRejectsGarbage(t *testing.T) {
	_, _, err := DecodeTips([]byte("{not json"))
	require.Error(t, err)
}

func TestCloneDoesNotShareComments(t *testing.T) {
	tip := Tip{ID: "a", Text: "x", CreatedAt: Now(), Comments: []Comment{{ID: "c1", Text: "one"}}}
	clone := tip.Clone()
	clone.Comments[0].Text = "changed"
	clone.Comments = append(clone.Comments, Comment{ID: "c2"})

	assert.Equal(t, "one", tip.Comments[0].Text)
	assert.Len(t, tip.Comments, 1)
}

func TestExpiredAt(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	ttl := 7 * 24 * time.Hour

	old := Tip{CreatedAt: now.Add(-ttl - time.Second)}
	fresh := Tip{CreatedAt: now.Add(-ttl + time.Second)}

	assert.True(t, old.ExpiredAt(now, ttl))
	assert.False(t, fresh.ExpiredAt(now, ttl))
}
