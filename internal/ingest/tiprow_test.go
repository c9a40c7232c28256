package ingest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/tips"
)

func TestNormalizeTipRowFromJSON(t *testing.T) {
	raw := `{
		"ID": "legacy-1",
		"text": "  broken hydrant ",
		"createdAt": "2025-06-01T12:00:00.000Z",
		"reports": 2,
		"comments": [{"id": "c1", "text": "confirmed", "createdAt": 1748779200000}]
	}`
	var row map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &row))

	tip, err := NormalizeTipRow(row)
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", tip.ID)
	assert.Equal(t, "broken hydrant", tip.Text)
	assert.Equal(t, 2, tip.Reports)
	assert.True(t, tip.CreatedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	require.Len(t, tip.Comments, 1)
	assert.Equal(t, "confirmed", tip.Comments[0].Text)
}

func TestNormalizeTipRowDefaults(t *testing.T) {
	tip, err := NormalizeTipRow(map[string]any{
		"id":        "a",
		"text":      "x",
		"createdAt": "2025-06-01T12:00:00Z",
		"reports":   -3.0,
	})
	require.NoError(t, err)
	assert.Zero(t, tip.Reports)
	assert.NotNil(t, tip.Comments)
	assert.Empty(t, tip.Comments)
}

func TestNormalizeTipRowRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"nil row":       nil,
		"missing id":    {"text": "x", "createdAt": "2025-06-01T12:00:00Z"},
		"blank text":    {"id": "a", "text": "  ", "createdAt": "2025-06-01T12:00:00Z"},
		"missing time":  {"id": "a", "text": "x"},
		"bad time":      {"id": "a", "text": "x", "createdAt": "yesterday"},
		"bad reports":   {"id": "a", "text": "x", "createdAt": "2025-06-01T12:00:00Z", "reports": "many"},
		"bad comments":  {"id": "a", "text": "x", "createdAt": "2025-06-01T12:00:00Z", "comments": "none"},
		"empty comment": {"id": "a", "text": "x", "createdAt": "2025-06-01T12:00:00Z", "comments": []any{map[string]any{"id": "c", "createdAt": "2025-06-01T12:00:00Z"}}},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeTipRow(row)
			assert.ErrorIs(t, err, ErrInvalidRow)
		})
	}
}

func TestNormalizeTipRowsCountsSkipped(t *testing.T) {
	tips, skipped := NormalizeTipRows([]map[string]any{
		{"id": "a", "text": "ok", "createdAt": "2025-06-01T12:00:00Z"},
		{"id": "b"},
	})
	assert.Len(t, tips, 1)
	assert.Equal(t, 1, skipped)
}

func TestNormalizeTipRowBoundsComments(t *testing.T) {
	long := strings.Repeat("é", tips.DefaultMaxCommentLength+40)
	tip, err := NormalizeTipRow(map[string]any{
		"id":        "a",
		"text":      "flooded underpass",
		"createdAt": "2025-06-01T12:00:00Z",
		"comments": []any{
			map[string]any{"id": "c1", "text": "  " + long, "createdAt": 1748779200000.0},
			map[string]any{"id": "c2", "text": " still there ", "createdAt": 1748779260000.0},
		},
	})
	require.NoError(t, err)
	require.Len(t, tip.Comments, 2)
	assert.Len(t, []rune(tip.Comments[0].Text), tips.DefaultMaxCommentLength)
	assert.Equal(t, "still there", tip.Comments[1].Text)
}
