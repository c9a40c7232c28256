package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/community-tips/internal/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeExport(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestImportListAndPrune(t *testing.T) {
	store := filepath.Join(t.TempDir(), "tips")
	fresh := types.Stamp(time.Now().Add(-time.Hour))
	stale := types.Stamp(time.Now().Add(-30 * 24 * time.Hour))
	export := writeExport(t, `[
		{"id": "fresh", "text": "recent tip", "createdAt": "`+fresh+`"},
		{"id": "stale", "text": "old tip", "createdAt": "`+stale+`", "reports": 1},
		{"id": "fresh", "text": "duplicate", "createdAt": "`+fresh+`"},
		{"text": "no id"}
	]`)

	out, err := run(t, "--store", store, "import", export)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 tips, skipped 2")

	out, err = run(t, "--store", store, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "recent tip")
	assert.NotContains(t, out, "old tip")

	// list leaves the expired tip in place for prune to count.
	out, err = run(t, "--store", store, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 of 2 tips")

	out, err = run(t, "--store", store, "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "recent tip")
}

func TestVisibleTipsFiltersAndSorts(t *testing.T) {
	now := time.Now()
	list := []types.Tip{
		{ID: "old", Text: "a", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "reported", Text: "b", CreatedAt: now.Add(-time.Minute), Reports: 5},
		{ID: "expired", Text: "c", CreatedAt: now.Add(-8 * 24 * time.Hour)},
		{ID: "new", Text: "d", CreatedAt: now.Add(-time.Hour)},
	}

	got := visibleTips(list, now, 7*24*time.Hour, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)
	assert.Len(t, list, 4)
}

func TestHistoryRequiresPostgres(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	_, err := run(t, "history", "abc")
	assert.Error(t, err)
}

func TestImportRejectsBadFile(t *testing.T) {
	_, err := run(t, "--store", filepath.Join(t.TempDir(), "tips"), "import", writeExport(t, "{not json"))
	assert.Error(t, err)
}
