package contextpack

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

type fakeReader struct {
	files map[string]string
}

func (f *fakeReader) ReadFile(_ context.Context, _, filePath string) (string, error) {
	content, ok := f.files[filePath]
	if !ok {
		return "", errors.New("no such file")
	}
	return content, nil
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, &fakeReader{files: map[string]string{
		"pkg/a.go": "package a\n\nfunc A() {}\n",
		"pkg/b.go": "package b",
	}})
}

// TestSanitizePins tests pin safety: traversal, absolutes, and secret names
func TestSanitizePins(t *testing.T) {
	tests := []struct {
		name    string
		pins    []string
		kept    []string
		dropped int
	}{
		{
			name: "relative paths pass",
			pins: []string{"pkg/a.go", "cmd/main.go"},
			kept: []string{"pkg/a.go", "cmd/main.go"},
		},
		{
			name:    "absolute paths dropped",
			pins:    []string{"/etc/passwd", "pkg/a.go"},
			kept:    []string{"pkg/a.go"},
			dropped: 1,
		},
		{
			name:    "traversal dropped",
			pins:    []string{"../outside.go", "pkg/../../outside.go"},
			kept:    nil,
			dropped: 2,
		},
		{
			name:    "env files dropped",
			pins:    []string{".env", "config/.env.local"},
			kept:    nil,
			dropped: 2,
		},
		{
			name:    "secret-shaped names dropped",
			pins:    []string{"secrets.yaml", "pkg/token_store.go", "apikeys.txt", "passwords.csv"},
			kept:    nil,
			dropped: 4,
		},
		{
			name:    "windows absolutes dropped",
			pins:    []string{`C:\repo\a.go`, `\\share\a.go`},
			kept:    nil,
			dropped: 2,
		},
		{
			name:    "empty pin dropped",
			pins:    []string{""},
			kept:    nil,
			dropped: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, dropped := SanitizePins(tt.pins)
			assert.Equal(t, tt.kept, kept)
			assert.Equal(t, tt.dropped, dropped)
		})
	}
}

// TestBuildAppliesBudgetsAndRedaction tests manifest assembly
func TestBuildAppliesBudgetsAndRedaction(t *testing.T) {
	m := newManager(t)

	pack := m.Build("run-1", "task-1", "proj-1",
		types.Budgets{MaxFiles: 2, MaxLines: 500},
		[]string{"a.go", "b.go", "c.go", "/etc/shadow"},
		types.Signals{Logs: "API_KEY=supersecret\nall good"},
	)

	assert.Equal(t, types.PackModeManifest, pack.Mode)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, pack.PinnedSources)
	assert.Len(t, pack.FileEntries, 2, "max_files caps the entries")
	assert.Equal(t, "pinned", pack.FileEntries[0].Why)

	assert.NotContains(t, pack.Signals.Logs, "supersecret")
	assert.Contains(t, pack.Signals.Logs, "all good")
	assert.Equal(t, 1, pack.RedactionStats.MaskedEntries)
}

// TestRebuildMintsNewPack tests immutability across rebuilds
func TestRebuildMintsNewPack(t *testing.T) {
	m := newManager(t)

	original := m.Build("run-1", "task-1", "proj-1",
		types.Budgets{MaxFiles: 5}, []string{"pkg/a.go"}, types.Signals{})
	require.NoError(t, m.Save(original))

	rebuilt, err := m.Rebuild(original.PackID, &types.Budgets{MaxFiles: 1}, []string{"pkg/a.go", "pkg/b.go"})
	require.NoError(t, err)

	assert.NotEqual(t, original.PackID, rebuilt.PackID)
	assert.Equal(t, original.RunID, rebuilt.RunID)
	assert.Equal(t, original.TaskID, rebuilt.TaskID)
	assert.Len(t, rebuilt.FileEntries, 1, "new budgets apply")

	// The original pack is retained unchanged.
	kept, err := m.store.GetPack(original.PackID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/a.go"}, kept.PinnedSources)
}

// TestRebuildKeepsOldValuesWhenNil tests nil budget/pin passthrough
func TestRebuildKeepsOldValuesWhenNil(t *testing.T) {
	m := newManager(t)

	original := m.Build("run-1", "task-1", "proj-1",
		types.Budgets{MaxFiles: 3}, []string{"pkg/a.go"}, types.Signals{})
	require.NoError(t, m.Save(original))

	rebuilt, err := m.Rebuild(original.PackID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, original.Budgets, rebuilt.Budgets)
	assert.Equal(t, original.PinnedSources, rebuilt.PinnedSources)
}

// TestRebuildMissingPack tests the not-found path
func TestRebuildMissingPack(t *testing.T) {
	m := newManager(t)
	_, err := m.Rebuild("nope", nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestEnrichHydratesEntries tests hashing and line ranges through the reader
func TestEnrichHydratesEntries(t *testing.T) {
	m := newManager(t)

	pack := m.Build("run-1", "task-1", "proj-1",
		types.Budgets{MaxFiles: 5, Hydrate: true},
		[]string{"pkg/a.go", "pkg/b.go", "missing.go"}, types.Signals{})

	enriched := m.Enrich(context.Background(), pack)
	assert.Equal(t, types.PackModeHydrated, enriched.Mode)

	require.Len(t, enriched.FileEntries, 3)
	assert.NotEmpty(t, enriched.FileEntries[0].Hash)
	assert.Equal(t, "1-3", enriched.FileEntries[0].Range)
	assert.Equal(t, "1-1", enriched.FileEntries[1].Range, "no trailing newline still counts a line")
	assert.Empty(t, enriched.FileEntries[2].Hash, "unreadable files keep the bare entry")
}
