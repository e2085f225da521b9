package artifacts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/types"
)

// TestDefaultDataDirHonorsEnv tests the TRCODER_DATA_DIR override
func TestDefaultDataDirHonorsEnv(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/custom-trcoder")
	dir, err := DefaultDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-trcoder", dir)

	t.Setenv(EnvDataDir, "")
	dir, err = DefaultDataDir()
	require.NoError(t, err)
	assert.Contains(t, dir, ".trcoder")
}

// TestPatchRoundTrip tests patch write and read back
func TestPatchRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.WritePatch("run-1", "task-1", "--- a/x\n+++ b/x\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "runs", "run-1", "task-1.patch"), path)

	got, err := store.ReadPatch("run-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "--- a/x\n+++ b/x\n", got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = store.ReadPatch("run-1", "task-2")
	assert.Error(t, err)
}

// TestWriteVerifyReport tests report placement under the run directory
func TestWriteVerifyReport(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.WriteVerifyReport("run-1", "# Verify\nall green\n")
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join("runs", "run-1"))
	assert.Contains(t, filepath.Base(path), "verify-")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "all green")
}

// TestWritePlanFileStripsDirectories tests that attachment names cannot
// escape the plan directory
func TestWritePlanFileStripsDirectories(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.WritePlanFile("proj-1", "../../evil.md", "content")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "plans", "proj-1", "evil.md"), path)
}

// TestExportLedger tests the JSON-lines export format
func TestExportLedger(t *testing.T) {
	events := []*types.LedgerEvent{
		{EventID: "e1", TS: time.Now(), EventType: types.EventRunStarted, RunID: "run-1"},
		{EventID: "e2", TS: time.Now(), EventType: types.EventRunCompleted, RunID: "run-1"},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportLedger(&buf, events))

	scanner := bufio.NewScanner(&buf)
	var ids []string
	for scanner.Scan() {
		var e types.LedgerEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		ids = append(ids, e.EventID)
	}
	assert.Equal(t, []string{"e1", "e2"}, ids)
}
