package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/types"
)

func newStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestProjectIdempotentByRootHash tests that a second connect with the same
// root hash keeps the first record
func TestProjectIdempotentByRootHash(t *testing.T) {
	store := newStore(t)

	first := &types.Project{ID: "p1", RepoName: "repo", RepoRootHash: "hash-a", CreatedAt: time.Now()}
	require.NoError(t, store.CreateProject(first))

	second := &types.Project{ID: "p2", RepoName: "repo", RepoRootHash: "hash-a", CreatedAt: time.Now()}
	require.NoError(t, store.CreateProject(second))

	got, err := store.GetProjectByRootHash("hash-a")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = store.GetProject("p2")
	assert.ErrorIs(t, err, ErrNotFound)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

// TestPlanApproveOnce tests one-time approval semantics
func TestPlanApproveOnce(t *testing.T) {
	store := newStore(t)

	plan := &types.Plan{ID: "plan-1", ProjectID: "p1", CreatedAt: time.Now()}
	require.NoError(t, store.CreatePlan(plan))

	approved, err := store.ApprovePlan("plan-1", "abc123", time.Now())
	require.NoError(t, err)
	assert.True(t, approved.Approved())
	assert.Equal(t, "abc123", approved.ApprovedRepoCommit)

	_, err = store.ApprovePlan("plan-1", "def456", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyApproved)

	// The original approval stands.
	got, err := store.GetPlan("plan-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ApprovedRepoCommit)
}

// TestLatestPlanSelection tests latest and latest-approved lookup
func TestLatestPlanSelection(t *testing.T) {
	store := newStore(t)
	base := time.Now()

	older := &types.Plan{ID: "plan-1", ProjectID: "p1", CreatedAt: base}
	newer := &types.Plan{ID: "plan-2", ProjectID: "p1", CreatedAt: base.Add(time.Minute)}
	other := &types.Plan{ID: "plan-3", ProjectID: "p2", CreatedAt: base.Add(time.Hour)}
	for _, p := range []*types.Plan{older, newer, other} {
		require.NoError(t, store.CreatePlan(p))
	}

	latest, err := store.LatestPlan("p1")
	require.NoError(t, err)
	assert.Equal(t, "plan-2", latest.ID)

	_, err = store.LatestApprovedPlan("p1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ApprovePlan("plan-1", "abc", time.Now())
	require.NoError(t, err)

	approved, err := store.LatestApprovedPlan("p1")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", approved.ID, "only the approved plan qualifies")
}

// TestRunRoundTrip tests run create/update/list
func TestRunRoundTrip(t *testing.T) {
	store := newStore(t)
	base := time.Now()

	for i, id := range []string{"run-b", "run-a"} {
		require.NoError(t, store.CreateRun(&types.Run{
			ID:        id,
			ProjectID: "p1",
			State:     types.RunStateInit,
			CreatedAt: base.Add(time.Duration(-i) * time.Minute),
		}))
	}

	run, err := store.GetRun("run-a")
	require.NoError(t, err)
	run.State = types.RunStateRunning
	require.NoError(t, store.UpdateRun(run))

	got, err := store.GetRun("run-a")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, got.State)
	assert.False(t, got.UpdatedAt.IsZero())

	runs, err := store.ListRunsByProject("p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].ID, "ordered by creation time")
}

// TestTaskExecutionForRunTask tests most-recent lookup per (run, task)
func TestTaskExecutionForRunTask(t *testing.T) {
	store := newStore(t)
	base := time.Now()

	older := &types.TaskExecution{ID: "e1", RunID: "run-1", PlanTaskID: "task-1", CreatedAt: base}
	newer := &types.TaskExecution{ID: "e2", RunID: "run-1", PlanTaskID: "task-1", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, store.CreateTaskExecution(older))
	require.NoError(t, store.CreateTaskExecution(newer))

	got, err := store.GetTaskExecutionForRunTask("run-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ID)

	_, err = store.GetTaskExecutionForRunTask("run-1", "task-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAppendEventRejectsDuplicates tests ledger append-only enforcement
func TestAppendEventRejectsDuplicates(t *testing.T) {
	store := newStore(t)

	event := &types.LedgerEvent{EventID: "evt-1", TS: time.Now(), EventType: types.EventRunStarted, RunID: "run-1"}
	require.NoError(t, store.AppendEvent(event))

	err := store.AppendEvent(&types.LedgerEvent{EventID: "evt-1", TS: time.Now(), EventType: types.EventRunPaused})
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	events, err := store.AllEvents()
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, types.EventRunStarted, events[0].EventType, "the failed append changed nothing")
}

// TestLedgerTimeOrdering tests that scans yield time order regardless of
// append order
func TestLedgerTimeOrdering(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// Append out of time order.
	for _, i := range []int{3, 0, 4, 1, 2} {
		require.NoError(t, store.AppendEvent(&types.LedgerEvent{
			EventID:   fmt.Sprintf("evt-%d", i),
			TS:        base.Add(time.Duration(i) * time.Hour),
			EventType: types.EventRunStarted,
		}))
	}

	events, err := store.ListEventsInRange(base, base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("evt-%d", i), e.EventID)
	}

	// Range end is exclusive.
	events, err = store.ListEventsInRange(base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

// TestTailEventsForRun tests the newest-first run tail and its limit
func TestTailEventsForRun(t *testing.T) {
	store := newStore(t)
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvent(&types.LedgerEvent{
			EventID:   fmt.Sprintf("evt-%d", i),
			TS:        base.Add(time.Duration(i) * time.Second),
			RunID:     "run-1",
			EventType: types.EventTaskStage,
		}))
	}
	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "other", TS: base, RunID: "run-2", EventType: types.EventTaskStage,
	}))

	tail, err := store.TailEventsForRun("run-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, "evt-4", tail[0].EventID, "newest first")

	all, err := store.TailEventsForRun("run-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "limit 0 means everything")
}

// TestListEventsByType tests the type filter and project scoping
func TestListEventsByType(t *testing.T) {
	store := newStore(t)
	now := time.Now()

	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "e1", TS: now, ProjectID: "p1", EventType: types.EventCreditGranted,
	}))
	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "e2", TS: now, ProjectID: "p2", EventType: types.EventCreditGranted,
	}))
	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "e3", TS: now, ProjectID: "p1", EventType: types.EventRunStarted,
	}))

	events, err := store.ListEventsByType("p1", types.EventCreditGranted, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)

	events, err = store.ListEventsByType("", types.EventCreditGranted, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2, "empty project matches all")
}

// TestAPIKeyRoundTrip tests put/get/delete for API keys
func TestAPIKeyRoundTrip(t *testing.T) {
	store := newStore(t)

	key := &types.APIKey{
		Token:     "trc_abc",
		Identity:  types.Identity{OrgID: "org-1", UserID: "user-1", BillingPlan: "standard"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.PutAPIKey(key))

	got, err := store.GetAPIKey("trc_abc")
	require.NoError(t, err)
	assert.Equal(t, "org-1", got.Identity.OrgID)

	require.NoError(t, store.DeleteAPIKey("trc_abc"))
	_, err = store.GetAPIKey("trc_abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
