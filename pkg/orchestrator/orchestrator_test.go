package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/artifacts"
	"github.com/trcoder/trcoder/pkg/billing"
	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/contextpack"
	"github.com/trcoder/trcoder/pkg/events"
	"github.com/trcoder/trcoder/pkg/pr"
	"github.com/trcoder/trcoder/pkg/provider"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

type denyAllAuth struct{}

func (denyAllAuth) Authorize(string) (*types.Identity, error) {
	return nil, fmt.Errorf("no runner auth in tests")
}

var testIdentity = types.Identity{OrgID: "org-1", UserID: "user-1", BillingPlan: "pro"}

// newOrchestrator wires a full orchestrator against the mock provider and an
// empty runner bridge. Repo state is unavailable in every test, so runs must
// confirm staleness to proceed.
func newOrchestrator(t *testing.T) (*Orchestrator, storage.Store) {
	t.Helper()
	t.Setenv(provider.EnvUseMock, "1")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	policy, err := cfg.CompilePermissions()
	require.NoError(t, err)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	arts, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)

	bridge := runner.NewBridge(denyAllAuth{}, store)

	o := New(Deps{
		Config:    cfg,
		Store:     store,
		Hub:       events.NewHub(),
		Bridge:    bridge,
		Factory:   provider.NewFactory(cfg),
		Packs:     contextpack.NewManager(store, bridge),
		Policy:    policy,
		Billing:   billing.NewManager(store),
		Artifacts: arts,
		PRAdapter: pr.NewFake(),
	})
	return o, store
}

// connectAndApprove registers a project and an approved single-task plan
func connectAndApprove(t *testing.T, o *Orchestrator, text string) (*types.Project, *types.Plan) {
	t.Helper()
	project, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)
	plan, err := o.CreatePlan(testIdentity, project.ID, text, nil)
	require.NoError(t, err)
	plan, err = o.ApprovePlan(testIdentity, plan.ID, "commit-abc")
	require.NoError(t, err)
	return project, plan
}

func eventTypes(t *testing.T, store storage.Store, runID string) []string {
	t.Helper()
	tail, err := store.TailEventsForRun(runID, 0)
	require.NoError(t, err)
	var out []string
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i].EventType)
	}
	return out
}

// TestBuildTasksDocument tests bullet extraction and the default task
func TestBuildTasksDocument(t *testing.T) {
	doc := buildTasksDocument("Intro line\n- Add login\n* Fix logout\nnot a bullet")
	tasks := doc.AllTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-001", tasks[0].ID)
	assert.Equal(t, "Add login", tasks[0].Title)
	assert.Equal(t, "Fix logout", tasks[1].Title)
	assert.Equal(t, types.RiskStandard, tasks[0].Risk)

	doc = buildTasksDocument("just do the thing")
	tasks = doc.AllTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "just do the thing", tasks[0].Title)

	doc = buildTasksDocument("")
	tasks = doc.AllTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Implement requested change", tasks[0].Title)
}

// TestStaleness tests the staleness derivation table
func TestStaleness(t *testing.T) {
	approved := &types.Plan{ApprovedRepoCommit: "abc"}

	tests := []struct {
		name   string
		plan   *types.Plan
		repo   types.RepoState
		stale  bool
		reason types.StaleReason
	}{
		{"nil plan", nil, types.RepoState{}, false, ""},
		{"unapproved plan", &types.Plan{}, types.RepoState{Dirty: true}, false, ""},
		{"repo unavailable", approved, types.RepoState{Unavailable: true}, true, types.StaleRepoUnavailable},
		{"dirty tree", approved, types.RepoState{HeadCommit: "abc", Dirty: true}, true, types.StaleWorkingTree},
		{"commit mismatch", approved, types.RepoState{HeadCommit: "def"}, true, types.StaleCommitMismatch},
		{"clean match", approved, types.RepoState{HeadCommit: "abc"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale, reason := staleness(tt.plan, tt.repo)
			assert.Equal(t, tt.stale, stale)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

// TestErrorHTTPStatus tests the kind-to-status mapping
func TestErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		status int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindPlanStale, http.StatusConflict},
		{KindHighRiskConfirm, http.StatusConflict},
		{KindRunnerNotConnected, http.StatusConflict},
		{KindVerifyFailed, http.StatusConflict},
		{KindProviderUnavailable, http.StatusServiceUnavailable},
		{KindPRAdapter, http.StatusBadGateway},
		{KindGitOpFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, newError(tt.kind, "x").HTTPStatus(), string(tt.kind))
	}
}

// TestConnectProjectIdempotent tests repeat connects by root hash
func TestConnectProjectIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t)

	first, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)
	second, err := o.ConnectProject(testIdentity, "acme/renamed", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "acme/widgets", second.RepoName)

	_, err = o.ConnectProject(testIdentity, "", "")
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)
}

// TestCreatePlanRedactsInput tests that secrets never reach the plan record
func TestCreatePlanRedactsInput(t *testing.T) {
	o, _ := newOrchestrator(t)
	project, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)

	plan, err := o.CreatePlan(testIdentity, project.ID, "- Rotate GITHUB_TOKEN=ghp_secret123", nil)
	require.NoError(t, err)
	assert.NotContains(t, plan.InputRecord.Text, "ghp_secret123")

	_, err = o.CreatePlan(testIdentity, "ghost-project", "text", nil)
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindNotFound, oerr.Kind)
}

// TestApprovePlanIsOneShot tests approval validation and repeat rejection
func TestApprovePlanIsOneShot(t *testing.T) {
	o, _ := newOrchestrator(t)
	project, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)
	plan, err := o.CreatePlan(testIdentity, project.ID, "- Task", nil)
	require.NoError(t, err)

	_, err = o.ApprovePlan(testIdentity, plan.ID, "")
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	approved, err := o.ApprovePlan(testIdentity, plan.ID, "commit-abc")
	require.NoError(t, err)
	assert.Equal(t, "commit-abc", approved.ApprovedRepoCommit)

	_, err = o.ApprovePlan(testIdentity, plan.ID, "commit-def")
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	_, err = o.ApprovePlan(testIdentity, "ghost-plan", "commit-abc")
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindNotFound, oerr.Kind)
}

// TestStartRunGates tests the start-time validation gates in order
func TestStartRunGates(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	var oerr *Error

	// No approved plan.
	project, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)
	_, err = o.StartRun(ctx, testIdentity, project.ID, &StartRequest{})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	plan, err := o.CreatePlan(testIdentity, project.ID, "- Task", nil)
	require.NoError(t, err)
	_, err = o.ApprovePlan(testIdentity, plan.ID, "commit-abc")
	require.NoError(t, err)

	// No runner session, so repo state is unavailable and the plan is stale.
	_, err = o.StartRun(ctx, testIdentity, project.ID, &StartRequest{})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindPlanStale, oerr.Kind)
	assert.Equal(t, string(types.StaleRepoUnavailable), oerr.Details["stale_reason"])

	// Client model overrides are rejected.
	_, err = o.StartRun(ctx, testIdentity, project.ID, &StartRequest{ConfirmStale: true, Model: "gpt-4o"})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	// Unknown task id.
	_, err = o.StartRun(ctx, testIdentity, project.ID, &StartRequest{ConfirmStale: true, TaskID: "task-999"})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	// High risk demands explicit confirmation.
	_, err = o.StartRun(ctx, testIdentity, project.ID, &StartRequest{ConfirmStale: true, Risk: "high"})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindHighRiskConfirm, oerr.Kind)
}

// TestStartRunCompletes tests the whole pipeline against the mock provider
func TestStartRunCompletes(t *testing.T) {
	o, store := newOrchestrator(t)
	project, _ := connectAndApprove(t, o, "- Add rate limiting")

	run, err := o.StartRun(context.Background(), testIdentity, project.ID, &StartRequest{ConfirmStale: true})
	require.NoError(t, err)
	assert.Equal(t, types.RunStateDone, run.State)
	assert.Greater(t, run.CostToDate, 0.0)

	exec, err := store.GetTaskExecutionForRunTask(run.ID, "task-001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateDone, exec.State)
	assert.NotEmpty(t, exec.PatchText)
	assert.NotEmpty(t, exec.PatchPath)
	assert.Greater(t, exec.TokensIn, 0)
	require.NotNil(t, exec.RouterDecision)
	assert.NotEmpty(t, exec.RouterDecision.SelectedModel)

	trail := eventTypes(t, store, run.ID)
	for _, want := range []string{
		types.EventRunStarted,
		types.EventContextPackBuilt,
		types.EventRouterDecision,
		types.EventLLMCallStarted,
		types.EventLLMCallFinished,
		types.EventPatchProduced,
		types.EventTaskCompleted,
		types.EventRunCompleted,
		types.EventBillingPosted,
	} {
		assert.Contains(t, trail, want)
	}
}

// TestStartRunBudgetViolationPauses tests that a cap below the expected cost
// pauses the run instead of calling the provider
func TestStartRunBudgetViolationPauses(t *testing.T) {
	o, store := newOrchestrator(t)
	project, _ := connectAndApprove(t, o, "- Expensive task")

	run, err := o.StartRun(context.Background(), testIdentity, project.ID, &StartRequest{
		ConfirmStale: true,
		BudgetCapUSD: 0.0001,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatePaused, run.State)

	trail := eventTypes(t, store, run.ID)
	assert.Contains(t, trail, types.EventAnomalyDetected)
	assert.Contains(t, trail, types.EventRunPaused)
	assert.NotContains(t, trail, types.EventLLMCallStarted)
}

// TestPauseResumeCancel tests the run state machine transitions
func TestPauseResumeCancel(t *testing.T) {
	o, store := newOrchestrator(t)
	project, _ := connectAndApprove(t, o, "- Task")

	run, err := o.StartRun(context.Background(), testIdentity, project.ID, &StartRequest{ConfirmStale: true})
	require.NoError(t, err)
	require.Equal(t, types.RunStateDone, run.State)

	// A finished run cannot pause or cancel.
	var oerr *Error
	_, err = o.Pause(testIdentity, run.ID)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)
	_, err = o.Cancel(testIdentity, run.ID)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindValidation, oerr.Kind)

	// Force a running run to exercise pause/resume/cancel.
	run.State = types.RunStateRunning
	require.NoError(t, store.UpdateRun(run))

	paused, err := o.Pause(testIdentity, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatePaused, paused.State)

	_, err = o.Pause(testIdentity, run.ID)
	assert.Error(t, err, "pausing a paused run fails")

	resumed, err := o.Resume(testIdentity, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, resumed.State)

	cancelled, err := o.Cancel(testIdentity, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCancelled, cancelled.State)

	_, err = o.Pause(testIdentity, "ghost-run")
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, KindNotFound, oerr.Kind)
}

// TestStatus tests derived cost numbers and the budget clamp
func TestStatus(t *testing.T) {
	o, store := newOrchestrator(t)
	project, _ := connectAndApprove(t, o, "- Task")

	run, err := o.StartRun(context.Background(), testIdentity, project.ID, &StartRequest{ConfirmStale: true})
	require.NoError(t, err)

	status, err := o.Status(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, status.Run.ID)
	assert.Equal(t, run.CostToDate, status.CostToDateUSD)
	assert.Equal(t, 0.0, status.BudgetRemainingUSD, "no cap means no remaining figure")

	run.BudgetCapUSD = run.CostToDate + 1.0
	require.NoError(t, store.UpdateRun(run))
	status, err = o.Status(run.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, status.BudgetRemainingUSD, 1e-9)

	run.BudgetCapUSD = run.CostToDate / 2
	require.NoError(t, store.UpdateRun(run))
	status, err = o.Status(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.BudgetRemainingUSD, "overspend clamps to zero")

	_, err = o.Status("ghost-run")
	assert.Error(t, err)
}

// TestHighRiskConfirmationRequired tests the task-level risk triggers
func TestHighRiskConfirmationRequired(t *testing.T) {
	o, _ := newOrchestrator(t)

	assert.False(t, o.highRiskConfirmationRequired(types.RiskStandard, &types.PlanTask{Type: "feature"}))
	assert.True(t, o.highRiskConfirmationRequired(types.RiskHigh, &types.PlanTask{Type: "feature"}))
	assert.True(t, o.highRiskConfirmationRequired(types.RiskStandard, &types.PlanTask{Type: "feature", Risk: types.RiskHigh}))
	assert.True(t, o.highRiskConfirmationRequired(types.RiskStandard, &types.PlanTask{Type: "migration"}))
	assert.True(t, o.highRiskConfirmationRequired(types.RiskStandard, &types.PlanTask{
		Type:  "feature",
		Scope: &types.TaskScope{Paths: []string{"db/migrations/001.sql"}},
	}))
	assert.False(t, o.highRiskConfirmationRequired(types.RiskStandard, nil))
}

// TestPlanStatusFor tests the plan status projection without a runner
func TestPlanStatusFor(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	project, err := o.ConnectProject(testIdentity, "acme/widgets", "hash-1")
	require.NoError(t, err)

	status, err := o.PlanStatusFor(ctx, testIdentity, project.ID)
	require.NoError(t, err)
	assert.Empty(t, status.ApprovedPlanID)
	assert.False(t, status.RunnerConnected)

	plan, err := o.CreatePlan(testIdentity, project.ID, "- Task", nil)
	require.NoError(t, err)
	status, err = o.PlanStatusFor(ctx, testIdentity, project.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, status.LatestPlanID)
	assert.Empty(t, status.ApprovedPlanID)

	_, err = o.ApprovePlan(testIdentity, plan.ID, "commit-abc")
	require.NoError(t, err)
	status, err = o.PlanStatusFor(ctx, testIdentity, project.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, status.ApprovedPlanID)
	assert.Equal(t, "commit-abc", status.ApprovedCommit)
	assert.True(t, status.Stale)
	assert.Equal(t, types.StaleRepoUnavailable, status.StaleReason)
}
