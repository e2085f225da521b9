package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// ConnectProject registers a project, idempotent by repo root hash. A repeat
// connect with the same hash returns the existing project.
func (o *Orchestrator) ConnectProject(identity types.Identity, repoName, repoRootHash string) (*types.Project, error) {
	if repoName == "" || repoRootHash == "" {
		return nil, newError(KindValidation, "repo_name and repo_root_hash are required")
	}

	if existing, err := o.store.GetProjectByRootHash(repoRootHash); err == nil {
		return existing, nil
	}

	project := &types.Project{
		ID:           uuid.New().String(),
		RepoName:     repoName,
		RepoRootHash: repoRootHash,
		OrgID:        identity.OrgID,
		CreatedAt:    time.Now(),
	}
	if err := o.store.CreateProject(project); err != nil {
		return nil, err
	}
	o.appendLedger(identity, project.ID, "", "", "", types.EventProjectConnected, map[string]interface{}{
		"repo_name": repoName,
	})
	return project, nil
}

// CreatePlan creates an immutable plan from free text and/or attachments.
// User input is redacted before storage; the tasks document is synthesized
// from the input.
func (o *Orchestrator) CreatePlan(identity types.Identity, projectID string, text string, attachments map[string]string) (*types.Plan, error) {
	if _, err := o.store.GetProject(projectID); err != nil {
		return nil, newError(KindNotFound, "project %s not found", projectID)
	}

	input := &types.PlanInput{Text: redact.String(text)}
	var manifest []string
	for name, content := range attachments {
		path, err := o.artifacts.WritePlanFile(projectID, name, redact.String(content))
		if err != nil {
			return nil, err
		}
		input.Attachments = append(input.Attachments, name)
		manifest = append(manifest, path)
	}

	plan := &types.Plan{
		ID:                uuid.New().String(),
		ProjectID:         projectID,
		CreatedAt:         time.Now(),
		ArtifactsManifest: manifest,
		Tasks:             buildTasksDocument(input.Text),
		InputRecord:       input,
	}
	if err := o.store.CreatePlan(plan); err != nil {
		return nil, err
	}
	o.appendLedger(identity, projectID, "", plan.ID, "", types.EventPlanCreated, map[string]interface{}{
		"tasks": len(plan.Tasks.AllTasks()),
	})
	return plan, nil
}

// ApprovePlan marks a plan approved at a specific commit. Approval is
// one-shot; a second approval fails.
func (o *Orchestrator) ApprovePlan(identity types.Identity, planID, repoCommit string) (*types.Plan, error) {
	if repoCommit == "" {
		return nil, newError(KindValidation, "repo_commit is required")
	}

	plan, err := o.store.ApprovePlan(planID, repoCommit, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyApproved) {
			return nil, newError(KindValidation, "plan %s is already approved", planID)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, "plan %s not found", planID)
		}
		return nil, err
	}
	o.appendLedger(identity, plan.ProjectID, "", plan.ID, "", types.EventPlanApproved, map[string]interface{}{
		"repo_commit": repoCommit,
	})
	return plan, nil
}

// PlanStatus is the /plan/status answer
type PlanStatus struct {
	LatestPlanID    string            `json:"latest_plan_id,omitempty"`
	ApprovedPlanID  string            `json:"approved_plan_id,omitempty"`
	ApprovedCommit  string            `json:"approved_commit,omitempty"`
	HeadCommit      string            `json:"head_commit,omitempty"`
	Dirty           bool              `json:"dirty"`
	Stale           bool              `json:"stale"`
	StaleReason     types.StaleReason `json:"stale_reason,omitempty"`
	RunnerConnected bool              `json:"runner_connected"`
}

// PlanStatusFor reports the latest and approved plan ids plus staleness
// derived from the live repo state.
func (o *Orchestrator) PlanStatusFor(ctx context.Context, identity types.Identity, projectID string) (*PlanStatus, error) {
	status := &PlanStatus{RunnerConnected: o.bridge.Connected(projectID)}

	if latest, err := o.store.LatestPlan(projectID); err == nil {
		status.LatestPlanID = latest.ID
	}

	approved, err := o.store.LatestApprovedPlan(projectID)
	if err != nil {
		return status, nil
	}
	status.ApprovedPlanID = approved.ID
	status.ApprovedCommit = approved.ApprovedRepoCommit

	repo := o.repoState(ctx, projectID)
	status.HeadCommit = repo.HeadCommit
	status.Dirty = repo.Dirty
	status.Stale, status.StaleReason = staleness(approved, repo)

	o.appendLedger(identity, projectID, "", approved.ID, "", types.EventPlanStatus, map[string]interface{}{
		"stale": status.Stale,
	})
	return status, nil
}

// ApprovedTasks returns the approved plan's tasks document
func (o *Orchestrator) ApprovedTasks(projectID string) (*types.TasksDocument, error) {
	plan, err := o.store.LatestApprovedPlan(projectID)
	if err != nil {
		return nil, newError(KindNotFound, "no approved plan for project %s", projectID)
	}
	return plan.Tasks, nil
}

// buildTasksDocument synthesizes a phased task list from free-text input.
// Bullet lines each become a task; empty input yields a single default task
// so an approved plan is always runnable.
func buildTasksDocument(text string) *types.TasksDocument {
	var titles []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			titles = append(titles, strings.TrimSpace(line[2:]))
		}
	}
	if len(titles) == 0 {
		title := strings.TrimSpace(text)
		if title == "" {
			title = "Implement requested change"
		}
		titles = []string{title}
	}

	phase := &types.Phase{Name: "Phase 1"}
	for i, title := range titles {
		phase.Tasks = append(phase.Tasks, &types.PlanTask{
			ID:    fmt.Sprintf("task-%03d", i+1),
			Title: title,
			Type:  "feature",
			Risk:  types.RiskStandard,
		})
	}
	return &types.TasksDocument{Phases: []*types.Phase{phase}}
}
