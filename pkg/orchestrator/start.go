package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trcoder/trcoder/pkg/cost"
	"github.com/trcoder/trcoder/pkg/metrics"
	"github.com/trcoder/trcoder/pkg/provider"
	"github.com/trcoder/trcoder/pkg/router"
	"github.com/trcoder/trcoder/pkg/types"
)

// StartRequest is the /runs/start body
type StartRequest struct {
	TaskID          string  `json:"task_id,omitempty"`
	Lane            string  `json:"lane,omitempty"`
	Risk            string  `json:"risk,omitempty"`
	Model           string  `json:"model,omitempty"`
	BudgetCapUSD    float64 `json:"budget_cap_usd,omitempty"`
	ConfirmStale    bool    `json:"confirm_stale,omitempty"`
	ConfirmHighRisk bool    `json:"confirm_high_risk,omitempty"`
}

// StartRun drives one plan task end to end: staleness and risk gates, context
// pack, router, provider call, patch artifact, and the full event trail. The
// returned run may be PAUSED when the router flags a budget violation.
func (o *Orchestrator) StartRun(ctx context.Context, identity types.Identity, projectID string, req *StartRequest) (*types.Run, error) {
	// 1. Approved plan
	plan, err := o.store.LatestApprovedPlan(projectID)
	if err != nil {
		return nil, newError(KindValidation, "no approved plan for project %s", projectID)
	}

	// 2. Staleness
	repo := o.repoState(ctx, projectID)
	if stale, reason := staleness(plan, repo); stale && !req.ConfirmStale {
		return nil, newError(KindPlanStale, "plan %s is stale", plan.ID).withDetail("stale_reason", string(reason))
	}

	// 3. Client model overrides are never trusted
	if req.Model != "" {
		return nil, newError(KindValidation, "model overrides are not accepted")
	}

	// 4. Task selection and risk gate
	task := o.selectTask(plan, req.TaskID)
	if task == nil {
		return nil, newError(KindValidation, "task %q not found in approved plan", req.TaskID)
	}

	lane := req.Lane
	if lane == "" {
		lane = o.cfg.LanePolicy.DefaultLane
	}
	risk := types.RiskLevel(req.Risk)
	if risk == "" {
		risk = types.RiskLevel(o.cfg.RiskPolicy.DefaultRisk)
	}

	if o.highRiskConfirmationRequired(risk, task) && !req.ConfirmHighRisk {
		return nil, newError(KindHighRiskConfirm, "task %s requires high-risk confirmation", task.ID)
	}

	// 5. Run record, banner, ledger start
	now := time.Now()
	run := &types.Run{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		PlanID:        plan.ID,
		State:         types.RunStateRunning,
		Lane:          lane,
		Risk:          risk,
		BudgetCapUSD:  req.BudgetCapUSD,
		CurrentTaskID: task.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateRun(run); err != nil {
		return nil, err
	}

	exec := &types.TaskExecution{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		PlanTaskID: task.ID,
		State:      types.TaskStateRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.CreateTaskExecution(exec); err != nil {
		return nil, err
	}

	o.hub.Emit(run.ID, types.StreamRunBanner, map[string]interface{}{
		"run_id":  run.ID,
		"plan_id": plan.ID,
		"task_id": task.ID,
		"lane":    lane,
		"risk":    string(risk),
	})
	o.appendLedger(identity, projectID, run.ID, plan.ID, task.ID, types.EventRunStarted, map[string]interface{}{
		"lane": lane,
		"risk": string(risk),
	})

	// 6. Context pack
	o.emitStage(identity, run, task.ID, types.StagePrepareContext)
	pack := o.buildPack(ctx, run, task)
	if err := o.packs.Save(pack); err != nil {
		return nil, err
	}
	o.appendLedger(identity, projectID, run.ID, plan.ID, task.ID, types.EventContextPackBuilt, map[string]interface{}{
		"pack_id": pack.PackID,
		"files":   len(pack.FileEntries),
	})
	o.hub.Emit(run.ID, types.StreamContextPackBuilt, map[string]interface{}{"pack_id": pack.PackID})

	// 7. Router
	var budgetRemaining *float64
	if run.BudgetCapUSD > 0 {
		remaining := run.BudgetCapUSD - run.CostToDate
		budgetRemaining = &remaining
	}
	laneCfg := o.cfg.LanePolicy.Lanes[lane]
	contextBudget := 0
	if laneCfg != nil {
		contextBudget = laneCfg.ContextBudgets.MaxLines
	}
	decision := router.Decide(o.cfg, router.Input{
		TaskType:        task.Type,
		Lane:            lane,
		Risk:            risk,
		BudgetRemaining: budgetRemaining,
		ContextBudget:   contextBudget,
	})
	exec.RouterDecision = decision
	exec.UpdatedAt = time.Now()
	if err := o.store.UpdateTaskExecution(exec); err != nil {
		return nil, err
	}
	o.appendLedger(identity, projectID, run.ID, plan.ID, task.ID, types.EventRouterDecision, map[string]interface{}{
		"selected_model":    decision.SelectedModel,
		"expected_tokens":   decision.ExpectedTokens,
		"expected_cost_usd": decision.ExpectedCostUSD,
		"budget_violation":  decision.BudgetViolation,
	})
	o.hub.Emit(run.ID, types.StreamRouterDecision, map[string]interface{}{
		"selected_model":   decision.SelectedModel,
		"budget_violation": decision.BudgetViolation,
	})

	if decision.BudgetViolation {
		o.pauseByAnomaly(identity, run, "budget cap would be exceeded")
		return run, nil
	}

	// 8. Provider resolution
	if _, err := o.factory.Resolve(ctx, decision.SelectedModel); err != nil {
		o.pauseByAnomaly(identity, run, "provider unavailable")
		return run, newError(KindProviderUnavailable, "no provider for model %s", decision.SelectedModel)
	}

	// 9-12. Task pipeline
	if err := o.executeTask(ctx, identity, run, plan, task, exec, decision); err != nil {
		return run, err
	}

	// 13. Session stats, completion, billing post
	if stats, err := cost.ComputeSessionStats(o.store, run, len(plan.Tasks.AllTasks())); err == nil {
		o.hub.Emit(run.ID, types.StreamSessionStats, map[string]interface{}{
			"elapsed_seconds": stats.ElapsedSeconds,
			"tasks_completed": stats.TasksCompleted,
			"tasks_total":     stats.TasksTotal,
			"cost_to_date":    stats.CostToDateUSD,
		})
	}

	run.State = types.RunStateDone
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(run); err != nil {
		return run, err
	}
	o.appendLedger(identity, projectID, run.ID, plan.ID, task.ID, types.EventRunCompleted, nil)
	o.hub.Emit(run.ID, types.StreamRunCompleted, nil)
	o.appendLedger(identity, projectID, run.ID, plan.ID, task.ID, types.EventBillingPosted, map[string]interface{}{
		"cost_to_date_usd": run.CostToDate,
	})

	return run, nil
}

// executeTask runs steps 9 through 12: the model call, patch artifact, and
// the task's observable stage trail.
func (o *Orchestrator) executeTask(ctx context.Context, identity types.Identity, run *types.Run, plan *types.Plan, task *types.PlanTask, exec *types.TaskExecution, decision *types.RouterDecision) error {
	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventTaskStarted, map[string]interface{}{
		"title": task.Title,
	})
	o.hub.Emit(run.ID, types.StreamTaskStarted, map[string]interface{}{
		"task_id": task.ID,
		"title":   task.Title,
	})
	o.emitStage(identity, run, task.ID, types.StageDesign)

	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventLLMCallStarted, map[string]interface{}{
		"model": decision.SelectedModel,
	})

	result, resolution, err := o.factory.GeneratePatch(ctx, decision.SelectedModel, &provider.PatchRequest{
		TaskID:       task.ID,
		Instructions: task.Title,
		Context:      task.Execution,
	})
	if err != nil {
		o.failTask(identity, run, plan, task, exec, err)
		o.pauseByAnomaly(identity, run, "provider unavailable")
		return newError(KindProviderUnavailable, "patch generation failed: %v", err)
	}

	tokensIn, tokensOut := result.Usage.TokensIn, result.Usage.TokensOut
	if !result.Usage.Reported {
		tokensIn = decision.ExpectedTokens / 2
		tokensOut = decision.ExpectedTokens - tokensIn
	}

	credits, err := o.billing.CreditBalance(identity.OrgID)
	if err != nil {
		credits = 0
	}
	breakdown := cost.CalculateCost(o.cfg, resolution.Model, identity.BillingPlan, tokensIn, tokensOut, credits)

	payload := breakdown.Payload()
	payload["task_type"] = task.Type
	payload["lane"] = run.Lane
	payload["used_fallback"] = resolution.UsedFallback
	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventLLMCallFinished, payload)
	o.billing.RecordConsumption(identity, run.ID, breakdown.CreditsAppliedUSD)

	metrics.TokensTotal.WithLabelValues(resolution.Model, "in").Add(float64(tokensIn))
	metrics.TokensTotal.WithLabelValues(resolution.Model, "out").Add(float64(tokensOut))
	metrics.ChargedUSDTotal.Add(breakdown.OurChargeUSD)

	run.CostToDate += breakdown.OurChargeUSD
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(run); err != nil {
		return err
	}

	patchPath, err := o.artifacts.WritePatch(run.ID, task.ID, result.PatchText)
	if err != nil {
		return err
	}
	exec.PatchPath = patchPath
	exec.PatchText = result.PatchText
	exec.ChangedFiles = result.ChangedFiles
	exec.TokensIn = tokensIn
	exec.TokensOut = tokensOut
	exec.CostUSD = breakdown.OurChargeUSD
	exec.UpdatedAt = time.Now()
	if err := o.store.UpdateTaskExecution(exec); err != nil {
		return err
	}

	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventPatchProduced, map[string]interface{}{
		"patch_path":    patchPath,
		"changed_files": len(result.ChangedFiles),
	})
	o.emitStage(identity, run, task.ID, types.StageImplementPatch)

	o.hub.Emit(run.ID, types.StreamTaskResult, map[string]interface{}{
		"task_id":       task.ID,
		"patch_text":    result.PatchText,
		"changed_files": result.ChangedFiles,
		"tokens_in":     tokensIn,
		"tokens_out":    tokensOut,
		"cost_usd":      breakdown.OurChargeUSD,
		"verify_status": "pending",
	})

	o.emitStage(identity, run, task.ID, types.StageSelfReview)
	o.emitStage(identity, run, task.ID, types.StageProposeApply)

	exec.State = types.TaskStateDone
	exec.UpdatedAt = time.Now()
	if err := o.store.UpdateTaskExecution(exec); err != nil {
		return err
	}
	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventTaskCompleted, nil)
	o.hub.Emit(run.ID, types.StreamTaskCompleted, map[string]interface{}{"task_id": task.ID})

	return nil
}

// emitStage emits one TASK_STAGE to both the hub and the ledger
func (o *Orchestrator) emitStage(identity types.Identity, run *types.Run, taskID string, stage types.TaskStage) {
	o.hub.Emit(run.ID, types.StreamTaskStage, map[string]interface{}{
		"task_id": taskID,
		"stage":   string(stage),
	})
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, taskID, types.EventTaskStage, map[string]interface{}{
		"stage": string(stage),
	})
}

func (o *Orchestrator) failTask(identity types.Identity, run *types.Run, plan *types.Plan, task *types.PlanTask, exec *types.TaskExecution, cause error) {
	exec.State = types.TaskStateFailed
	exec.UpdatedAt = time.Now()
	if err := o.store.UpdateTaskExecution(exec); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to record task failure")
	}
	o.appendLedger(identity, run.ProjectID, run.ID, plan.ID, task.ID, types.EventTaskFailed, map[string]interface{}{
		"error": cause.Error(),
	})
}

// selectTask returns the requested task or the plan's first task
func (o *Orchestrator) selectTask(plan *types.Plan, taskID string) *types.PlanTask {
	if taskID != "" {
		return plan.Tasks.FindTask(taskID)
	}
	tasks := plan.Tasks.AllTasks()
	if len(tasks) == 0 {
		return nil
	}
	return tasks[0]
}

// buildPack gathers signals through the bridge and assembles the task's
// context pack under the lane's budgets. Signal gathering tolerates a missing
// runner; the pack is then built from pins alone.
func (o *Orchestrator) buildPack(ctx context.Context, run *types.Run, task *types.PlanTask) *types.ContextPack {
	var signals types.Signals
	if diff, err := o.execReadOnly(ctx, run.ProjectID, "git diff --stat"); err == nil && diff.ExitCode == 0 {
		signals.DiffSummary = diff.Stdout
	}
	if status, err := o.execReadOnly(ctx, run.ProjectID, "git status --short"); err == nil && status.ExitCode == 0 {
		signals.Logs = status.Stdout
	}

	budgets := types.Budgets{MaxFiles: 20, MaxLines: 2000}
	if laneCfg := o.cfg.LanePolicy.Lanes[run.Lane]; laneCfg != nil {
		budgets = types.Budgets{
			MaxFiles:   laneCfg.ContextBudgets.MaxFiles,
			MaxLines:   laneCfg.ContextBudgets.MaxLines,
			GraphDepth: laneCfg.ContextBudgets.GraphDepth,
			TopK:       laneCfg.ContextBudgets.TopK,
			Hydrate:    laneCfg.ContextBudgets.Hydrate,
		}
	}

	var pins []string
	if task.Scope != nil {
		pins = task.Scope.Paths
	}

	pack := o.packs.Build(run.ID, task.ID, run.ProjectID, budgets, pins, signals)
	if budgets.Hydrate {
		pack = o.packs.Enrich(ctx, pack)
	}
	return pack
}
