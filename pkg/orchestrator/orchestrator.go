// Package orchestrator is the control plane's service layer: it owns the run
// state machine, drives each task through its pipeline of stages, and keeps
// the ledger and the event hub in step. Every side effect is appended to the
// ledger after it happened, never before.
package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trcoder/trcoder/pkg/artifacts"
	"github.com/trcoder/trcoder/pkg/billing"
	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/contextpack"
	"github.com/trcoder/trcoder/pkg/events"
	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/pr"
	"github.com/trcoder/trcoder/pkg/provider"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// Orchestrator wires the core components together. Construct one per process
// with New and pass it by explicit dependency.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	hub       *events.Hub
	bridge    *runner.Bridge
	factory   *provider.Factory
	packs     *contextpack.Manager
	policy    *permission.Policy
	billing   *billing.Manager
	artifacts *artifacts.Store
	adapter   pr.Adapter
	logger    zerolog.Logger

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// Deps bundles the orchestrator's collaborators
type Deps struct {
	Config    *config.Config
	Store     storage.Store
	Hub       *events.Hub
	Bridge    *runner.Bridge
	Factory   *provider.Factory
	Packs     *contextpack.Manager
	Policy    *permission.Policy
	Billing   *billing.Manager
	Artifacts *artifacts.Store
	PRAdapter pr.Adapter
}

// New creates an orchestrator
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       d.Config,
		store:     d.Store,
		hub:       d.Hub,
		bridge:    d.Bridge,
		factory:   d.Factory,
		packs:     d.Packs,
		policy:    d.Policy,
		billing:   d.Billing,
		artifacts: d.Artifacts,
		adapter:   d.PRAdapter,
		logger:    log.WithComponent("orchestrator"),
		runLocks:  make(map[string]*sync.Mutex),
	}
}

// lockRun serializes operations on one run. Runs across projects stay
// concurrent.
func (o *Orchestrator) lockRun(runID string) func() {
	o.mu.Lock()
	l, ok := o.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		o.runLocks[runID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// appendLedger writes one ledger event. A failed append is logged and
// surfaced; the ledger is the source of truth and silent loss is worse than a
// failed request.
func (o *Orchestrator) appendLedger(identity types.Identity, projectID, runID, planID, taskID, eventType string, payload map[string]interface{}) error {
	event := &types.LedgerEvent{
		EventID:   uuid.New().String(),
		TS:        time.Now(),
		OrgID:     identity.OrgID,
		UserID:    identity.UserID,
		ProjectID: projectID,
		RunID:     runID,
		PlanID:    planID,
		TaskID:    taskID,
		EventType: eventType,
		Payload:   payload,
	}
	if err := o.store.AppendEvent(event); err != nil {
		o.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("run_id", runID).
			Msg("ledger append failed")
		return err
	}
	return nil
}

// Pause transitions a running run to PAUSED. In-flight provider calls are
// allowed to finish.
func (o *Orchestrator) Pause(identity types.Identity, runID string) (*types.Run, error) {
	return o.transition(identity, runID, types.RunStateRunning, types.RunStatePaused, types.EventRunPaused, types.StreamRunPaused)
}

// Resume transitions a paused run back to RUNNING
func (o *Orchestrator) Resume(identity types.Identity, runID string) (*types.Run, error) {
	return o.transition(identity, runID, types.RunStatePaused, types.RunStateRunning, types.EventRunResumed, "")
}

// Cancel transitions a non-terminal run to CANCELLED
func (o *Orchestrator) Cancel(identity types.Identity, runID string) (*types.Run, error) {
	unlock := o.lockRun(runID)
	defer unlock()

	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, newError(KindNotFound, "run %s not found", runID)
	}
	if run.State.Terminal() {
		return nil, newError(KindValidation, "run %s is already %s", runID, run.State)
	}

	run.State = types.RunStateCancelled
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(run); err != nil {
		return nil, err
	}
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, "", types.EventRunCancelled, nil)
	o.hub.CloseRun(run.ID)
	return run, nil
}

func (o *Orchestrator) transition(identity types.Identity, runID string, from, to types.RunState, ledgerEvent, streamEvent string) (*types.Run, error) {
	unlock := o.lockRun(runID)
	defer unlock()

	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, newError(KindNotFound, "run %s not found", runID)
	}
	if run.State != from {
		return nil, newError(KindValidation, "run %s is %s, cannot transition to %s", runID, run.State, to)
	}

	run.State = to
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(run); err != nil {
		return nil, err
	}
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, "", ledgerEvent, nil)
	if streamEvent != "" {
		o.hub.Emit(run.ID, streamEvent, nil)
	}
	return run, nil
}

// RunStatus is the /runs/{id}/status answer
type RunStatus struct {
	Run                *types.Run `json:"run"`
	CurrentTaskID      string     `json:"current_task_id,omitempty"`
	CostToDateUSD      float64    `json:"cost_to_date_usd"`
	BudgetRemainingUSD float64    `json:"budget_remaining_usd"`
}

// Status returns a run's state and derived cost numbers
func (o *Orchestrator) Status(runID string) (*RunStatus, error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, newError(KindNotFound, "run %s not found", runID)
	}
	status := &RunStatus{
		Run:           run,
		CurrentTaskID: run.CurrentTaskID,
		CostToDateUSD: run.CostToDate,
	}
	if run.BudgetCapUSD > 0 {
		status.BudgetRemainingUSD = run.BudgetCapUSD - run.CostToDate
		if status.BudgetRemainingUSD < 0 {
			status.BudgetRemainingUSD = 0
		}
	}
	return status, nil
}

// pauseByAnomaly marks a run PAUSED after an anomaly, emitting the stream
// anomaly, the ledger ANOMALY_DETECTED and the RUN_PAUSED pair.
func (o *Orchestrator) pauseByAnomaly(identity types.Identity, run *types.Run, reason string) {
	o.hub.Emit(run.ID, types.StreamAnomaly, map[string]interface{}{
		"reason": reason,
		"action": "paused",
	})
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, "", types.EventAnomalyDetected, map[string]interface{}{
		"reason": reason,
	})

	run.State = types.RunStatePaused
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(run); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to pause run")
	}
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, "", types.EventRunPaused, nil)
	o.hub.Emit(run.ID, types.StreamRunPaused, map[string]interface{}{"reason": reason})
}
