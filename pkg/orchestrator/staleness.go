package orchestrator

import (
	"context"
	"strings"

	"github.com/gobwas/glob"

	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/types"
)

// repoState asks the runner for the working tree state. A missing session or
// a failing git invocation yields Unavailable; staleness then reports
// repo_state_unavailable rather than guessing.
func (o *Orchestrator) repoState(ctx context.Context, projectID string) types.RepoState {
	head, err := o.execReadOnly(ctx, projectID, "git rev-parse HEAD")
	if err != nil || head.ExitCode != 0 {
		return types.RepoState{Unavailable: true}
	}

	status, err := o.execReadOnly(ctx, projectID, "git status --porcelain")
	if err != nil || status.ExitCode != 0 {
		return types.RepoState{Unavailable: true}
	}

	return types.RepoState{
		HeadCommit: strings.TrimSpace(head.Stdout),
		Dirty:      strings.TrimSpace(status.Stdout) != "",
	}
}

// staleness derives whether an approved plan still matches the repo.
// No approved commit means never stale.
func staleness(plan *types.Plan, repo types.RepoState) (bool, types.StaleReason) {
	if plan == nil || plan.ApprovedRepoCommit == "" {
		return false, ""
	}
	if repo.Unavailable {
		return true, types.StaleRepoUnavailable
	}
	if repo.Dirty {
		return true, types.StaleWorkingTree
	}
	if repo.HeadCommit != plan.ApprovedRepoCommit {
		return true, types.StaleCommitMismatch
	}
	return false, ""
}

// highRiskConfirmationRequired evaluates the risk gates for one task: the
// run's risk level, the task's own risk, high-risk task types, and high-risk
// scope path patterns.
func (o *Orchestrator) highRiskConfirmationRequired(risk types.RiskLevel, task *types.PlanTask) bool {
	if entry, ok := o.cfg.RiskPolicy.RiskLevels[risk]; ok && entry.ConfirmationRequired {
		return true
	}
	if task == nil {
		return false
	}
	if entry, ok := o.cfg.RiskPolicy.RiskLevels[task.Risk]; ok && entry.ConfirmationRequired {
		return true
	}
	for _, t := range o.cfg.RiskPolicy.HighRiskTaskTypes {
		if t == task.Type {
			return true
		}
	}
	if task.Scope != nil {
		for _, pattern := range o.cfg.RiskPolicy.HighRiskPathPatterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				continue
			}
			for _, p := range task.Scope.Paths {
				if g.Match(p) {
					return true
				}
			}
		}
	}
	return false
}

// execReadOnly runs a read-only command through the bridge with its policy
// classification attached. Used by repo-state probes and signal gathering
// during start; no write-class command ever travels this path.
func (o *Orchestrator) execReadOnly(ctx context.Context, projectID, command string) (*runner.Result, error) {
	class := o.policy.Classify(command)
	return o.bridge.Exec(ctx, projectID, command, class, 0)
}

// ExecReadOnly exposes the classified read-only exec path to the API layer's
// pack introspection endpoints.
func (o *Orchestrator) ExecReadOnly(ctx context.Context, projectID, command string) (*runner.Result, error) {
	return o.execReadOnly(ctx, projectID, command)
}
