package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/trcoder/trcoder/pkg/pr"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/types"
)

// ApplyResult is the apply pipeline's answer
type ApplyResult struct {
	Branch   string `json:"branch"`
	PRNumber int    `json:"pr_number"`
	PRURL    string `json:"pr_url"`
}

// Apply turns a run's patch into a pull request: strict verify, isolated
// worktree, apply+commit+push, then the PR adapter. The worktree is always
// removed on failure; the branch is deleted if the push never happened. This
// is the only verb that sends write-class git commands to the runner.
func (o *Orchestrator) Apply(ctx context.Context, identity types.Identity, runID string) (*ApplyResult, error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, newError(KindNotFound, "run %s not found", runID)
	}
	if !o.bridge.Connected(run.ProjectID) {
		return nil, newError(KindRunnerNotConnected, "no runner connected for project %s", run.ProjectID)
	}

	exec, err := o.store.GetTaskExecutionForRunTask(run.ID, run.CurrentTaskID)
	if err != nil || exec.PatchText == "" {
		return nil, newError(KindValidation, "run %s has no patch to apply", runID)
	}

	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, exec.PlanTaskID, types.EventApplyStarted, nil)

	// Strict verify gates the apply.
	verify, err := o.Verify(ctx, identity, runID, string(types.VerifyStrict))
	if err != nil {
		return nil, err
	}
	if !verify.Passed {
		return nil, newError(KindVerifyFailed, "strict verify failed").withDetail("report_path", verify.ReportPath)
	}

	// Only GitHub remotes are supported.
	remote, err := o.execReadOnly(ctx, run.ProjectID, "git remote get-url origin")
	if err != nil || remote.ExitCode != 0 {
		return nil, newError(KindGitOpFailed, "cannot resolve origin remote")
	}
	owner, repo, err := pr.ParseGitHubRemote(remote.Stdout)
	if err != nil {
		return nil, newError(KindValidation, "%v", err)
	}

	branch := fmt.Sprintf("trcoder/%s/%s", run.ID, exec.PlanTaskID)
	if local, err := o.execReadOnly(ctx, run.ProjectID, fmt.Sprintf("git rev-parse --verify --quiet refs/heads/%s", branch)); err == nil && local.ExitCode == 0 {
		return nil, newError(KindValidation, "branch %s already exists locally", branch)
	}
	if exists, err := o.adapter.BranchExists(ctx, owner, repo, branch); err == nil && exists {
		return nil, newError(KindValidation, "branch %s already exists on the remote", branch)
	}

	result, err := o.applyInWorktree(ctx, identity, run, exec, owner, repo, branch)
	if err != nil {
		return nil, err
	}

	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, exec.PlanTaskID, types.EventApplyFinished, map[string]interface{}{
		"branch": result.Branch,
		"pr_url": result.PRURL,
	})
	return result, nil
}

// applyInWorktree materializes the patch in an isolated worktree off HEAD,
// commits, pushes, and opens the PR. Cleanup runs on every exit path.
func (o *Orchestrator) applyInWorktree(ctx context.Context, identity types.Identity, run *types.Run, exec *types.TaskExecution, owner, repo, branch string) (*ApplyResult, error) {
	wt := fmt.Sprintf(".trcoder-worktree-%s", run.ID)
	patchFile := fmt.Sprintf("%s/.trcoder-apply.patch", wt)
	pushed := false

	if res, err := o.applyExec(ctx, identity, run, fmt.Sprintf("git worktree add -b %s %s HEAD", branch, wt)); err != nil || res.ExitCode != 0 {
		return nil, newError(KindGitOpFailed, "worktree creation failed").withDetail("details", execDetail(res, err))
	}
	defer func() {
		o.applyExec(ctx, identity, run, fmt.Sprintf("git worktree remove --force %s", wt))
		if !pushed {
			o.applyExec(ctx, identity, run, fmt.Sprintf("git branch -D %s", branch))
		}
	}()

	if res, err := o.bridge.WriteFile(ctx, run.ProjectID, patchFile, exec.PatchText); err != nil || res.ExitCode != 0 {
		return nil, newError(KindGitOpFailed, "failed to materialize patch").withDetail("details", execDetail(res, err))
	}

	steps := []string{
		fmt.Sprintf("git -C %s apply --index .trcoder-apply.patch", wt),
		fmt.Sprintf("git -C %s rm --cached -q .trcoder-apply.patch", wt),
		fmt.Sprintf("git -C %s commit -m %q", wt, fmt.Sprintf("trcoder: %s", exec.PlanTaskID)),
	}
	for _, cmd := range steps {
		if res, err := o.applyExec(ctx, identity, run, cmd); err != nil || res.ExitCode != 0 {
			return nil, newError(KindGitOpFailed, "git operation failed").withDetail("details", execDetail(res, err))
		}
	}

	if res, err := o.applyExec(ctx, identity, run, fmt.Sprintf("git -C %s push -u origin %s", wt, branch)); err != nil || res.ExitCode != 0 {
		return nil, newError(KindGitOpFailed, "push failed").withDetail("details", execDetail(res, err))
	}
	pushed = true

	target, err := o.adapter.GetDefaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, newError(KindPRAdapter, "default branch lookup failed").withDetail("details", err.Error())
	}

	created, err := o.adapter.CreatePullRequest(ctx, owner, repo, &pr.CreateRequest{
		Title:  prTitle(exec),
		Body:   prBody(run, exec),
		Source: branch,
		Target: target,
	})
	if err != nil {
		return nil, newError(KindPRAdapter, "pull request creation failed").withDetail("details", err.Error())
	}

	return &ApplyResult{Branch: branch, PRNumber: created.Number, PRURL: created.URL}, nil
}

// applyExec runs an apply-pipeline git command through the bridge. These are
// the only write-class commands the server ever sends; they carry their
// policy classification like everything else.
func (o *Orchestrator) applyExec(ctx context.Context, identity types.Identity, run *types.Run, command string) (*runner.Result, error) {
	class := o.policy.Classify(command)
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventRunnerCmdStarted, map[string]interface{}{
		"command":          command,
		"permission_class": string(class),
	})
	res, err := o.bridge.Exec(ctx, run.ProjectID, command, class, 0)
	if err != nil {
		return nil, err
	}
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventRunnerCmdFinished, map[string]interface{}{
		"command":   command,
		"exit_code": res.ExitCode,
	})
	return res, nil
}

func execDetail(res *runner.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return ""
	}
	return strings.TrimSpace(res.Stderr)
}

func prTitle(exec *types.TaskExecution) string {
	return fmt.Sprintf("trcoder: %s", exec.PlanTaskID)
}

func prBody(run *types.Run, exec *types.TaskExecution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for task %s in run %s.\n\n", exec.PlanTaskID, run.ID)
	if len(exec.ChangedFiles) > 0 {
		b.WriteString("Changed files:\n")
		for _, f := range exec.ChangedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
