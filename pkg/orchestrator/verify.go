package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/types"
)

// GateResult records one verify gate's outcome
type GateResult struct {
	Gate       string `json:"gate"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Blocked    bool   `json:"blocked"`
	BlockedBy  string `json:"blocked_by,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
}

// VerifyResult is the verify pipeline's answer
type VerifyResult struct {
	Mode       types.VerifyMode `json:"mode"`
	Passed     bool             `json:"passed"`
	Gates      []*GateResult    `json:"gates"`
	ReportPath string           `json:"report_path"`
}

// Verify executes the run's verify gates through the runner. The effective
// mode is the stricter of the lane's mode and the risk level's strictness;
// the caller may override with any valid mode. Verify passes iff every gate
// exits zero.
func (o *Orchestrator) Verify(ctx context.Context, identity types.Identity, runID, modeOverride string) (*VerifyResult, error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, newError(KindNotFound, "run %s not found", runID)
	}
	if !o.bridge.Connected(run.ProjectID) {
		return nil, newError(KindRunnerNotConnected, "no runner connected for project %s", run.ProjectID)
	}

	mode := o.effectiveVerifyMode(run)
	if modeOverride != "" {
		if !types.ValidVerifyMode(modeOverride) {
			return nil, newError(KindValidation, "unknown verify mode %q", modeOverride)
		}
		mode = types.VerifyMode(modeOverride)
	}

	modeEntry := o.cfg.VerifyGates.Modes[string(mode)]
	if modeEntry == nil {
		return nil, newError(KindValidation, "verify mode %q has no configured gates", mode)
	}

	o.emitStage(identity, run, run.CurrentTaskID, types.StageLocalVerify)
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventVerifyStarted, map[string]interface{}{
		"mode": string(mode),
	})

	result := &VerifyResult{Mode: mode, Passed: true}
	for _, gate := range modeEntry.Gates {
		gr := o.runGate(ctx, identity, run, gate, o.cfg.VerifyGates.Commands[gate])
		result.Gates = append(result.Gates, gr)
		if gr.ExitCode != 0 {
			result.Passed = false
		}
	}

	reportPath, err := o.artifacts.WriteVerifyReport(run.ID, verifyReport(run, result))
	if err != nil {
		return nil, err
	}
	result.ReportPath = reportPath

	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventVerifyFinished, map[string]interface{}{
		"mode":        string(mode),
		"passed":      result.Passed,
		"report_path": reportPath,
	})
	o.hub.Emit(run.ID, types.StreamVerifyFinished, map[string]interface{}{
		"mode":   string(mode),
		"passed": result.Passed,
	})

	return result, nil
}

// runGate executes one gate command with the permission floor applied. A
// deny classification short-circuits server-side; ask refusals come back
// from the runner with the distinguishable stderr marker.
func (o *Orchestrator) runGate(ctx context.Context, identity types.Identity, run *types.Run, gate, command string) *GateResult {
	gr := &GateResult{Gate: gate, Command: command}

	class := o.policy.Classify(command)
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventRunnerCmdStarted, map[string]interface{}{
		"gate":             gate,
		"command":          command,
		"permission_class": string(class),
	})

	if class == permission.Deny {
		gr.ExitCode = 1
		gr.Blocked = true
		gr.BlockedBy = "deny"
		gr.Output = runner.StderrDenied
		o.recordBlocked(identity, run, command, "deny")
		o.finishCmd(identity, run, gate, gr)
		return gr
	}

	res, err := o.bridge.Exec(ctx, run.ProjectID, command, class, 0)
	if err != nil {
		gr.ExitCode = 1
		gr.Output = err.Error()
		o.finishCmd(identity, run, gate, gr)
		return gr
	}

	gr.ExitCode = res.ExitCode
	gr.DurationMS = res.DurationMS
	gr.Output = strings.TrimSpace(res.Stdout + "\n" + res.Stderr)

	switch res.Stderr {
	case runner.StderrDenied:
		gr.Blocked = true
		gr.BlockedBy = "deny"
		o.recordBlocked(identity, run, command, "deny")
	case runner.StderrAskDenied:
		gr.Blocked = true
		gr.BlockedBy = "ask_denied"
		o.recordBlocked(identity, run, command, "ask_denied")
	}

	o.finishCmd(identity, run, gate, gr)
	return gr
}

func (o *Orchestrator) finishCmd(identity types.Identity, run *types.Run, gate string, gr *GateResult) {
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventRunnerCmdFinished, map[string]interface{}{
		"gate":      gate,
		"command":   gr.Command,
		"exit_code": gr.ExitCode,
	})
}

func (o *Orchestrator) recordBlocked(identity types.Identity, run *types.Run, command, reason string) {
	o.appendLedger(identity, run.ProjectID, run.ID, run.PlanID, run.CurrentTaskID, types.EventRunnerCmdBlocked, map[string]interface{}{
		"command": command,
		"reason":  reason,
	})
	o.hub.Emit(run.ID, types.StreamPermissionDenied, map[string]interface{}{
		"command": command,
		"reason":  reason,
	})
}

// effectiveVerifyMode resolves max(lane.verify_mode, risk.verify_strictness)
func (o *Orchestrator) effectiveVerifyMode(run *types.Run) types.VerifyMode {
	mode := types.VerifyTargeted
	if laneCfg := o.cfg.LanePolicy.Lanes[run.Lane]; laneCfg != nil && types.ValidVerifyMode(laneCfg.VerifyMode) {
		mode = types.VerifyMode(laneCfg.VerifyMode)
	}
	if riskEntry := o.cfg.RiskPolicy.RiskLevels[run.Risk]; riskEntry != nil && types.ValidVerifyMode(riskEntry.VerifyStrictness) {
		mode = types.MaxVerifyMode(mode, types.VerifyMode(riskEntry.VerifyStrictness))
	}
	return mode
}

// verifyReport renders the Markdown report stored in the run's artifact
// directory. Gate output is already redacted by the bridge.
func verifyReport(run *types.Run, result *VerifyResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verify report\n\n")
	fmt.Fprintf(&b, "- Run: %s\n- Mode: %s\n- Passed: %t\n- Generated: %s\n\n", run.ID, result.Mode, result.Passed, time.Now().Format(time.RFC3339))
	for _, gr := range result.Gates {
		status := "pass"
		if gr.ExitCode != 0 {
			status = "fail"
		}
		if gr.Blocked {
			status = "blocked (" + gr.BlockedBy + ")"
		}
		fmt.Fprintf(&b, "## %s: `%s`\n\nStatus: %s (exit %d)\n\n", gr.Gate, gr.Command, status, gr.ExitCode)
		if gr.Output != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", gr.Output)
		}
	}
	return b.String()
}
