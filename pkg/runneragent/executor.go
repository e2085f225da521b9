package runneragent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/runner"
)

var errUnexpectedMessage = errors.New("expected HELLO_ACK as first message")

// defaultExecTimeout bounds commands the server sends without a timeout
const defaultExecTimeout = 2 * time.Minute

// Executor performs requests against the local working tree. Every path is
// resolved against the workspace root and rejected if it escapes it; every
// command carries the stricter of the server's class and the local policy's.
type Executor struct {
	workspace string
	policy    *permission.Policy
	confirmer Confirmer
}

// NewExecutor creates an executor rooted at workspace
func NewExecutor(workspace string, policy *permission.Policy, confirmer Confirmer) (*Executor, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Executor{workspace: abs, policy: policy, confirmer: confirmer}, nil
}

// Exec runs a shell command under the permission floor. The effective class
// is the stricter of what the server sent and what the local policy says;
// the local side never trusts the server to downgrade a command.
func (e *Executor) Exec(ctx context.Context, req *runner.Request) *runner.Result {
	class := permission.Max(req.PermissionClass, e.policy.Classify(req.Command))

	switch class {
	case permission.Deny:
		return &runner.Result{ExitCode: 1, Stderr: runner.StderrDenied}
	case permission.Ask:
		if e.confirmer == nil || !e.confirmer.Confirm(req.Command) {
			return &runner.Result{ExitCode: 1, Stderr: runner.StderrAskDenied}
		}
	}

	timeout := defaultExecTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command)
	cmd.Dir = e.workspace

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &runner.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = 124
		result.Stderr = "command timed out"
	}
	return result
}

// Read returns a workspace file's content
func (e *Executor) Read(req *runner.Request) *runner.Result {
	path, err := e.resolve(req.Path)
	if err != nil {
		return pathError(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &runner.Result{ExitCode: 1, Stderr: err.Error()}
	}
	return &runner.Result{Stdout: string(data)}
}

// Grep searches with the system grep, recursive and line-numbered. Exit
// code 1 with empty output means no match, same as grep itself.
func (e *Executor) Grep(ctx context.Context, req *runner.Request) *runner.Result {
	path := req.Path
	if path == "" {
		path = "."
	}
	if _, err := e.resolve(path); err != nil {
		return pathError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "grep", "-rn", "--", req.Pattern, path)
	cmd.Dir = e.workspace

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &runner.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Stderr = err.Error()
		}
	}
	return result
}

// List returns one directory level, directories suffixed with a slash
func (e *Executor) List(req *runner.Request) *runner.Result {
	path, err := e.resolve(req.Path)
	if err != nil {
		return pathError(err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return &runner.Result{ExitCode: 1, Stderr: err.Error()}
	}

	var b strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return &runner.Result{Stdout: b.String()}
}

// Write replaces a workspace file's content, creating parent directories
func (e *Executor) Write(req *runner.Request) *runner.Result {
	path, err := e.resolve(req.Path)
	if err != nil {
		return pathError(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &runner.Result{ExitCode: 1, Stderr: err.Error()}
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		return &runner.Result{ExitCode: 1, Stderr: err.Error()}
	}
	return &runner.Result{}
}

// resolve maps a request path onto the workspace and rejects escapes.
// Absolute paths and ".." traversal both land here.
func (e *Executor) resolve(reqPath string) (string, error) {
	if reqPath == "" {
		reqPath = "."
	}
	joined := filepath.Join(e.workspace, reqPath)
	rel, err := filepath.Rel(e.workspace, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", reqPath)
	}
	return joined, nil
}

func pathError(err error) *runner.Result {
	return &runner.Result{ExitCode: 1, Stderr: err.Error()}
}
