// Package runner implements the Runner Bridge: the authenticated duplex
// session between the server and the per-project local agent that owns the
// working tree. Every read, search, listing, write, or shell command the
// server needs is a request/response over this channel; the server never
// touches files directly.
package runner

import (
	"encoding/json"
	"fmt"

	"github.com/trcoder/trcoder/pkg/permission"
)

// Message types on the runner channel.
const (
	MsgHello    = "HELLO"
	MsgHelloAck = "HELLO_ACK"
	MsgExec     = "RUNNER_EXEC"
	MsgRead     = "RUNNER_READ"
	MsgGrep     = "RUNNER_GREP"
	MsgList     = "RUNNER_LIST"
	MsgWrite    = "RUNNER_WRITE"
	MsgResult   = "RUNNER_RESULT"
)

// Hello is the client's opening message
type Hello struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
}

// HelloAck acknowledges a successful handshake
type HelloAck struct {
	Type            string `json:"type"`
	RunnerSessionID string `json:"runner_session_id"`
}

// Request is one server-to-runner request. Which fields matter depends on
// the type: Exec uses Command/PermissionClass/TimeoutMS, Read/List use Path,
// Grep uses Pattern+Path, Write uses Path+Content.
type Request struct {
	Type            string           `json:"type"`
	RequestID       string           `json:"request_id"`
	RunnerSessionID string           `json:"runner_session_id"`
	Command         string           `json:"command,omitempty"`
	PermissionClass permission.Class `json:"permission_class,omitempty"`
	Path            string           `json:"path,omitempty"`
	Pattern         string           `json:"pattern,omitempty"`
	Content         string           `json:"content,omitempty"`
	TimeoutMS       int              `json:"timeout_ms,omitempty"`
}

// Result is the runner's answer to any request
type Result struct {
	Type            string `json:"type"`
	RequestID       string `json:"request_id"`
	RunnerSessionID string `json:"runner_session_id"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	DurationMS      int64  `json:"duration_ms"`
}

// Stderr markers for permission-floor refusals. The orchestrator matches
// these to emit RUNNER_CMD_BLOCKED with the right reason.
const (
	StderrDenied    = "command denied by permission policy"
	StderrAskDenied = "command refused by user confirmation"
)

// envelope carries only the discriminant for two-phase decoding
type envelope struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one runner-to-server message. Unknown
// discriminants are rejected.
func DecodeClientMessage(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed runner message: %w", err)
	}

	switch env.Type {
	case MsgHello:
		var msg Hello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case MsgResult:
		var msg Result
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown runner message type %q", env.Type)
	}
}

// DecodeServerMessage parses one server-to-runner message. Used by the
// runner agent.
func DecodeServerMessage(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed server message: %w", err)
	}

	switch env.Type {
	case MsgHelloAck:
		var msg HelloAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case MsgExec, MsgRead, MsgGrep, MsgList, MsgWrite:
		var msg Request
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown server message type %q", env.Type)
	}
}
