// Package runneragent implements the per-project local agent: it owns the
// working tree, keeps a websocket session to the server's runner bridge, and
// answers exec, read, grep, list and write requests under the permission
// floor.
package runneragent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/runner"
)

// reconnectDelay paces reconnect attempts after a dropped session
const reconnectDelay = 5 * time.Second

// Confirmer answers ask-class confirmations. A nil confirmer refuses every
// ask, which is the safe non-interactive default.
type Confirmer interface {
	Confirm(command string) bool
}

// Config configures the agent
type Config struct {
	ServerURL string
	Token     string
	ProjectID string
	Workspace string
	Policy    *permission.Policy
	Confirmer Confirmer
}

// Agent is the runner-side endpoint of the bridge protocol
type Agent struct {
	cfg       *Config
	executor  *Executor
	logger    zerolog.Logger
	sessionID string

	conn    *websocket.Conn
	writeMu sync.Mutex
	stopCh  chan struct{}
}

// New creates a runner agent
func New(cfg *Config) (*Agent, error) {
	executor, err := NewExecutor(cfg.Workspace, cfg.Policy, cfg.Confirmer)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:      cfg,
		executor: executor,
		logger:   log.WithComponent("runner-agent").With().Str("project_id", cfg.ProjectID).Logger(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run connects to the server and serves requests until the context is
// cancelled. A dropped connection reconnects after a short delay; a new
// session id comes with every reconnect.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.serveSession(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("runner session ended")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop ends the agent after the current session drops
func (a *Agent) Stop() {
	close(a.stopCh)
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *Agent) serveSession(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.Token)
	header.Set("X-TRCODER-Project", a.cfg.ProjectID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.ServerURL, header)
	if err != nil {
		return err
	}
	a.conn = conn
	defer conn.Close()

	// First message must be the HELLO_ACK carrying our session id.
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	msg, err := runner.DecodeServerMessage(data)
	if err != nil {
		return err
	}
	ack, ok := msg.(*runner.HelloAck)
	if !ok {
		return errUnexpectedMessage
	}
	a.sessionID = ack.RunnerSessionID
	a.logger.Info().Str("runner_session_id", a.sessionID).Msg("connected to server")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := runner.DecodeServerMessage(data)
		if err != nil {
			a.logger.Warn().Err(err).Msg("dropping malformed server message")
			continue
		}
		req, ok := msg.(*runner.Request)
		if !ok {
			continue
		}
		go a.handle(ctx, conn, req)
	}
}

// handle answers one request. Results always echo the request id and the
// session id so the bridge can drop answers from superseded sessions. Command
// output is redacted before it leaves the workspace; the bridge redacts again
// on its side.
func (a *Agent) handle(ctx context.Context, conn *websocket.Conn, req *runner.Request) {
	started := time.Now()
	var result *runner.Result

	switch req.Type {
	case runner.MsgExec:
		result = a.executor.Exec(ctx, req)
		result.Stdout = redact.String(result.Stdout)
		result.Stderr = redact.String(result.Stderr)
	case runner.MsgRead:
		result = a.executor.Read(req)
	case runner.MsgGrep:
		result = a.executor.Grep(ctx, req)
		result.Stdout = redact.String(result.Stdout)
	case runner.MsgList:
		result = a.executor.List(req)
	case runner.MsgWrite:
		result = a.executor.Write(req)
	default:
		result = &runner.Result{ExitCode: 1, Stderr: "unsupported request type " + req.Type}
	}

	result.Type = runner.MsgResult
	result.RequestID = req.RequestID
	result.RunnerSessionID = a.sessionID
	result.DurationMS = time.Since(started).Milliseconds()

	a.writeMu.Lock()
	err := conn.WriteJSON(result)
	a.writeMu.Unlock()
	if err != nil {
		a.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to send result")
	}
}
