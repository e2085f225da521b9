package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// DefaultExecTimeout bounds a RUNNER_EXEC that never answers
const DefaultExecTimeout = 120 * time.Second

// defaultRequestTimeout bounds non-exec requests
const defaultRequestTimeout = 30 * time.Second

// ErrNotConnected is returned when no runner session exists for a project
var ErrNotConnected = fmt.Errorf("no runner connected for project")

// Authorizer resolves a bearer credential to an identity
type Authorizer interface {
	Authorize(token string) (*types.Identity, error)
}

// Session is one live runner connection. At most one exists per project; a
// new authenticated HELLO replaces the previous session.
type Session struct {
	ID        string
	ProjectID string
	Identity  types.Identity

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Result
	closed  bool
}

// Bridge owns the per-project runner sessions and the pending-request table
type Bridge struct {
	auth   Authorizer
	store  storage.Store
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	upgrader websocket.Upgrader
}

// NewBridge creates a runner bridge
func NewBridge(auth Authorizer, store storage.Store) *Bridge {
	return &Bridge{
		auth:     auth,
		store:    store,
		logger:   log.WithComponent("runner-bridge"),
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
	}
}

// HandleWS upgrades an HTTP request into a runner session. The credential
// comes from the Authorization bearer header and the project from the
// X-TRCODER-Project header; an unauthorized handshake is logged to the
// ledger as RUNNER_AUTH_FAILED and the socket closed.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	projectID := r.Header.Get("X-TRCODER-Project")

	identity, err := b.authorize(token)
	if err != nil || projectID == "" {
		b.recordAuthFailure(projectID, r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := &Session{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Identity:  *identity,
		conn:      conn,
		pending:   make(map[string]chan *Result),
	}

	b.replaceSession(session)

	ack := &HelloAck{Type: MsgHelloAck, RunnerSessionID: session.ID}
	if err := session.write(ack); err != nil {
		b.dropSession(session)
		return
	}

	b.logger.Info().
		Str("project_id", projectID).
		Str("runner_session_id", session.ID).
		Msg("runner connected")

	b.readLoop(session)
}

// Connected reports whether a live session exists for the project
func (b *Bridge) Connected(projectID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sessions[projectID]
	return ok
}

// SessionTotal returns the number of live runner sessions
func (b *Bridge) SessionTotal() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// SessionID returns the live session id for a project, or ""
func (b *Bridge) SessionID(projectID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.sessions[projectID]; ok {
		return s.ID
	}
	return ""
}

// Exec runs a shell command on the runner. The server's permission class
// rides along; the runner applies the most restrictive of that class and its
// local policy. Stdout and stderr are redacted before they reach callers.
func (b *Bridge) Exec(ctx context.Context, projectID, command string, class permission.Class, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	req := &Request{
		Type:            MsgExec,
		Command:         command,
		PermissionClass: class,
		TimeoutMS:       int(timeout / time.Millisecond),
	}
	return b.request(ctx, projectID, req, timeout)
}

// ReadFile reads a workspace-relative file through the runner
func (b *Bridge) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	res, err := b.request(ctx, projectID, &Request{Type: MsgRead, Path: path}, defaultRequestTimeout)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", path, res.Stderr)
	}
	return res.Stdout, nil
}

// Grep searches the workspace through the runner
func (b *Bridge) Grep(ctx context.Context, projectID, pattern, path string) (*Result, error) {
	return b.request(ctx, projectID, &Request{Type: MsgGrep, Pattern: pattern, Path: path}, defaultRequestTimeout)
}

// List lists a workspace directory through the runner
func (b *Bridge) List(ctx context.Context, projectID, path string) (*Result, error) {
	return b.request(ctx, projectID, &Request{Type: MsgList, Path: path}, defaultRequestTimeout)
}

// WriteFile writes a workspace-relative file through the runner. Only the
// apply pipeline uses this.
func (b *Bridge) WriteFile(ctx context.Context, projectID, path, content string) (*Result, error) {
	return b.request(ctx, projectID, &Request{Type: MsgWrite, Path: path, Content: content}, defaultRequestTimeout)
}

// request sends one request and waits for its result. A request that never
// answers times out: the pending entry is cleaned and a synthetic exit-1
// result returned.
func (b *Bridge) request(ctx context.Context, projectID string, req *Request, timeout time.Duration) (*Result, error) {
	b.mu.RLock()
	session, ok := b.sessions[projectID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, projectID)
	}

	req.RequestID = uuid.New().String()
	req.RunnerSessionID = session.ID

	ch := make(chan *Result, 1)
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, projectID)
	}
	session.pending[req.RequestID] = ch
	session.mu.Unlock()

	defer func() {
		session.mu.Lock()
		delete(session.pending, req.RequestID)
		session.mu.Unlock()
	}()

	if err := session.write(req); err != nil {
		b.dropSession(session)
		return nil, fmt.Errorf("runner write failed: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res == nil {
			// Channel closed underneath us: the session went away.
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, projectID)
		}
		res.Stdout = redact.String(res.Stdout)
		res.Stderr = redact.String(res.Stderr)
		return res, nil
	case <-timer.C:
		return &Result{
			Type:       MsgResult,
			RequestID:  req.RequestID,
			ExitCode:   1,
			Stderr:     fmt.Sprintf("runner request timed out after %s", timeout),
			DurationMS: timeout.Milliseconds(),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) readLoop(session *Session) {
	defer b.dropSession(session)

	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			b.logger.Warn().Err(err).Msg("dropping malformed runner message")
			continue
		}

		res, ok := msg.(*Result)
		if !ok {
			continue
		}
		// Results carrying a stale session id are dropped.
		if res.RunnerSessionID != session.ID {
			b.logger.Debug().
				Str("stale_session_id", res.RunnerSessionID).
				Msg("dropping result from superseded session")
			continue
		}

		session.mu.Lock()
		ch, ok := session.pending[res.RequestID]
		session.mu.Unlock()
		if ok {
			ch <- res
		}
	}
}

// replaceSession installs a new session, closing any previous one for the
// same project.
func (b *Bridge) replaceSession(session *Session) {
	b.mu.Lock()
	old := b.sessions[session.ProjectID]
	b.sessions[session.ProjectID] = session
	b.mu.Unlock()

	if old != nil {
		b.logger.Info().
			Str("project_id", session.ProjectID).
			Str("superseded_session_id", old.ID).
			Msg("replacing runner session")
		old.close()
	}
}

func (b *Bridge) dropSession(session *Session) {
	b.mu.Lock()
	if b.sessions[session.ProjectID] == session {
		delete(b.sessions, session.ProjectID)
	}
	b.mu.Unlock()
	session.close()
}

func (b *Bridge) authorize(token string) (*types.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer credential")
	}
	return b.auth.Authorize(token)
}

func (b *Bridge) recordAuthFailure(projectID, remote string) {
	b.logger.Warn().
		Str("project_id", projectID).
		Str("remote", remote).
		Msg("runner auth failed")

	event := &types.LedgerEvent{
		EventID:   uuid.New().String(),
		TS:        time.Now(),
		ProjectID: projectID,
		EventType: types.EventRunnerAuthFailed,
		Payload:   map[string]interface{}{"remote": remote},
	}
	if err := b.store.AppendEvent(event); err != nil {
		b.logger.Error().Err(err).Msg("failed to record auth failure")
	}
}

func (s *Session) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
