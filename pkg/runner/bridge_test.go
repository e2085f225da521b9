package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

type staticAuth struct{}

func (staticAuth) Authorize(token string) (*types.Identity, error) {
	if token != "good-token" {
		return nil, fmt.Errorf("unknown token")
	}
	return &types.Identity{OrgID: "org-1", UserID: "user-1"}, nil
}

func newBridge(t *testing.T) (*Bridge, storage.Store, *httptest.Server) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := NewBridge(staticAuth{}, store)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	t.Cleanup(srv.Close)
	return b, store, srv
}

// dialRunner connects as a runner agent and returns the conn and the session
// id from the HELLO_ACK.
func dialRunner(t *testing.T, srv *httptest.Server, token, projectID string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-TRCODER-Project", projectID)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := DecodeServerMessage(data)
	require.NoError(t, err)
	ack, ok := msg.(*HelloAck)
	require.True(t, ok, "first message must be HELLO_ACK")
	return conn, ack.RunnerSessionID
}

// echoAgent answers every request with a canned result, echoing the command
// or path into stdout.
func echoAgent(t *testing.T, conn *websocket.Conn, sessionID string) {
	t.Helper()
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := DecodeServerMessage(data)
			if err != nil {
				continue
			}
			req, ok := msg.(*Request)
			if !ok {
				continue
			}
			out := req.Command
			if out == "" {
				out = req.Path
			}
			conn.WriteJSON(&Result{
				Type:            MsgResult,
				RequestID:       req.RequestID,
				RunnerSessionID: sessionID,
				Stdout:          out,
				DurationMS:      5,
			})
		}
	}()
}

// TestHandshakeRejectsBadCredentials tests the unauthorized path and its
// ledger trail
func TestHandshakeRejectsBadCredentials(t *testing.T) {
	_, store, srv := newBridge(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Authorization", "Bearer wrong-token")
	header.Set("X-TRCODER-Project", "proj-1")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid token without a project header is rejected too.
	header.Set("Authorization", "Bearer good-token")
	header.Del("X-TRCODER-Project")
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	events, err := store.ListEventsByType("proj-1", types.EventRunnerAuthFailed, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// TestHandshakeEstablishesSession tests HELLO_ACK and session bookkeeping
func TestHandshakeEstablishesSession(t *testing.T) {
	b, _, srv := newBridge(t)

	assert.False(t, b.Connected("proj-1"))
	_, sessionID := dialRunner(t, srv, "good-token", "proj-1")

	assert.NotEmpty(t, sessionID)
	assert.True(t, b.Connected("proj-1"))
	assert.Equal(t, 1, b.SessionTotal())
	assert.Equal(t, sessionID, b.SessionID("proj-1"))
	assert.False(t, b.Connected("proj-2"))
}

// TestExecRoundTrip tests request/result correlation through the socket
func TestExecRoundTrip(t *testing.T) {
	b, _, srv := newBridge(t)
	conn, sessionID := dialRunner(t, srv, "good-token", "proj-1")
	echoAgent(t, conn, sessionID)

	res, err := b.Exec(context.Background(), "proj-1", "echo hello", permission.Allow, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "echo hello", res.Stdout)

	out, err := b.ReadFile(context.Background(), "proj-1", "go.mod")
	require.NoError(t, err)
	assert.Equal(t, "go.mod", out)
}

// TestExecRedactsOutput tests that secrets never cross the bridge unmasked
func TestExecRedactsOutput(t *testing.T) {
	b, _, srv := newBridge(t)
	conn, sessionID := dialRunner(t, srv, "good-token", "proj-1")
	echoAgent(t, conn, sessionID)

	res, err := b.Exec(context.Background(), "proj-1", "echo GITHUB_TOKEN=ghp_secret123", permission.Allow, 5*time.Second)
	require.NoError(t, err)
	assert.NotContains(t, res.Stdout, "ghp_secret123")
	assert.Contains(t, res.Stdout, redact.Mask)
}

// TestRequestWithoutSession tests the not-connected error
func TestRequestWithoutSession(t *testing.T) {
	b, _, _ := newBridge(t)

	_, err := b.Exec(context.Background(), "proj-ghost", "ls", permission.Allow, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestRequestTimesOut tests the synthetic exit-1 result for a silent runner
func TestRequestTimesOut(t *testing.T) {
	b, _, srv := newBridge(t)
	dialRunner(t, srv, "good-token", "proj-1") // connected but never answers

	res, err := b.Exec(context.Background(), "proj-1", "sleep forever", permission.Allow, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}

// TestReconnectReplacesSession tests that a new handshake supersedes the old
// session for the same project
func TestReconnectReplacesSession(t *testing.T) {
	b, _, srv := newBridge(t)

	first, firstID := dialRunner(t, srv, "good-token", "proj-1")
	second, secondID := dialRunner(t, srv, "good-token", "proj-1")
	defer second.Close()

	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, secondID, b.SessionID("proj-1"))
	assert.Equal(t, 1, b.SessionTotal())

	// The superseded connection was closed by the bridge.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	echoAgent(t, second, secondID)
	res, err := b.Exec(context.Background(), "proj-1", "echo alive", permission.Allow, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo alive", res.Stdout)
}

// TestDecodeRejectsUnknownTypes tests the two-phase envelope decoding
func TestDecodeRejectsUnknownTypes(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"MYSTERY"}`))
	assert.Error(t, err)
	_, err = DecodeClientMessage([]byte(`not json`))
	assert.Error(t, err)
	_, err = DecodeServerMessage([]byte(`{"type":"MYSTERY"}`))
	assert.Error(t, err)

	msg, err := DecodeClientMessage([]byte(`{"type":"RUNNER_RESULT","request_id":"r1","exit_code":2}`))
	require.NoError(t, err)
	res, ok := msg.(*Result)
	require.True(t, ok)
	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, 2, res.ExitCode)
}
