// Package client wraps the control plane HTTP API for CLI usage
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trcoder/trcoder/pkg/cost"
	"github.com/trcoder/trcoder/pkg/orchestrator"
	"github.com/trcoder/trcoder/pkg/types"
)

// Client talks to a trcoder server with a bearer API key
type Client struct {
	base   string
	token  string
	client *http.Client
}

// New creates a client for the server at base
func New(base, token string) *Client {
	return &Client{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Message)
}

// ConnectProject registers the repository with the server
func (c *Client) ConnectProject(ctx context.Context, repoName, repoRootHash string) (*types.Project, error) {
	var project types.Project
	err := c.do(ctx, http.MethodPost, "/v1/projects/connect", map[string]string{
		"repo_name":      repoName,
		"repo_root_hash": repoRootHash,
	}, &project)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Whoami returns the identity and current month usage
func (c *Client) Whoami(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/v1/whoami", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePlan creates a plan from free text
func (c *Client) CreatePlan(ctx context.Context, projectID, text string) (*types.Plan, error) {
	var plan types.Plan
	err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectID+"/plan", map[string]string{
		"text": text,
	}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ApprovePlan approves the latest plan at a commit
func (c *Client) ApprovePlan(ctx context.Context, projectID, repoCommit string) (*types.Plan, error) {
	var plan types.Plan
	err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectID+"/plan/approve", map[string]string{
		"repo_commit": repoCommit,
	}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// PlanStatus returns the plan/staleness status for a project
func (c *Client) PlanStatus(ctx context.Context, projectID string) (*orchestrator.PlanStatus, error) {
	var status orchestrator.PlanStatus
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectID+"/plan/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StartRun starts a run for a project
func (c *Client) StartRun(ctx context.Context, projectID string, req *orchestrator.StartRequest) (*types.Run, error) {
	var run types.Run
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectID+"/runs/start", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunStatus returns a run's state and cost numbers
func (c *Client) RunStatus(ctx context.Context, runID string) (*orchestrator.RunStatus, error) {
	var status orchestrator.RunStatus
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Verify runs the verify gates for a run
func (c *Client) Verify(ctx context.Context, runID, mode string) (*orchestrator.VerifyResult, error) {
	var result orchestrator.VerifyResult
	body := map[string]string{}
	if mode != "" {
		body["mode"] = mode
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+runID+"/verify", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Apply turns a run's patch into a pull request
func (c *Client) Apply(ctx context.Context, runID string) (*orchestrator.ApplyResult, error) {
	var result orchestrator.ApplyResult
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+runID+"/apply", map[string]string{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UsageMonth returns the current month's ledger-derived usage
func (c *Client) UsageMonth(ctx context.Context) (*cost.Usage, error) {
	var usage cost.Usage
	if err := c.do(ctx, http.MethodGet, "/v1/usage/month", nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// UsageToday returns today's ledger-derived usage
func (c *Client) UsageToday(ctx context.Context) (*cost.Usage, error) {
	var usage cost.Usage
	if err := c.do(ctx, http.MethodGet, "/v1/usage/today", nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// LogsTail returns recent ledger events for a run
func (c *Client) LogsTail(ctx context.Context, runID string, limit int) ([]*types.LedgerEvent, error) {
	q := url.Values{"run_id": {runID}}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Events []*types.LedgerEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/logs/tail?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		json.Unmarshal(data, &apiErr)
		return &APIError{Status: resp.StatusCode, Kind: apiErr.Error, Message: apiErr.Message}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
