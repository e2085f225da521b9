package pr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const githubAPIBase = "https://api.github.com"

// GitHub talks to the GitHub REST API with a personal access token
type GitHub struct {
	token  string
	base   string
	client *http.Client
}

// NewGitHub creates a GitHub adapter
func NewGitHub(token string) *GitHub {
	return &GitHub{
		token:  token,
		base:   githubAPIBase,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GitHub) GetDefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, &out)
	if err != nil {
		return "", err
	}
	return out.DefaultBranch, nil
}

func (g *GitHub) BranchExists(ctx context.Context, owner, repo, branch string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, url.PathEscape(branch))
	err := g.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	if isKind(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (g *GitHub) CreatePullRequest(ctx context.Context, owner, repo string, req *CreateRequest) (*PullRequest, error) {
	body := map[string]interface{}{
		"title": req.Title,
		"body":  req.Body,
		"head":  req.Source,
		"base":  req.Target,
		"draft": req.Draft,
	}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	if err := g.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	// Labels, reviewers and assignees ride on follow-up calls; their failure
	// does not undo the PR.
	if len(req.Labels) > 0 || len(req.Assignees) > 0 {
		issuePath := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, out.Number)
		_ = g.do(ctx, http.MethodPatch, issuePath, map[string]interface{}{
			"labels":    req.Labels,
			"assignees": req.Assignees,
		}, nil)
	}
	if len(req.Reviewers) > 0 {
		revPath := fmt.Sprintf("/repos/%s/%s/pulls/%d/requested_reviewers", owner, repo, out.Number)
		_ = g.do(ctx, http.MethodPost, revPath, map[string]interface{}{
			"reviewers": req.Reviewers,
		}, nil)
	}

	return &PullRequest{Number: out.Number, URL: out.HTMLURL}, nil
}

func (g *GitHub) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return statusError(resp.StatusCode, string(data))
}

// statusError maps a GitHub status code to the uniform adapter error kinds
func statusError(status int, detail string) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuth, detail)
	case http.StatusForbidden:
		// GitHub reports secondary rate limits as 403.
		if strings.Contains(detail, "rate limit") {
			return fmt.Errorf("%w: %s", ErrRateLimit, detail)
		}
		return fmt.Errorf("%w: %s", ErrAuth, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrConflict, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrTransport, status, detail)
	}
}

func isKind(err, kind error) bool {
	return errors.Is(err, kind)
}

var githubRemoteRe = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/\s]+?)(?:\.git)?$`)

// ParseGitHubRemote extracts owner and repo from a git remote URL. Non-GitHub
// remotes return an error; the apply pipeline rejects them.
func ParseGitHubRemote(remote string) (owner, repo string, err error) {
	m := githubRemoteRe.FindStringSubmatch(strings.TrimSpace(remote))
	if m == nil {
		return "", "", fmt.Errorf("remote %q is not a GitHub repository", strings.TrimSpace(remote))
	}
	return m[1], m[2], nil
}
