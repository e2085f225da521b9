// Package pr defines the pull request adapter contract used by the apply
// pipeline. Only the GitHub adapter is implemented; other forges satisfy the
// same interface.
package pr

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds for adapter failures. The apply pipeline maps these to HTTP
// statuses uniformly regardless of forge.
var (
	ErrRateLimit = errors.New("forge rate limit exceeded")
	ErrAuth      = errors.New("forge authentication failed")
	ErrNotFound  = errors.New("forge resource not found")
	ErrConflict  = errors.New("forge resource conflict")
	ErrTransport = errors.New("forge transport failure")
)

// CreateRequest describes the pull request to open
type CreateRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Draft     bool     `json:"draft"`
	Labels    []string `json:"labels,omitempty"`
	Reviewers []string `json:"reviewers,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// PullRequest is the adapter's answer for a created PR
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Adapter is the forge contract for the apply pipeline
type Adapter interface {
	GetDefaultBranch(ctx context.Context, owner, repo string) (string, error)
	BranchExists(ctx context.Context, owner, repo, branch string) (bool, error)
	CreatePullRequest(ctx context.Context, owner, repo string, req *CreateRequest) (*PullRequest, error)
}

// Fake is an in-memory adapter for tests and the mock-provider path
type Fake struct {
	DefaultBranch string
	Branches      map[string]bool
	Created       []*CreateRequest
}

// NewFake creates a fake adapter with main as the default branch
func NewFake() *Fake {
	return &Fake{
		DefaultBranch: "main",
		Branches:      make(map[string]bool),
	}
}

func (f *Fake) GetDefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	return f.DefaultBranch, nil
}

func (f *Fake) BranchExists(ctx context.Context, owner, repo, branch string) (bool, error) {
	return f.Branches[branch], nil
}

func (f *Fake) CreatePullRequest(ctx context.Context, owner, repo string, req *CreateRequest) (*PullRequest, error) {
	f.Created = append(f.Created, req)
	return &PullRequest{
		Number: len(f.Created),
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, len(f.Created)),
	}, nil
}
