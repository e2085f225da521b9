// Package provider implements the LLM provider layer: a uniform Provider
// capability backed by Anthropic, OpenAI, Google, or a deterministic mock,
// wrapped by a token-bucket rate limiter, a per-provider circuit breaker, and
// a bounded retryer, in that fixed order. A factory resolves logical models
// to providers and walks the configured fallback chain on terminal failure.
package provider

import (
	"context"
)

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a one-shot chat completion request
type ChatRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// Usage reports token counts for one call. Reported is false when the
// provider gave no usage and the caller must fall back to the estimator.
type Usage struct {
	TokensIn  int  `json:"tokens_in"`
	TokensOut int  `json:"tokens_out"`
	Reported  bool `json:"reported"`
}

// ChatResponse is the completion for a ChatRequest
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// PatchRequest asks a model to emit a unified diff for a task
type PatchRequest struct {
	Model        string `json:"model"`
	TaskID       string `json:"task_id"`
	Instructions string `json:"instructions,omitempty"`
	Context      string `json:"context,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}

// PatchResult carries the emitted patch and its usage
type PatchResult struct {
	PatchText    string   `json:"patch_text"`
	ChangedFiles []string `json:"changed_files"`
	Usage        Usage    `json:"usage"`
}

// Provider is the uniform capability every concrete client implements
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error)
	HealthCheck(ctx context.Context) error
	Name() string
}
