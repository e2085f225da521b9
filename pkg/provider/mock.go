package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// Mock is the deterministic provider used in tests and when
// TRCODER_USE_MOCK_PROVIDER is set. Responses are pure functions of the
// request so scenario tests can assert exact ledger numbers.
type Mock struct {
	mu    sync.Mutex
	calls int

	// FailWith, when set, is returned by every call. Tests use it to drive
	// the retryer, breaker, and factory fallback.
	FailWith error
}

// NewMock creates a deterministic mock provider
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string {
	return "mock"
}

// Calls returns how many chat/patch calls the mock has served
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := m.bump(); err != nil {
		return nil, err
	}

	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}

	tokensIn := len(req.System)/4 + len(last)/4
	content := fmt.Sprintf("mock(%s): %s", req.Model, summarize(last))

	return &ChatResponse{
		Content: content,
		Model:   req.Model,
		Usage: Usage{
			TokensIn:  tokensIn,
			TokensOut: len(content) / 4,
			Reported:  true,
		},
	}, nil
}

func (m *Mock) GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	if err := m.bump(); err != nil {
		return nil, err
	}

	// One stable file path per task id keeps apply-pipeline tests
	// reproducible.
	h := fnv.New32a()
	h.Write([]byte(req.TaskID))
	path := fmt.Sprintf("mock/%s_%08x.txt", req.TaskID, h.Sum32())

	patch := strings.Join([]string{
		fmt.Sprintf("--- a/%s", path),
		fmt.Sprintf("+++ b/%s", path),
		"@@ -0,0 +1,2 @@",
		fmt.Sprintf("+generated for %s", req.TaskID),
		"+done",
		"",
	}, "\n")

	return &PatchResult{
		PatchText:    patch,
		ChangedFiles: []string{path},
		Usage: Usage{
			TokensIn:  len(req.Instructions)/4 + len(req.Context)/4,
			TokensOut: len(patch) / 4,
			Reported:  true,
		},
	}, nil
}

func (m *Mock) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FailWith
}

func (m *Mock) bump() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.calls++
	return nil
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60]
	}
	return s
}
