package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/log"
)

// Environment variables consumed by the factory.
const (
	EnvUseMock         = "TRCODER_USE_MOCK_PROVIDER"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
)

// ErrNoProvider is returned when every model in a fallback chain failed to
// resolve to a usable provider.
var ErrNoProvider = errors.New("no provider available for model chain")

// Factory owns one resilient provider instance per backend and resolves
// logical models through the model stack's fallback chains. It is constructed
// at startup and passed by explicit dependency; there is no process-global
// provider state.
type Factory struct {
	cfg     *config.Config
	useMock bool

	mu        sync.Mutex
	providers map[string]Provider
}

// NewFactory creates a provider factory. When TRCODER_USE_MOCK_PROVIDER is
// set (any non-empty value), every model resolves to the deterministic mock.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		cfg:       cfg,
		useMock:   os.Getenv(EnvUseMock) != "",
		providers: make(map[string]Provider),
	}
}

// Resolution is the factory's answer for one logical model
type Resolution struct {
	Provider     Provider
	Model        string
	UsedFallback bool
}

// Resolve walks the fallback chain for model and returns the first entry
// whose backend can be constructed. UsedFallback reports whether the
// returned model differs from the requested one.
func (f *Factory) Resolve(ctx context.Context, model string) (*Resolution, error) {
	chain := append([]string{model}, f.cfg.ModelStack.FallbackChains[model]...)

	var lastErr error
	for i, candidate := range chain {
		p, err := f.providerFor(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return &Resolution{Provider: p, Model: candidate, UsedFallback: i > 0}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
	}
	return nil, ErrNoProvider
}

// GeneratePatch calls GeneratePatch through the fallback chain: a terminal
// provider failure (auth, model not found, circuit open, exhausted retries,
// rate limit) moves to the next model; a success returns immediately.
func (f *Factory) GeneratePatch(ctx context.Context, model string, req *PatchRequest) (*PatchResult, *Resolution, error) {
	var res *PatchResult
	resolution, err := f.callChain(ctx, model, func(p Provider, m string) error {
		r := *req
		r.Model = m
		var err error
		res, err = p.GeneratePatch(ctx, &r)
		return err
	})
	return res, resolution, err
}

// Chat calls Chat through the fallback chain with the same terminal-failure
// semantics as GeneratePatch.
func (f *Factory) Chat(ctx context.Context, model string, req *ChatRequest) (*ChatResponse, *Resolution, error) {
	var res *ChatResponse
	resolution, err := f.callChain(ctx, model, func(p Provider, m string) error {
		r := *req
		r.Model = m
		var err error
		res, err = p.Chat(ctx, &r)
		return err
	})
	return res, resolution, err
}

func (f *Factory) callChain(ctx context.Context, model string, call func(Provider, string) error) (*Resolution, error) {
	logger := log.WithComponent("provider-factory")
	chain := append([]string{model}, f.cfg.ModelStack.FallbackChains[model]...)

	var lastErr error
	for i, candidate := range chain {
		p, err := f.providerFor(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}

		err = call(p, candidate)
		if err == nil {
			return &Resolution{Provider: p, Model: candidate, UsedFallback: i > 0}, nil
		}
		lastErr = err

		pe := AsError(p.Name(), err)
		if !pe.Terminal() {
			return nil, pe
		}
		logger.Warn().
			Str("model", candidate).
			Str("kind", string(pe.Kind)).
			Msg("terminal provider failure, trying next model in chain")
	}

	return nil, fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
}

// providerFor returns the resilient provider instance backing a model,
// constructing it on first use.
func (f *Factory) providerFor(ctx context.Context, model string) (Provider, error) {
	backend := f.cfg.ModelStack.ModelProviders[model]
	if f.useMock {
		backend = "mock"
	}
	if backend == "" {
		return nil, &Error{Kind: KindModelNotFound, Provider: "factory", Err: fmt.Errorf("model %q has no provider mapping", model)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[backend]; ok {
		return p, nil
	}

	var (
		raw Provider
		err error
	)
	switch backend {
	case "mock":
		raw = NewMock()
	case "anthropic":
		raw, err = NewAnthropic(os.Getenv(EnvAnthropicAPIKey))
	case "openai":
		raw, err = NewOpenAI(os.Getenv(EnvOpenAIAPIKey))
	case "google":
		raw, err = NewGoogle(ctx, os.Getenv(EnvGoogleAPIKey))
	default:
		err = fmt.Errorf("unknown provider backend %q", backend)
	}
	if err != nil {
		return nil, newError(backend, KindAuth, false, err)
	}

	p := Resilient(raw, f.cfg.ModelStack.Providers[backend])
	f.providers[backend] = p
	return p, nil
}
