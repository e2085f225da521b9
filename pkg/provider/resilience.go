package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/metrics"
)

// resilient wraps a Provider with bucket → breaker → retry, in that fixed
// order: every attempt first earns a rate token, then passes the breaker,
// and only retryable failures are re-attempted. Rate-limit errors are never
// retried here; they flow up so the factory can fall back.
type resilient struct {
	next    Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	spec    *config.ProviderSpec
}

// Resilient wraps p with the rate limiter, circuit breaker and retryer
// configured by spec.
func Resilient(p Provider, spec *config.ProviderSpec) Provider {
	if spec == nil {
		spec = &config.ProviderSpec{
			RPM:              60,
			MaxRetries:       3,
			BaseDelayMS:      500,
			MaxDelayMS:       8000,
			JitterFactor:     0.2,
			FailureThreshold: 5,
			RecoveryTimeMS:   30000,
			HalfOpenProbes:   2,
		}
	}

	logger := log.WithComponent("provider")
	threshold := uint32(spec.FailureThreshold)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: uint32(spec.HalfOpenProbes),
		Timeout:     time.Duration(spec.RecoveryTimeMS) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	// Bucket capacity = configured RPM, refill = RPM/60 tokens per second.
	limiter := rate.NewLimiter(rate.Limit(float64(spec.RPM)/60.0), spec.RPM)

	return &resilient{next: p, limiter: limiter, breaker: breaker, spec: spec}
}

func (r *resilient) Name() string {
	return r.next.Name()
}

func (r *resilient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := r.execute(ctx, func() error {
		var err error
		resp, err = r.next.Chat(ctx, req)
		return err
	})
	return resp, err
}

func (r *resilient) GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	var result *PatchResult
	err := r.execute(ctx, func() error {
		var err error
		result, err = r.next.GeneratePatch(ctx, req)
		return err
	})
	return result, err
}

func (r *resilient) HealthCheck(ctx context.Context) error {
	return r.next.HealthCheck(ctx)
}

// execute runs one logical call through the full wrapper stack
func (r *resilient) execute(ctx context.Context, call func() error) error {
	attempt := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(newError(r.Name(), KindProvider, false, err))
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, call()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(newError(r.Name(), KindCircuitOpen, false, err))
		}

		pe := AsError(r.Name(), err)
		if !pe.Retryable {
			return backoff.Permanent(pe)
		}
		return pe
	}

	policy := backoff.WithContext(r.backoffPolicy(), ctx)
	timer := metrics.NewTimer()
	err := backoff.Retry(attempt, backoff.WithMaxRetries(policy, uint64(r.spec.MaxRetries)))
	timer.ObserveDuration(metrics.ProviderCallDuration.WithLabelValues(r.Name()))

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.ProviderCallsTotal.WithLabelValues(r.Name(), outcome).Inc()
	return err
}

// backoffPolicy builds exponential backoff base·2^attempt capped at the
// configured max delay, with symmetric jitter.
func (r *resilient) backoffPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(r.spec.BaseDelayMS) * time.Millisecond
	b.MaxInterval = time.Duration(r.spec.MaxDelayMS) * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = r.spec.JitterFactor
	b.MaxElapsedTime = 0
	return b
}
