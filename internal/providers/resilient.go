package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/providers/common"
)

// ResilientOptions tunes throttling, retries and the circuit breaker
type ResilientOptions struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	InitialInterval   time.Duration
	CallTimeout       time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerCooldown
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (o *ResilientOptions) withDefaults() {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
}

// Resilient wraps a provider with a rate limiter, a circuit breaker and
// exponential backoff retries. Client errors are not retried.
type Resilient struct {
	next    AIProvider
	opts    ResilientOptions
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewResilient(next AIProvider, opts ResilientOptions, m *metrics.Metrics, logger zerolog.Logger) *Resilient {
	opts.withDefaults()

	settings := gobreaker.Settings{
		Name:    next.Name(),
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a rejected request says nothing about provider health
			return err == nil || !common.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Resilient{
		next:    next,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		metrics: m,
		logger:  logger.With().Str("component", "provider").Str("provider", next.Name()).Logger(),
	}
}

func (r *Resilient) Name() string {
	return r.next.Name()
}

// Close releases the wrapped provider's client when it holds one
func (r *Resilient) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Resilient) Model() string {
	return r.next.Model()
}

func (r *Resilient) RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error) {
	var resp *common.AIResponse
	attempt := 0

	operation := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx := ctx
		if r.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
			defer cancel()
		}

		start := time.Now()
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.RunPrompt(callCtx, system, prompt)
		})
		r.metrics.ObserveLLMCall(r.Name(), time.Since(start), err)

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s unavailable: %w", r.Name(), err))
			}
			if !common.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = out.(*common.AIResponse)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("provider call failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, r.opts.MaxRetries), ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}
