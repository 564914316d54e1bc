// Package retry wraps single Graph calls with failure classification and
// bounded retries. Throttling and expired sessions are retried with
// independent counters; malformed payloads surface as a skip signal; every
// other failure is fatal to the crawl.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/graph"
	"github.com/JakeFAU/stream-embed-audit/internal/metrics"
)

// Sentinel errors returned (wrapped) by Execute.
var (
	ErrThrottleExhausted = errors.New("throttle retries exhausted")
	ErrAuthExhausted     = errors.New("authentication retries exhausted")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrTransport         = errors.New("transport failure")
)

const defaultBackoffBase = 5 * time.Second

// Transport performs one authenticated GET.
type Transport interface {
	GetJSON(ctx context.Context, path string) (*graph.Response, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options tunes the Retrier.
type Options struct {
	// MaxRetries bounds each counter independently. Zero disables retries.
	MaxRetries int
	// BackoffBase scales the throttle backoff (default: 5s).
	BackoffBase time.Duration
	// Sleep overrides the wait used between throttle retries.
	Sleep SleepFunc
}

// Retrier executes Graph calls under the retry policy.
type Retrier struct {
	transport  Transport
	auth       graph.Authenticator
	maxRetries int
	base       time.Duration
	sleep      SleepFunc
	logger     *zap.Logger
}

// New builds a Retrier.
func New(transport Transport, auth graph.Authenticator, opts Options, logger *zap.Logger) *Retrier {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		transport:  transport,
		auth:       auth,
		maxRetries: opts.MaxRetries,
		base:       opts.BackoffBase,
		sleep:      opts.Sleep,
		logger:     logger,
	}
}

// Execute issues the GET for path, retrying throttled and auth-expired
// failures. Counters start at zero on every call.
func (r *Retrier) Execute(ctx context.Context, path string) (*graph.Response, error) {
	var authRetries, throttleRetries int
	for {
		resp, err := r.transport.GetJSON(ctx, path)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransport, path, ctxErr)
		}

		switch graph.KindOf(err) {
		case graph.KindThrottled:
			if throttleRetries >= r.maxRetries {
				r.logger.Error("Throttle retries exhausted", zap.String("path", path), zap.Int("attempts", throttleRetries))
				return nil, fmt.Errorf("%w after %d attempts: %s: %w", ErrThrottleExhausted, throttleRetries, path, err)
			}
			throttleRetries++
			wait := Backoff(r.base, throttleRetries)
			r.logger.Warn("Request throttled, backing off",
				zap.String("path", path),
				zap.Int("attempt", throttleRetries),
				zap.Duration("wait", wait),
				zap.Duration("retry_after", graph.RetryAfterOf(err)),
			)
			metrics.ObserveRetry("throttle", wait)
			if err := r.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrTransport, path, err)
			}

		case graph.KindAuthExpired:
			if authRetries >= r.maxRetries {
				r.logger.Error("Authentication retries exhausted", zap.String("path", path), zap.Int("attempts", authRetries))
				return nil, fmt.Errorf("%w after %d attempts: %s: %w", ErrAuthExhausted, authRetries, path, err)
			}
			authRetries++
			r.logger.Warn("Session expired, re-authenticating",
				zap.String("path", path),
				zap.Int("attempt", authRetries),
			)
			metrics.ObserveRetry("auth", 0)
			if r.auth == nil {
				return nil, fmt.Errorf("%w: %s: no authenticator configured: %w", ErrAuthExhausted, path, err)
			}
			if authErr := r.auth.EnsureAuthenticated(ctx); authErr != nil {
				return nil, fmt.Errorf("%w: re-authenticate: %w", ErrTransport, authErr)
			}

		case graph.KindMalformedPayload:
			r.logger.Warn("Skipping malformed payload", zap.String("path", path), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)

		default:
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

// IsSkippable reports whether err only invalidates the current item.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrMalformedPayload) || graph.KindOf(err) == graph.KindMalformedPayload
}

// Backoff returns base * attempt^attempt (5s, 20s, 135s for base 5s).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := 1
	for i := 0; i < attempt; i++ {
		factor *= attempt
	}
	return base * time.Duration(factor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
