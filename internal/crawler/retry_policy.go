package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxRetries extra attempts.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxRetries + 1,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry reports whether err is transient and attempts remain. attempt is
// the number of attempts already made.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	if netErr.Err == nil {
		return netErr.StatusCode >= http.StatusInternalServerError || netErr.StatusCode == http.StatusTooManyRequests
	}
	var transportErr net.Error
	if errors.As(netErr.Err, &transportErr) {
		return transportErr.Timeout()
	}
	return errors.Is(netErr.Err, context.DeadlineExceeded)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// RetryingFetcher decorates a Fetcher with a RetryPolicy. Retrying is a caller
// concern, so the underlying fetcher never retries on its own.
type RetryingFetcher struct {
	next   Fetcher
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingFetcher wraps next. A nil policy disables retries.
func NewRetryingFetcher(next Fetcher, policy RetryPolicy, logger *zap.Logger) *RetryingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{next: next, policy: policy, logger: logger}
}

// Fetch delegates to the wrapped fetcher, retrying transient network failures.
func (f *RetryingFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, request)
		if err == nil || f.policy == nil || !f.policy.ShouldRetry(err, attempt) {
			return resp, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.String("kind", string(request.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResponse{}, fmt.Errorf("retry wait canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
