package discordhttp

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy configures the Retry Loop's backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy matches the spec's documented default: exponential
// backoff capped at 5s, starting from 250ms.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// Full jitter, the same shape as the teacher-pack's webhook retry
	// backoff: a uniformly random delay up to the computed cap, not a
	// fixed exponential value, to avoid synchronized retry storms.
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// RetryingPipeline wraps a Pipeline and re-submits Error answers classified
// as retryable, up to policy.MaxRetries, preserving the original request's
// ID and Tag. Ratelimited and Dropped answers are never retried here — the
// Limiter already handles waiting, and a Dropped answer means the caller's
// own budget was exceeded.
type RetryingPipeline struct {
	inner  *Pipeline
	policy RetryPolicy
	log    *slog.Logger
}

// NewRetryingPipeline wraps inner with a retry loop. A MaxRetries of 0
// disables retries: Submit behaves exactly like inner.Submit.
func NewRetryingPipeline(inner *Pipeline, policy RetryPolicy) *RetryingPipeline {
	return &RetryingPipeline{inner: inner, policy: policy, log: slog.Default()}
}

// Submit behaves like Pipeline.Submit but retries Error answers whose
// cause is retryable, re-using req.ID and req.Tag on every attempt so the
// caller cannot tell retries apart from the original submission except by
// the number of HTTP calls observed.
//
// The first attempt goes through the inner Pipeline's normal Submit, at
// the tail of ingress like any other fresh request. Every attempt after
// that reinjects via the inner Pipeline's dedicated retry channel, which
// its workers select ahead of ingress: a retried request jumps ahead of
// newly submitted work rather than waiting behind it again.
func (r *RetryingPipeline) Submit(ctx context.Context, req Request) (Answer, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	var ans Answer
	var err error
	for attempt := 0; ; attempt++ {
		if attempt == 0 {
			ans, err = r.inner.Submit(ctx, req)
		} else {
			ans, err = r.inner.submitRetry(ctx, req)
		}
		if err != nil {
			return ans, err
		}
		if ans.Kind != AnswerError {
			return ans, nil
		}
		if attempt >= r.policy.MaxRetries || !retryable(ans.Err) {
			return ans, nil
		}
		r.inner.cfg.recorder.Add(metricRetry, 1, map[string]string{"route": req.Route.String()})
		delay := r.policy.backoff(attempt)
		if r.log != nil {
			r.log.Warn("retrying failed request", "route", req.Route.String(), "attempt", attempt+1, "delay", delay, "cause", ans.Err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Answer{}, ctx.Err()
		}
	}
}

// Close shuts down the wrapped Pipeline.
func (r *RetryingPipeline) Close() { r.inner.Close() }
