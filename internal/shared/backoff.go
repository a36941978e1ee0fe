package shared

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff describes a bounded exponential retry policy.
type Backoff struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultBackoff is used for platform and reasoning calls unless configured otherwise.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries:  3,
		InitialWait: 250 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	eb := b.exponential()
	var wait time.Duration
	for range attempt {
		wait = eb.NextBackOff()
	}
	return wait
}

// exponential builds an unjittered policy that never gives up on its own; callers count retries.
func (b Backoff) exponential() *backoff.ExponentialBackOff {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	maxWait := b.MaxWait
	if maxWait <= 0 {
		maxWait = time.Duration(math.MaxInt64)
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.InitialWait,
		RandomizationFactor: 0,
		Multiplier:          mult,
		MaxInterval:         maxWait,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	return eb
}

// RetryAfter honors a Retry-After header (in seconds) when present, capped at MaxWait,
// and falls back to [Backoff.Delay].
func (b Backoff) RetryAfter(h http.Header, attempt int) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if b.MaxWait > 0 && d > b.MaxWait {
				d = b.MaxWait
			}
			return d
		}
	}
	return b.Delay(attempt)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
