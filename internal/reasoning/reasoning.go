// Package reasoning is the boundary to the hosted model that plans search queries and curates
// candidate pools.
//
// Callers depend only on [Gateway]. [Retrying] enforces the response contract (non-empty query
// lists, in-range unique indices, at most TargetCount selections) regardless of which gateway
// sits behind it, so a deterministic stub and the HTTP client are interchangeable.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// PromptContext bundles everything the model sees about one generation.
type PromptContext struct {
	Prompt         string
	Refinements    []string
	AllowExplicit  bool
	NewArtistsOnly bool
	TargetCount    int
	// Liked and Disliked are track labels used as a soft bias only.
	Liked    []string
	Disliked []string
}

// Gateway turns prompts into search queries and picks tracks out of a candidate pool.
type Gateway interface {
	PlanQueries(ctx context.Context, pc PromptContext) ([]string, error)
	Curate(ctx context.Context, pool []models.CandidateTrack, pc PromptContext) ([]int, error)
}

// CapabilityError reports that the model did not produce a usable answer.
type CapabilityError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%v: %s failed after %d attempt(s): %v", shared.ErrAICapabilityFailure, e.Op, e.Attempts, e.Err)
}

func (e *CapabilityError) Unwrap() []error {
	return []error{shared.ErrAICapabilityFailure, e.Err}
}

var errEmptyResponse = errors.New("empty response")

// Retrying validates gateway responses and retries malformed or failed calls with backoff.
type Retrying struct {
	next     Gateway
	attempts int
	backoff  shared.Backoff
	logger   *log.Logger
}

// NewRetrying wraps next. attempts below 1 means a single attempt.
func NewRetrying(next Gateway, attempts int, backoff shared.Backoff, logger *log.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, logger: logger}
}

// PlanQueries returns a trimmed, deduplicated, non-empty query list.
func (r *Retrying) PlanQueries(ctx context.Context, pc PromptContext) ([]string, error) {
	var out []string
	err := r.retry(ctx, "plan queries", func() error {
		queries, err := r.next.PlanQueries(ctx, pc)
		if err != nil {
			return err
		}
		out = CleanQueries(queries)
		if len(out) == 0 {
			return errEmptyResponse
		}
		return nil
	})
	return out, err
}

// Curate returns unique in-range indices, at most pc.TargetCount of them when it is positive.
func (r *Retrying) Curate(ctx context.Context, pool []models.CandidateTrack, pc PromptContext) ([]int, error) {
	var out []int
	err := r.retry(ctx, "curate", func() error {
		indices, err := r.next.Curate(ctx, pool, pc)
		if err != nil {
			return err
		}
		if out, err = ValidateSelection(indices, len(pool), pc.TargetCount); err != nil {
			return err
		}
		return nil
	})
	return out, err
}

func (r *Retrying) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &CapabilityError{Op: op, Attempts: attempt - 1, Err: err}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		r.logger.Warn("reasoning call failed", "op", op, "attempt", attempt, "err", lastErr)
		if attempt < r.attempts {
			if err := shared.Sleep(ctx, r.backoff.Delay(attempt)); err != nil {
				return &CapabilityError{Op: op, Attempts: attempt, Err: err}
			}
		}
	}
	return &CapabilityError{Op: op, Attempts: r.attempts, Err: lastErr}
}

// CleanQueries trims queries and drops blanks and case-insensitive duplicates.
func CleanQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			continue
		}
		k := strings.ToLower(q)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	return out
}

// ValidateSelection rejects out-of-range indices, drops repeats and truncates to limit.
func ValidateSelection(indices []int, poolSize, limit int) ([]int, error) {
	seen := make(map[int]struct{}, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= poolSize {
			return nil, fmt.Errorf("index %d out of range for pool of %d", i, poolSize)
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil, errEmptyResponse
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Select returns the pool entries at indices.
func Select(pool []models.CandidateTrack, indices []int) []models.CandidateTrack {
	out := make([]models.CandidateTrack, 0, len(indices))
	for _, i := range indices {
		out = append(out, pool[i])
	}
	return out
}

// Unavailable fails every call. It stands in for a gateway that could not be configured, so
// commands that never reach the model still work.
type Unavailable struct {
	Err error
}

func (u Unavailable) PlanQueries(context.Context, PromptContext) ([]string, error) {
	return nil, fmt.Errorf("%w: %w", shared.ErrAICapabilityFailure, u.Err)
}

func (u Unavailable) Curate(context.Context, []models.CandidateTrack, PromptContext) ([]int, error) {
	return nil, fmt.Errorf("%w: %w", shared.ErrAICapabilityFailure, u.Err)
}
