package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/identity"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"golang.org/x/time/rate"
)

const defaultPerQueryLimit = 10

// AggregateRequest describes one aggregation run.
type AggregateRequest struct {
	Queries []string
	// Exclude holds canonical keys that must never enter the pool.
	Exclude       map[string]struct{}
	AllowExplicit bool
	// KnownArtists, when non-nil, drops tracks by any of these normalized artist names.
	KnownArtists map[string]struct{}
	Progress     func(ProgressUpdate)
}

// Aggregator runs search queries against a platform and builds an ordered, deduplicated pool.
//
// Searches against the same platform are paced by one shared limiter so concurrent runs together
// respect the platform's rate limit. A failed query is logged and skipped.
type Aggregator struct {
	perQuery int
	pacing   time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	limiters map[models.PlatformKind]*rate.Limiter
}

// NewAggregator creates an Aggregator. A perQuery of zero means 10 results per query; a zero
// pacing disables pacing.
func NewAggregator(perQuery int, pacing time.Duration, logger *log.Logger) *Aggregator {
	if perQuery <= 0 {
		perQuery = defaultPerQueryLimit
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Aggregator{
		perQuery: perQuery,
		pacing:   pacing,
		logger:   logger,
		limiters: make(map[models.PlatformKind]*rate.Limiter),
	}
}

func (a *Aggregator) limiter(kind models.PlatformKind) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[kind]
	if !ok {
		limit := rate.Inf
		if a.pacing > 0 {
			limit = rate.Every(a.pacing)
		}
		l = rate.NewLimiter(limit, 1)
		a.limiters[kind] = l
	}
	return l
}

// Collect searches every query in order and returns the pool in first-seen order.
//
// It returns [shared.ErrNoCandidateTracks] when nothing survives filtering; if queries failed the
// last failure is wrapped too.
func (a *Aggregator) Collect(ctx context.Context, catalog identity.Catalog, req AggregateRequest) ([]models.CandidateTrack, error) {
	limiter := a.limiter(catalog.Kind())
	collected := make(map[string]struct{})
	var (
		pool    []models.CandidateTrack
		failed  int
		lastErr error
	)

	for i, query := range req.Queries {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search paused: %w", err)
		}
		if req.Progress != nil {
			req.Progress(searchTracksUpdate(i+1, len(req.Queries), query))
		}

		results, err := catalog.SearchTracks(ctx, query, a.perQuery)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			lastErr = err
			a.logger.Warn("search query failed, skipping", "query", query, "err", err)
			continue
		}

		for _, t := range results {
			t = identity.Canonicalize(t)
			if !a.accept(t, req, collected) {
				continue
			}
			collected[t.CanonicalKey] = struct{}{}
			pool = append(pool, t)
		}
	}

	if len(pool) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %d of %d queries failed: %w", shared.ErrNoCandidateTracks, failed, len(req.Queries), lastErr)
		}
		return nil, fmt.Errorf("%w: %d queries", shared.ErrNoCandidateTracks, len(req.Queries))
	}

	a.logger.Debug("aggregated candidates", "queries", len(req.Queries), "failed", failed, "pool", len(pool))
	return pool, nil
}

func (a *Aggregator) accept(t models.CandidateTrack, req AggregateRequest, collected map[string]struct{}) bool {
	if _, dup := collected[t.CanonicalKey]; dup {
		return false
	}
	if _, excluded := req.Exclude[t.CanonicalKey]; excluded {
		return false
	}
	if t.Explicit && !req.AllowExplicit {
		return false
	}
	if req.KnownArtists != nil {
		if _, known := req.KnownArtists[shared.NormalizeText(t.Artist)]; known {
			return false
		}
	}
	return true
}

