// Package identity computes canonical cross-platform track keys and matches tracks between platforms.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

const isrcPrefix = "isrc:"

// CanonicalKey returns "isrc:<CODE>" when an ISRC is known, otherwise the normalized "name|artist".
func CanonicalKey(isrc, name, artist string) string {
	if code := strings.ToUpper(strings.TrimSpace(isrc)); code != "" {
		return isrcPrefix + code
	}
	return shared.NormalizeTrackKey(name, artist)
}

// Canonicalize fills in a missing canonical key.
func Canonicalize(t models.CandidateTrack) models.CandidateTrack {
	if t.CanonicalKey == "" {
		t.CanonicalKey = CanonicalKey(t.ISRC, t.Name, t.Artist)
	}
	return t
}

// Dedupe keeps the first occurrence of every canonical key, preserving order.
// Deduplicating an already deduplicated pool returns it unchanged.
func Dedupe(tracks []models.CandidateTrack) []models.CandidateTrack {
	seen := make(map[string]struct{}, len(tracks))
	out := make([]models.CandidateTrack, 0, len(tracks))
	for _, t := range tracks {
		t = Canonicalize(t)
		if _, ok := seen[t.CanonicalKey]; ok {
			continue
		}
		seen[t.CanonicalKey] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Keys returns the set of canonical keys in tracks.
func Keys(tracks []models.CandidateTrack) map[string]struct{} {
	set := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		set[Canonicalize(t).CanonicalKey] = struct{}{}
	}
	return set
}

// Catalog is the part of a platform adapter the resolver needs.
type Catalog interface {
	Kind() models.PlatformKind
	SearchTracks(ctx context.Context, query string, limit int) ([]models.CandidateTrack, error)
}

// Resolver converts a track from one platform into the equivalent track on another.
//
// Matching is a best-effort heuristic: the target catalog is searched by the source track's name
// and primary artist and the top result is accepted as the match. It is not guaranteed to be the
// same recording. Accepted matches are remembered in the optional [models.MatchCache].
type Resolver struct {
	cache  models.MatchCache
	logger *log.Logger
}

// NewResolver creates a Resolver; cache may be nil.
func NewResolver(cache models.MatchCache, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Resolver{cache: cache, logger: logger}
}

// Resolve returns track as it exists on target's platform.
func (r *Resolver) Resolve(ctx context.Context, target Catalog, track models.CandidateTrack) (*models.CandidateTrack, error) {
	track = Canonicalize(track)
	kind := target.Kind()
	if track.Platform == kind {
		return &track, nil
	}

	if r.cache != nil {
		if id, ok, err := r.cache.LookupMatch(ctx, track.CanonicalKey, kind); err != nil {
			r.logger.Warn("match cache lookup failed", "key", track.CanonicalKey, "err", err)
		} else if ok {
			matched := track
			matched.NativeID = id
			matched.Platform = kind
			matched.URL = ""
			return &matched, nil
		}
	}

	query := strings.TrimSpace(track.Name + " " + track.Artist)
	results, err := target.SearchTracks(ctx, query, 1)
	if err != nil {
		return nil, fmt.Errorf("search %s for %q: %w", kind, query, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %q on %s", shared.ErrTrackNotFound, query, kind)
	}

	matched := results[0]
	// keep the source identity so history and exclusions stay keyed the same way
	matched.CanonicalKey = track.CanonicalKey

	if r.cache != nil {
		if err := r.cache.StoreMatch(ctx, track.CanonicalKey, kind, matched.NativeID); err != nil {
			r.logger.Warn("failed to cache track match", "key", track.CanonicalKey, "err", err)
		}
	}

	return &matched, nil
}

// ResolveAll resolves every track, skipping the ones without a match. Unmatched tracks are returned
// separately so callers can report them.
func (r *Resolver) ResolveAll(ctx context.Context, target Catalog, tracks []models.CandidateTrack) ([]models.CandidateTrack, []models.CandidateTrack, error) {
	var matched, missing []models.CandidateTrack
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return matched, missing, err
		}
		m, err := r.Resolve(ctx, target, t)
		if err != nil {
			r.logger.Debug("no cross-platform match", "track", t.Label(), "err", err)
			missing = append(missing, t)
			continue
		}
		matched = append(matched, *m)
	}
	return matched, missing, nil
}
