package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/desertthunder/mixtape/internal/shared"
)

// GlobalScope is the history scope shared by all of an owner's playlists.
const GlobalScope = "*"

// Reaction is a soft preference signal; it biases generation but never filters.
type Reaction string

const (
	Liked    Reaction = "liked"
	Disliked Reaction = "disliked"
)

// ParseReaction accepts "liked"/"like" and "disliked"/"dislike".
func ParseReaction(s string) (Reaction, error) {
	switch s {
	case "liked", "like":
		return Liked, nil
	case "disliked", "dislike":
		return Disliked, nil
	}
	return "", fmt.Errorf("%w: reaction %q", shared.ErrInvalidArgument, s)
}

// SongHistoryRecord tracks what an owner has seen, excluded, and reacted to within a scope
// (a playlist spec id or [GlobalScope]).
//
// Seen and Excluded only grow through refreshes and removals; an exclusion is dropped only by
// the explicit [SongHistoryRecord.Unexclude]. Reactions may be toggled off.
type SongHistoryRecord struct {
	Owner     string
	Scope     string
	Seen      map[string]time.Time
	Excluded  map[string]time.Time
	Reactions map[string]Reaction
	// Artists holds normalized names of artists that have appeared in the scope.
	Artists   map[string]time.Time
	UpdatedAt time.Time
}

// NewSongHistory returns an empty record for (owner, scope).
func NewSongHistory(owner, scope string) *SongHistoryRecord {
	return &SongHistoryRecord{
		Owner:     owner,
		Scope:     scope,
		Seen:      map[string]time.Time{},
		Excluded:  map[string]time.Time{},
		Reactions: map[string]Reaction{},
		Artists:   map[string]time.Time{},
	}
}

func (r *SongHistoryRecord) ensure() {
	if r.Seen == nil {
		r.Seen = map[string]time.Time{}
	}
	if r.Excluded == nil {
		r.Excluded = map[string]time.Time{}
	}
	if r.Reactions == nil {
		r.Reactions = map[string]Reaction{}
	}
	if r.Artists == nil {
		r.Artists = map[string]time.Time{}
	}
}

// MarkSeen records tracks as included. First-seen times are never overwritten.
// It returns how many keys were new.
func (r *SongHistoryRecord) MarkSeen(at time.Time, tracks ...CandidateTrack) int {
	r.ensure()
	added := 0
	for _, t := range tracks {
		if _, ok := r.Seen[t.CanonicalKey]; !ok {
			r.Seen[t.CanonicalKey] = at
			added++
		}
		if a := shared.NormalizeText(t.Artist); a != "" {
			if _, ok := r.Artists[a]; !ok {
				r.Artists[a] = at
			}
		}
	}
	r.UpdatedAt = at
	return added
}

// Exclude permanently rejects a canonical key. It reports whether the key was new.
func (r *SongHistoryRecord) Exclude(key string, at time.Time) bool {
	r.ensure()
	r.UpdatedAt = at
	if _, ok := r.Excluded[key]; ok {
		return false
	}
	r.Excluded[key] = at
	return true
}

// Unexclude is the explicit action that lifts an exclusion.
func (r *SongHistoryRecord) Unexclude(key string, at time.Time) bool {
	r.ensure()
	if _, ok := r.Excluded[key]; !ok {
		return false
	}
	delete(r.Excluded, key)
	r.UpdatedAt = at
	return true
}

// React sets the reaction for key, replacing any previous one.
func (r *SongHistoryRecord) React(key string, reaction Reaction, at time.Time) {
	r.ensure()
	r.Reactions[key] = reaction
	r.UpdatedAt = at
}

// ClearReaction toggles a reaction off.
func (r *SongHistoryRecord) ClearReaction(key string, at time.Time) bool {
	r.ensure()
	if _, ok := r.Reactions[key]; !ok {
		return false
	}
	delete(r.Reactions, key)
	r.UpdatedAt = at
	return true
}

// KeysWithReaction returns the sorted keys carrying the given reaction.
func (r *SongHistoryRecord) KeysWithReaction(reaction Reaction) []string {
	var keys []string
	for k, v := range r.Reactions {
		if v == reaction {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ExclusionSet merges the exclusion constraints of the given records for a refresh in mode.
//
// Append excludes both permanently excluded and previously seen tracks. Replace excludes only the
// permanent exclusions, allowing previously seen tracks the user never rejected to return.
func ExclusionSet(mode RefreshMode, records ...*SongHistoryRecord) map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range records {
		if r == nil {
			continue
		}
		for k := range r.Excluded {
			set[k] = struct{}{}
		}
		if mode == Replace {
			continue
		}
		for k := range r.Seen {
			set[k] = struct{}{}
		}
	}
	return set
}

// KnownArtists merges the artist sets of the given records.
func KnownArtists(records ...*SongHistoryRecord) map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range records {
		if r == nil {
			continue
		}
		for a := range r.Artists {
			set[a] = struct{}{}
		}
	}
	return set
}
