package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/mixtape/internal/shared"
)

// RefinementLedger is an append-only, ordered list of refinement instructions.
//
// Instructions are compared after trimming, case folding, and whitespace collapsing; a repeat of an
// earlier instruction is dropped so replaying the ledger is deterministic.
type RefinementLedger []string

// Add appends instruction unless it is blank or already present. It reports whether the ledger changed.
func (l *RefinementLedger) Add(instruction string) bool {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" || l.Contains(instruction) {
		return false
	}
	*l = append(*l, instruction)
	return true
}

// Contains reports whether an equivalent instruction is already recorded.
func (l RefinementLedger) Contains(instruction string) bool {
	key := shared.NormalizeText(instruction)
	for _, existing := range l {
		if shared.NormalizeText(existing) == key {
			return true
		}
	}
	return false
}

// Entries returns a copy of the instructions in insertion order.
func (l RefinementLedger) Entries() []string {
	return slices.Clone([]string(l))
}

// DraftPlaylist is an uncommitted generation.
//
// The draft id is stable across refinement turns: saving a draft with an existing id overwrites it.
type DraftPlaylist struct {
	ID            string           `json:"id"`
	Owner         string           `json:"owner"`
	Account       Account          `json:"account"`
	Prompt        string           `json:"prompt"`
	Refinements   RefinementLedger `json:"refinements"`
	SongCount     int              `json:"songCount"`
	Flags         ContentFlags     `json:"flags"`
	Queries       []string         `json:"queries,omitempty"`
	Tracks        []CandidateTrack `json:"tracks"`
	ExcludedSongs []string         `json:"excludedSongs"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Exclude removes the track with the given canonical key from the draft and remembers it so later
// refinements never bring it back. It reports whether a track was removed.
func (d *DraftPlaylist) Exclude(key string) bool {
	if !slices.Contains(d.ExcludedSongs, key) {
		d.ExcludedSongs = append(d.ExcludedSongs, key)
	}
	n := len(d.Tracks)
	d.Tracks = slices.DeleteFunc(d.Tracks, func(t CandidateTrack) bool { return t.CanonicalKey == key })
	return len(d.Tracks) != n
}

// ExcludedSet returns the draft's exclusions as a set.
func (d *DraftPlaylist) ExcludedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.ExcludedSongs))
	for _, k := range d.ExcludedSongs {
		set[k] = struct{}{}
	}
	return set
}

// ReadyToCommit enforces that a draft can only be committed with at least one track.
func (d *DraftPlaylist) ReadyToCommit() error {
	if len(d.Tracks) == 0 {
		return fmt.Errorf("%w: %s", shared.ErrEmptyDraft, d.ID)
	}
	return nil
}
