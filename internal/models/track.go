package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/desertthunder/mixtape/internal/shared"
)

// CandidateTrack is the platform-neutral shape of a search result or playlist entry.
//
// Two tracks are the same track iff their canonical keys match.
type CandidateTrack struct {
	CanonicalKey string        `json:"canonicalKey"`
	NativeID     string        `json:"nativeId"`
	Name         string        `json:"name"`
	Artist       string        `json:"artist"`
	Album        string        `json:"album,omitempty"`
	URL          string        `json:"url,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	ISRC         string        `json:"isrc,omitempty"`
	Explicit     bool          `json:"explicit,omitempty"`
	Platform     PlatformKind  `json:"platform"`
}

// Ref encodes the track as a platform track reference.
func (t CandidateTrack) Ref() string {
	return EncodeTrackRef(t.Platform, t.NativeID)
}

// Label is "Artist - Name", used in prompts and CLI output.
func (t CandidateTrack) Label() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}

const (
	spotifyRefPrefix = "spotify:track:"
	appleRefPrefix   = "apple:song:"
)

var (
	spotifyRefPattern = regexp.MustCompile(`^spotify:track:[0-9A-Za-z]{22}$`)
	appleRefPattern   = regexp.MustCompile(`^apple:song:[0-9]{1,20}$`)
)

// EncodeTrackRef builds the reference for a platform-native id.
func EncodeTrackRef(kind PlatformKind, nativeID string) string {
	switch kind {
	case Spotify:
		return spotifyRefPrefix + nativeID
	case AppleMusic:
		return appleRefPrefix + nativeID
	default:
		return nativeID
	}
}

// ValidTrackRef reports whether ref is well formed for the platform: a Spotify reference is the
// prefix followed by exactly 22 base62 characters, an Apple Music reference is the prefix followed
// by a numeric catalog id.
func ValidTrackRef(kind PlatformKind, ref string) bool {
	switch kind {
	case Spotify:
		return spotifyRefPattern.MatchString(ref)
	case AppleMusic:
		return appleRefPattern.MatchString(ref)
	default:
		return false
	}
}

// DecodeTrackRef validates ref and strips the platform prefix.
func DecodeTrackRef(kind PlatformKind, ref string) (string, error) {
	if !ValidTrackRef(kind, ref) {
		return "", fmt.Errorf("%w: %q for %s", shared.ErrInvalidTrackReference, ref, kind)
	}
	switch kind {
	case Spotify:
		return strings.TrimPrefix(ref, spotifyRefPrefix), nil
	default:
		return strings.TrimPrefix(ref, appleRefPrefix), nil
	}
}

// PartitionRefs splits tracks into valid references and the tracks whose reference is malformed.
func PartitionRefs(kind PlatformKind, tracks []CandidateTrack) (refs []string, valid, invalid []CandidateTrack) {
	for _, t := range tracks {
		ref := EncodeTrackRef(kind, t.NativeID)
		if t.Platform != kind || !ValidTrackRef(kind, ref) {
			invalid = append(invalid, t)
			continue
		}
		refs = append(refs, ref)
		valid = append(valid, t)
	}
	return refs, valid, invalid
}

// PlaylistSummary is a library playlist as reported by a platform.
type PlaylistSummary struct {
	ExternalID  string
	Name        string
	Description string
	TrackCount  int
	Public      bool
}
