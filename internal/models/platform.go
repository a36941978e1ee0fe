package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/mixtape/internal/shared"
)

// PlatformKind identifies a streaming platform.
type PlatformKind string

const (
	Spotify    PlatformKind = "spotify"
	AppleMusic PlatformKind = "apple_music"
)

// ParsePlatformKind accepts the canonical names plus a few common spellings ("apple", "applemusic").
func ParsePlatformKind(s string) (PlatformKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spotify":
		return Spotify, nil
	case "apple_music", "apple", "applemusic", "apple-music":
		return AppleMusic, nil
	}
	return "", fmt.Errorf("%w: %q", shared.ErrUnknownPlatform, s)
}

// DisplayName is the human-readable platform name.
func (k PlatformKind) DisplayName() string {
	switch k {
	case Spotify:
		return "Spotify"
	case AppleMusic:
		return "Apple Music"
	default:
		return string(k)
	}
}

// Valid reports whether k is a known platform.
func (k PlatformKind) Valid() bool {
	return k == Spotify || k == AppleMusic
}

// Account is the platform a user connected, resolved once when the session is established.
//
// Components receive an Account explicitly; the platform is never re-derived by parsing an identifier.
type Account struct {
	Kind              PlatformKind `json:"kind"`
	ExternalAccountID string       `json:"externalAccountId,omitempty"`
}

// Validate checks that the account names a known platform.
func (a Account) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %q", shared.ErrUnknownPlatform, a.Kind)
	}
	return nil
}

func (a Account) String() string {
	if a.ExternalAccountID == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + "/" + a.ExternalAccountID
}

// Visibility controls whether a created platform playlist is public.
type Visibility string

const (
	Private Visibility = "private"
	Public  Visibility = "public"
)

// ParseVisibility defaults the empty string to [Private].
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "private":
		return Private, nil
	case "public":
		return Public, nil
	}
	return "", fmt.Errorf("%w: visibility %q", shared.ErrInvalidArgument, s)
}
