package services

import (
	"fmt"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// CredentialSource hands out credentials bound to one (owner, platform) pair.
type CredentialSource interface {
	For(owner string, kind models.PlatformKind) Credentials
}

// PlatformConnector builds platform adapters backed by a [CredentialSource].
type PlatformConnector struct {
	creds   CredentialSource
	spotify SpotifyOpts
	apple   AppleMusicOpts
}

// NewPlatformConnector creates a connector. The options are copied into every adapter it builds.
func NewPlatformConnector(creds CredentialSource, spotify SpotifyOpts, apple AppleMusicOpts) *PlatformConnector {
	return &PlatformConnector{creds: creds, spotify: spotify, apple: apple}
}

// Connect implements [Connector].
func (c *PlatformConnector) Connect(owner string, account models.Account) (Service, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner", shared.ErrMissingArgument)
	}
	creds := c.creds.For(owner, account.Kind)
	switch account.Kind {
	case models.Spotify:
		return NewSpotifyService(creds, c.spotify), nil
	case models.AppleMusic:
		return NewAppleMusicService(creds, c.apple), nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownPlatform, account.Kind)
	}
}
