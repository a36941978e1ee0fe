// package services defines interface Service for interacting with streaming platform HTTP APIs
//
// Spotify, Apple Music
package services

import (
	"context"

	"github.com/desertthunder/mixtape/internal/models"
)

// Service is the uniform contract every streaming platform adapter implements.
//
// Track references passed to AddTracks/RemoveTracks are platform-encoded (see [models.EncodeTrackRef]).
// Mutations are not transactional: they report how many references were applied before the first
// failure so callers can persist exactly what happened.
type Service interface {
	// Kind returns the platform this adapter talks to.
	Kind() models.PlatformKind

	// Name returns the name of the service (e.g., "Spotify", "Apple Music")
	Name() string

	// SearchTracks searches the catalog and returns at most limit tracks with canonical keys set.
	SearchTracks(ctx context.Context, query string, limit int) ([]models.CandidateTrack, error)

	// CreatePlaylist creates an empty playlist owned by owner and returns its platform id.
	CreatePlaylist(ctx context.Context, owner models.Account, name, description string, visibility models.Visibility) (string, error)

	// AddTracks appends refs to the playlist and returns how many were added.
	AddTracks(ctx context.Context, playlistID string, refs []string) (int, error)

	// RemoveTracks removes refs from the playlist and returns how many were removed.
	RemoveTracks(ctx context.Context, playlistID string, refs []string) (int, error)

	// GetPlaylistTracks returns the playlist's current tracks in order.
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.CandidateTrack, error)

	// GetLibraryPlaylists lists the owner's library playlists.
	GetLibraryPlaylists(ctx context.Context, owner models.Account) ([]models.PlaylistSummary, error)
}

// Connector returns a [Service] bound to an owner's credential for the given account.
type Connector interface {
	Connect(owner string, account models.Account) (Service, error)
}

// applyInBatches calls fn for successive chunks of refs and stops at the first failure.
// It returns how many refs were applied.
func applyInBatches(ctx context.Context, refs []string, size int, fn func(context.Context, []string) error) (int, error) {
	applied := 0
	for start := 0; start < len(refs); start += size {
		end := min(start+size, len(refs))
		if err := fn(ctx, refs[start:end]); err != nil {
			return applied, err
		}
		applied += end - start
	}
	return applied, nil
}
