package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// scopeDeleter is implemented by history stores that can drop a playlist's history.
type scopeDeleter interface {
	DeleteScope(ctx context.Context, owner, scope string) error
}

// UpdateAutoUpdate replaces a playlist's schedule and recomputes its next run immediately.
func (e *PlaylistEngine) UpdateAutoUpdate(ctx context.Context, id string, cfg models.AutoUpdateConfig) (*models.PlaylistSpec, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := e.playlists.LoadPlaylistSpec(ctx, id)
	if err != nil {
		return nil, err
	}

	spec.AutoUpdate = cfg
	if err := spec.Reschedule(e.now()); err != nil {
		return nil, err
	}
	if err := e.playlists.SavePlaylistSpec(ctx, spec); err != nil {
		return nil, err
	}
	e.logger.Info("schedule updated", "playlist", id, "frequency", cfg.Frequency, "next", spec.NextRunAt)
	return spec, nil
}

// AddRefinement appends an instruction that every later refresh of the playlist will follow.
// It reports whether the ledger changed.
func (e *PlaylistEngine) AddRefinement(ctx context.Context, id, instruction string) (bool, error) {
	if strings.TrimSpace(instruction) == "" {
		return false, fmt.Errorf("%w: refinement instruction", shared.ErrMissingArgument)
	}
	spec, err := e.playlists.LoadPlaylistSpec(ctx, id)
	if err != nil {
		return false, err
	}
	if !spec.Refinements.Add(instruction) {
		return false, nil
	}
	if err := e.playlists.UpdateRefinements(ctx, id, spec.Refinements); err != nil {
		return false, err
	}
	return true, nil
}

// DeletePlaylist forgets a playlist and its scoped history. The platform playlist is left alone.
func (e *PlaylistEngine) DeletePlaylist(ctx context.Context, id string) error {
	spec, err := e.playlists.LoadPlaylistSpec(ctx, id)
	if err != nil {
		return err
	}
	if err := e.playlists.DeletePlaylistSpec(ctx, id); err != nil {
		return err
	}
	if d, ok := e.history.(scopeDeleter); ok {
		if err := d.DeleteScope(ctx, spec.Owner, spec.ID); err != nil {
			e.logger.Warn("failed to delete playlist history", "playlist", id, "err", err)
		}
	}
	e.logger.Info("playlist deleted", "playlist", id, "external", spec.ExternalID)
	return nil
}

// LoadPlaylist returns a committed playlist.
func (e *PlaylistEngine) LoadPlaylist(ctx context.Context, id string) (*models.PlaylistSpec, error) {
	return e.playlists.LoadPlaylistSpec(ctx, id)
}

// ListPlaylists lists an owner's committed playlists.
func (e *PlaylistEngine) ListPlaylists(ctx context.Context, owner string) ([]*models.PlaylistSpec, error) {
	return e.playlists.ListPlaylistSpecs(ctx, owner)
}

// LiveTracks reads the playlist's current tracks from its platform.
func (e *PlaylistEngine) LiveTracks(ctx context.Context, spec *models.PlaylistSpec) ([]models.CandidateTrack, error) {
	svc, err := e.connect(spec.Owner, spec.Account)
	if err != nil {
		return nil, err
	}
	return svc.GetPlaylistTracks(ctx, spec.ExternalID)
}
