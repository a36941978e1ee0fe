package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mixtape/internal/identity"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/reasoning"
	"github.com/desertthunder/mixtape/internal/services"
	"github.com/desertthunder/mixtape/internal/shared"
)

// Refresher runs one refresh cycle. [PlaylistEngine] is the production implementation.
type Refresher interface {
	Refresh(ctx context.Context, req RefreshRequest, progress chan<- ProgressUpdate) (*RefreshResult, error)
}

// RefreshRequest names the playlist and the per-run overrides. A zero SongCount, empty Mode or
// nil NewArtistsOnly falls back to the stored spec.
type RefreshRequest struct {
	PlaylistID     string
	Trigger        models.Trigger
	SongCount      int
	Mode           models.RefreshMode
	NewArtistsOnly *bool
}

// RefreshResult reports what one refresh applied.
type RefreshResult struct {
	PlaylistID string
	Trigger    models.Trigger
	Mode       models.RefreshMode
	Queries    []string
	PoolSize   int
	Selected   []models.CandidateTrack
	Added      int
	Removed    int
	Invalid    []models.CandidateTrack
	StartedAt  time.Time
	FinishedAt time.Time
}

// ApplyError is returned when a diff was only partly applied. Added and Removed count what the
// platform accepted before Step failed.
type ApplyError struct {
	Step    string
	Added   int
	Removed int
	Failed  int
	Invalid int
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%v: %s failed after +%d -%d (%d not applied, %d invalid): %v",
		shared.ErrPartialApplyFailure, e.Step, e.Added, e.Removed, e.Failed, e.Invalid, e.Err)
}

func (e *ApplyError) Unwrap() []error {
	return []error{shared.ErrPartialApplyFailure, e.Err}
}

// Diff is the set of platform mutations a refresh will make.
type Diff struct {
	Remove  []models.CandidateTrack
	Add     []models.CandidateTrack
	Invalid []models.CandidateTrack
}

// ComputeDiff plans the mutations for mode against the live track list.
//
// Append adds the selected tracks that are not already live. Replace removes every live track and
// adds the whole selection. Tracks whose reference is malformed for kind are moved to Invalid and
// never sent to the platform.
func ComputeDiff(kind models.PlatformKind, mode models.RefreshMode, live, selected []models.CandidateTrack) Diff {
	var d Diff
	var add []models.CandidateTrack

	switch mode {
	case models.Replace:
		_, d.Remove, d.Invalid = models.PartitionRefs(kind, live)
		add = selected
	default:
		present := identity.Keys(live)
		for _, t := range identity.Dedupe(selected) {
			if _, ok := present[t.CanonicalKey]; ok {
				continue
			}
			add = append(add, t)
		}
	}

	_, valid, invalid := models.PartitionRefs(kind, add)
	d.Add = valid
	d.Invalid = append(d.Invalid, invalid...)
	return d
}

func refs(kind models.PlatformKind, tracks []models.CandidateTrack) []string {
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, models.EncodeTrackRef(kind, t.NativeID))
	}
	return out
}

func lockKey(playlistID string) string {
	return "playlist:" + playlistID
}

// Refresh regenerates a committed playlist and applies the result.
//
// At most one refresh per playlist runs at a time: when the lock is held this returns
// [shared.ErrConcurrentRefreshSkipped] immediately. The run is bounded by the engine's refresh
// timeout and the lock is released on every exit path.
func (e *PlaylistEngine) Refresh(ctx context.Context, req RefreshRequest, progress chan<- ProgressUpdate) (*RefreshResult, error) {
	if req.PlaylistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if req.Trigger == "" {
		req.Trigger = models.ManualTrigger
	}
	logger := e.logger.With("playlist", req.PlaylistID, "trigger", req.Trigger)

	release, ok, err := e.locker.TryAcquire(ctx, lockKey(req.PlaylistID))
	if err != nil {
		return nil, fmt.Errorf("failed to take refresh lock: %w", err)
	}
	if !ok {
		logger.Info("refresh already running, skipping")
		return nil, fmt.Errorf("%w: %s", shared.ErrConcurrentRefreshSkipped, req.PlaylistID)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.refreshTimeout)
	defer cancel()

	result, err := e.refresh(ctx, req, progress)
	if err != nil {
		var applyErr *ApplyError
		switch {
		case errors.As(err, &applyErr):
			logger.Warn("refresh partially applied", "added", applyErr.Added, "removed", applyErr.Removed, "failed", applyErr.Failed)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: refresh exceeded %s: %w", shared.ErrTimeout, e.refreshTimeout, err)
			logger.Error("refresh timed out", "err", err)
		default:
			logger.Error("refresh failed", "err", err)
		}
		return result, err
	}
	logger.Info("refresh applied", "mode", result.Mode, "added", result.Added, "removed", result.Removed)
	return result, nil
}

func (e *PlaylistEngine) refresh(ctx context.Context, req RefreshRequest, progress chan<- ProgressUpdate) (*RefreshResult, error) {
	spec, err := e.playlists.LoadPlaylistSpec(ctx, req.PlaylistID)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = spec.AutoUpdate.Normalize().Mode
	}
	if _, err := models.ParseRefreshMode(string(mode)); err != nil {
		return nil, err
	}
	count := req.SongCount
	if count == 0 {
		count = spec.SongCount
	}
	if err := validateSongCount(count); err != nil {
		return nil, err
	}
	newArtistsOnly := spec.Flags.NewArtistsOnly
	if req.NewArtistsOnly != nil {
		newArtistsOnly = *req.NewArtistsOnly
	}

	result := &RefreshResult{PlaylistID: spec.ID, Trigger: req.Trigger, Mode: mode, StartedAt: e.now()}

	svc, err := e.connect(spec.Owner, spec.Account)
	if err != nil {
		return nil, err
	}

	scoped, err := e.history.LoadSongHistory(ctx, spec.Owner, spec.ID)
	if err != nil {
		return nil, err
	}
	global, err := e.history.LoadSongHistory(ctx, spec.Owner, models.GlobalScope)
	if err != nil {
		return nil, err
	}

	e.sendProgress(progress, fetchLiveUpdate(spec.Name))
	live, err := svc.GetPlaylistTracks(ctx, spec.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist %s: %w", spec.ExternalID, err)
	}

	exclude := models.ExclusionSet(mode, scoped)
	for k := range global.Excluded {
		exclude[k] = struct{}{}
	}
	if mode == models.Append {
		for k := range identity.Keys(live) {
			exclude[k] = struct{}{}
		}
	}
	liked, disliked := promptBias(scoped, global)

	out, err := e.generate(ctx, svc, generation{
		prompt: reasoning.PromptContext{
			Prompt:         spec.Prompt,
			Refinements:    spec.Refinements.Entries(),
			AllowExplicit:  spec.Flags.AllowExplicit,
			NewArtistsOnly: newArtistsOnly,
			TargetCount:    count,
			Liked:          liked,
			Disliked:       disliked,
		},
		exclude: exclude,
		known:   models.KnownArtists(scoped, global),
	}, progress)
	if err != nil {
		return nil, err
	}
	result.Queries = out.queries
	result.PoolSize = len(out.pool)
	result.Selected = out.selected

	diff := ComputeDiff(spec.Account.Kind, mode, live, out.selected)
	result.Invalid = diff.Invalid
	if len(diff.Invalid) > 0 {
		e.logger.Warn("dropping invalid track references", "playlist", spec.ID, "count", len(diff.Invalid))
	}

	e.sendProgress(progress, applyDiffUpdate(diff))
	applyErr := e.apply(ctx, svc, spec.ExternalID, spec.Account.Kind, diff, result)

	// from here on only record what the platform accepted
	pctx, cancel := persistContext(ctx)
	defer cancel()

	added := diff.Add[:result.Added]
	e.sendProgress(progress, recordUpdate(len(added)))
	if err := e.recordApplied(pctx, spec.Owner, spec.ID, added, nil); err != nil {
		return result, err
	}

	result.FinishedAt = e.now()
	if result.Added+result.Removed > 0 {
		if err := e.playlists.MarkRefreshed(pctx, spec.ID, req.Trigger, result.FinishedAt); err != nil {
			return result, err
		}
	}

	if applyErr != nil {
		return result, applyErr
	}
	return result, nil
}

// apply removes then adds, stopping at the first failure so a replace never leaves both the old
// and the new tracks behind.
func (e *PlaylistEngine) apply(ctx context.Context, svc services.Service, externalID string, kind models.PlatformKind, d Diff, result *RefreshResult) error {
	if len(d.Remove) > 0 {
		removed, err := svc.RemoveTracks(ctx, externalID, refs(kind, d.Remove))
		result.Removed = removed
		if err != nil {
			return &ApplyError{Step: "remove", Removed: removed, Failed: len(d.Remove) - removed + len(d.Add), Invalid: len(d.Invalid), Err: err}
		}
	}
	if len(d.Add) > 0 {
		added, err := svc.AddTracks(ctx, externalID, refs(kind, d.Add))
		result.Added = added
		if err != nil {
			return &ApplyError{Step: "add", Added: added, Removed: result.Removed, Failed: len(d.Add) - added, Invalid: len(d.Invalid), Err: err}
		}
	}
	return nil
}
