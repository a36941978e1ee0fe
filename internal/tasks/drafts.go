package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/reasoning"
	"github.com/desertthunder/mixtape/internal/shared"
)

// DraftRequest starts a new generation.
type DraftRequest struct {
	Owner     string
	Account   models.Account
	Prompt    string
	SongCount int
	Flags     models.ContentFlags
}

// CommitOpts controls how a draft becomes a platform playlist.
type CommitOpts struct {
	Name        string
	Description string
	AutoUpdate  models.AutoUpdateConfig
	// Target materializes the draft on another platform; tracks are matched by name and artist.
	Target *models.Account
}

// CommitResult describes a committed draft.
type CommitResult struct {
	Spec      *models.PlaylistSpec
	Added     int
	Invalid   []models.CandidateTrack
	Unmatched []models.CandidateTrack
}

// StartDraft generates a new draft and stores it under a fresh id.
func (e *PlaylistEngine) StartDraft(ctx context.Context, req DraftRequest, progress chan<- ProgressUpdate) (*models.DraftPlaylist, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("%w: owner", shared.ErrMissingArgument)
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt", shared.ErrMissingArgument)
	}
	if err := validateSongCount(req.SongCount); err != nil {
		return nil, err
	}

	draft := &models.DraftPlaylist{
		ID:        shared.GenerateID(),
		Owner:     req.Owner,
		Account:   req.Account,
		Prompt:    req.Prompt,
		SongCount: req.SongCount,
		Flags:     req.Flags,
	}
	if err := e.regenerate(ctx, draft, progress); err != nil {
		return nil, err
	}

	if err := e.drafts.SaveDraft(ctx, draft); err != nil {
		return nil, err
	}
	e.logger.Info("draft created", "draft", draft.ID, "owner", draft.Owner, "tracks", len(draft.Tracks))
	return draft, nil
}

// RefineDraft appends instruction to the draft's ledger and regenerates its tracks.
// The draft keeps its id and every earlier instruction.
func (e *PlaylistEngine) RefineDraft(ctx context.Context, id, instruction string, progress chan<- ProgressUpdate) (*models.DraftPlaylist, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("%w: refinement instruction", shared.ErrMissingArgument)
	}
	draft, err := e.drafts.LoadDraft(ctx, id)
	if err != nil {
		return nil, err
	}

	if !draft.Refinements.Add(instruction) {
		e.logger.Debug("refinement already recorded", "draft", id, "instruction", instruction)
	}
	if err := e.regenerate(ctx, draft, progress); err != nil {
		return nil, err
	}

	if err := e.drafts.SaveDraft(ctx, draft); err != nil {
		return nil, err
	}
	e.logger.Info("draft refined", "draft", id, "refinements", len(draft.Refinements), "tracks", len(draft.Tracks))
	return draft, nil
}

func (e *PlaylistEngine) regenerate(ctx context.Context, draft *models.DraftPlaylist, progress chan<- ProgressUpdate) error {
	svc, err := e.connect(draft.Owner, draft.Account)
	if err != nil {
		return err
	}
	global, err := e.history.LoadSongHistory(ctx, draft.Owner, models.GlobalScope)
	if err != nil {
		return err
	}

	exclude := draft.ExcludedSet()
	for k := range global.Excluded {
		exclude[k] = struct{}{}
	}
	liked, disliked := promptBias(global)

	out, err := e.generate(ctx, svc, generation{
		prompt: reasoning.PromptContext{
			Prompt:         draft.Prompt,
			Refinements:    draft.Refinements.Entries(),
			AllowExplicit:  draft.Flags.AllowExplicit,
			NewArtistsOnly: draft.Flags.NewArtistsOnly,
			TargetCount:    draft.SongCount,
			Liked:          liked,
			Disliked:       disliked,
		},
		exclude: exclude,
		known:   models.KnownArtists(global),
	}, progress)
	if err != nil {
		return err
	}

	draft.Queries = out.queries
	draft.Tracks = out.selected
	return nil
}

// RemoveDraftTrack drops a track from the draft and keeps it out of later refinements.
func (e *PlaylistEngine) RemoveDraftTrack(ctx context.Context, id, key string) (*models.DraftPlaylist, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	draft, err := e.drafts.LoadDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if !draft.Exclude(key) {
		return nil, fmt.Errorf("%w: %s in draft %s", shared.ErrTrackNotFound, key, id)
	}
	if err := e.drafts.SaveDraft(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// CommitDraft creates the platform playlist, adds the draft's tracks, stores the playlist spec and
// deletes the draft.
//
// Once the platform playlist exists the spec is always stored and the draft always deleted, even
// when adding tracks fails part way; the returned *ApplyError then reports what was applied.
func (e *PlaylistEngine) CommitDraft(ctx context.Context, id string, opts CommitOpts, progress chan<- ProgressUpdate) (*CommitResult, error) {
	draft, err := e.drafts.LoadDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := draft.ReadyToCommit(); err != nil {
		return nil, err
	}

	cfg := opts.AutoUpdate.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = draft.Prompt
	}

	account := draft.Account
	if opts.Target != nil {
		account = *opts.Target
	}
	svc, err := e.connect(draft.Owner, account)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{}
	tracks := draft.Tracks
	if account.Kind != draft.Account.Kind {
		tracks, result.Unmatched, err = e.resolver.ResolveAll(ctx, svc, draft.Tracks)
		if err != nil {
			return nil, err
		}
		if len(tracks) == 0 {
			return nil, fmt.Errorf("%w: none of %d tracks matched on %s", shared.ErrNoCandidateTracks, len(draft.Tracks), account.Kind)
		}
	}

	e.sendProgress(progress, createPlaylistUpdate(name, account.Kind))
	externalID, err := svc.CreatePlaylist(ctx, account, name, opts.Description, cfg.Visibility)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}

	refs, valid, invalid := models.PartitionRefs(account.Kind, tracks)
	result.Invalid = invalid
	e.sendProgress(progress, applyDiffUpdate(Diff{Add: valid, Invalid: invalid}))

	added, addErr := svc.AddTracks(ctx, externalID, refs)
	result.Added = added

	pctx, cancel := persistContext(ctx)
	defer cancel()

	now := e.now()
	spec := &models.PlaylistSpec{
		ID:          shared.GenerateID(),
		Owner:       draft.Owner,
		Account:     account,
		ExternalID:  externalID,
		Name:        name,
		Description: opts.Description,
		Prompt:      draft.Prompt,
		Refinements: models.RefinementLedger(draft.Refinements.Entries()),
		SongCount:   draft.SongCount,
		Flags:       draft.Flags,
		AutoUpdate:  cfg,
		CreatedAt:   now,
	}
	if err := spec.Reschedule(now); err != nil {
		return nil, err
	}
	if err := e.playlists.SavePlaylistSpec(pctx, spec); err != nil {
		return nil, fmt.Errorf("playlist %s created on %s but not saved: %w", externalID, account.Kind, err)
	}
	result.Spec = spec

	e.sendProgress(progress, recordUpdate(added))
	if err := e.recordApplied(pctx, spec.Owner, spec.ID, valid[:added], draft.ExcludedSongs); err != nil {
		e.logger.Error("failed to record commit history", "playlist", spec.ID, "err", err)
	}
	if err := e.drafts.DeleteDraft(pctx, draft.ID); err != nil && !errors.Is(err, shared.ErrDraftNotFound) {
		e.logger.Warn("failed to delete committed draft", "draft", draft.ID, "err", err)
	}

	if addErr != nil {
		applyErr := &ApplyError{Step: "add", Added: added, Failed: len(refs) - added, Invalid: len(invalid), Err: addErr}
		e.logger.Warn("commit partially applied", "playlist", spec.ID, "added", added, "failed", applyErr.Failed)
		return result, applyErr
	}

	e.logger.Info("draft committed", "draft", draft.ID, "playlist", spec.ID, "external", externalID, "added", added)
	return result, nil
}

// DiscardDraft deletes a draft without touching any platform.
func (e *PlaylistEngine) DiscardDraft(ctx context.Context, id string) error {
	return e.drafts.DeleteDraft(ctx, id)
}

// LoadDraft returns a draft by id.
func (e *PlaylistEngine) LoadDraft(ctx context.Context, id string) (*models.DraftPlaylist, error) {
	return e.drafts.LoadDraft(ctx, id)
}

// ListDrafts lists an owner's drafts.
func (e *PlaylistEngine) ListDrafts(ctx context.Context, owner string) ([]*models.DraftPlaylist, error) {
	return e.drafts.ListDrafts(ctx, owner)
}
