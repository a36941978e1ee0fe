package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

func (e *PlaylistEngine) historyLock(owner, scope string) func() {
	mu, _ := e.historyMu.LoadOrStore(owner+"\x00"+scope, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// updateHistory loads the (owner, scope) record, applies fn, and saves it when fn reports a change.
func (e *PlaylistEngine) updateHistory(ctx context.Context, owner, scope string, fn func(*models.SongHistoryRecord) bool) (bool, error) {
	if owner == "" || scope == "" {
		return false, fmt.Errorf("%w: owner and scope are required", shared.ErrMissingArgument)
	}
	unlock := e.historyLock(owner, scope)
	defer unlock()

	rec, err := e.history.LoadSongHistory(ctx, owner, scope)
	if err != nil {
		return false, err
	}
	if !fn(rec) {
		return false, nil
	}
	if err := e.history.SaveSongHistory(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Exclude permanently rejects key within scope. It reports whether the key was new.
func (e *PlaylistEngine) Exclude(ctx context.Context, owner, scope, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	return e.updateHistory(ctx, owner, scope, func(r *models.SongHistoryRecord) bool {
		return r.Exclude(key, e.now())
	})
}

// Unexclude lifts an exclusion. This is the only way a key leaves the exclusion set.
func (e *PlaylistEngine) Unexclude(ctx context.Context, owner, scope, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	return e.updateHistory(ctx, owner, scope, func(r *models.SongHistoryRecord) bool {
		return r.Unexclude(key, e.now())
	})
}

// React records a soft preference for key.
func (e *PlaylistEngine) React(ctx context.Context, owner, scope, key string, reaction models.Reaction) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = e.updateHistory(ctx, owner, scope, func(r *models.SongHistoryRecord) bool {
		if r.Reactions[key] == reaction {
			return false
		}
		r.React(key, reaction, e.now())
		return true
	})
	return err
}

// ClearReaction toggles a reaction off. It reports whether one was set.
func (e *PlaylistEngine) ClearReaction(ctx context.Context, owner, scope, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	return e.updateHistory(ctx, owner, scope, func(r *models.SongHistoryRecord) bool {
		return r.ClearReaction(key, e.now())
	})
}

// History returns the record for (owner, scope).
func (e *PlaylistEngine) History(ctx context.Context, owner, scope string) (*models.SongHistoryRecord, error) {
	return e.history.LoadSongHistory(ctx, owner, scope)
}

// recordApplied marks tracks as seen in the playlist's scope and their artists in the owner's
// global scope.
func (e *PlaylistEngine) recordApplied(ctx context.Context, owner, scope string, tracks []models.CandidateTrack, exclusions []string) error {
	if len(tracks) == 0 && len(exclusions) == 0 {
		return nil
	}
	at := e.now()
	if _, err := e.updateHistory(ctx, owner, scope, func(r *models.SongHistoryRecord) bool {
		r.MarkSeen(at, tracks...)
		for _, k := range exclusions {
			r.Exclude(k, at)
		}
		return true
	}); err != nil {
		return fmt.Errorf("failed to record history for %s: %w", scope, err)
	}
	if len(tracks) == 0 {
		return nil
	}
	if _, err := e.updateHistory(ctx, owner, models.GlobalScope, func(r *models.SongHistoryRecord) bool {
		r.MarkSeen(at, tracks...)
		return true
	}); err != nil {
		return fmt.Errorf("failed to record global history: %w", err)
	}
	return nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: track key", shared.ErrMissingArgument)
	}
	return key, nil
}

// reactionLabels renders reaction keys for the prompt. Fallback keys ("name|artist") read as
// "artist - name"; catalog keys are passed through.
func reactionLabels(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if name, artist, ok := strings.Cut(k, "|"); ok {
			out = append(out, models.CandidateTrack{Name: name, Artist: artist}.Label())
			continue
		}
		out = append(out, k)
	}
	return out
}

// promptBias collects liked and disliked labels from every record.
func promptBias(records ...*models.SongHistoryRecord) (liked, disliked []string) {
	for _, r := range records {
		if r == nil {
			continue
		}
		liked = append(liked, reactionLabels(r.KeysWithReaction(models.Liked))...)
		disliked = append(disliked, reactionLabels(r.KeysWithReaction(models.Disliked))...)
	}
	return liked, disliked
}
