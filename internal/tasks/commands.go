package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCommandMemory = 256
	defaultCommandTTL    = 10 * time.Minute
)

// ManualCommand is a user-initiated refresh.
type ManualCommand struct {
	PlaylistID     string
	SongCount      int
	Mode           models.RefreshMode
	NewArtistsOnly *bool // nil keeps the playlist's stored flag
	// IdempotencyKey identifies one user action; resubmissions with the same key share its outcome.
	IdempotencyKey string
}

type commandOutcome struct {
	result *RefreshResult
	err    error
}

// CommandGate turns manual commands into refreshes.
//
// Submissions with the same (playlist, idempotency key) that arrive while the first is running
// wait for and share its outcome; ones that arrive later get the remembered outcome until it
// expires. Without a key, concurrent submissions for a playlist still collapse but nothing is
// remembered.
type CommandGate struct {
	refresher Refresher
	group     singleflight.Group
	done      *expirable.LRU[string, commandOutcome]
}

// NewCommandGate creates a gate remembering up to size outcomes for ttl.
func NewCommandGate(r Refresher, size int, ttl time.Duration) *CommandGate {
	if size <= 0 {
		size = defaultCommandMemory
	}
	if ttl <= 0 {
		ttl = defaultCommandTTL
	}
	return &CommandGate{
		refresher: r,
		done:      expirable.NewLRU[string, commandOutcome](size, nil, ttl),
	}
}

// Submit runs cmd, or joins the identical command already in flight. The bool reports whether the
// outcome was shared with an earlier submission.
func (g *CommandGate) Submit(ctx context.Context, cmd ManualCommand) (*RefreshResult, bool, error) {
	if cmd.PlaylistID == "" {
		return nil, false, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	key := cmd.PlaylistID + "/" + cmd.IdempotencyKey

	if cmd.IdempotencyKey != "" {
		if out, ok := g.done.Get(key); ok {
			return out.result, true, out.err
		}
	}

	v, err, joined := g.group.Do(key, func() (any, error) {
		// the refresh belongs to every caller sharing the key, not just the first
		result, err := g.refresher.Refresh(context.WithoutCancel(ctx), RefreshRequest{
			PlaylistID:     cmd.PlaylistID,
			Trigger:        models.ManualTrigger,
			SongCount:      cmd.SongCount,
			Mode:           cmd.Mode,
			NewArtistsOnly: cmd.NewArtistsOnly,
		}, nil)
		if cmd.IdempotencyKey != "" && remember(result, err) {
			g.done.Add(key, commandOutcome{result: result, err: err})
		}
		return result, err
	})

	result, _ := v.(*RefreshResult)
	return result, joined, err
}

// remember keeps outcomes that changed or tried to change the playlist.
func remember(result *RefreshResult, err error) bool {
	if err == nil {
		return true
	}
	var applyErr *ApplyError
	return errors.As(err, &applyErr) && result != nil
}
