package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/urfave/cli/v3"
)

// historyScope returns the playlist scope from --playlist, or the owner's global scope.
func historyScope(cmd *cli.Command) string {
	if s := cmd.String("playlist"); s != "" {
		return s
	}
	return models.GlobalScope
}

func scopeLabel(scope string) string {
	if scope == models.GlobalScope {
		return "global"
	}
	return "playlist " + scope
}

func trackKey(cmd *cli.Command) (string, error) {
	key := cmd.StringArg("key")
	if key == "" {
		return "", fmt.Errorf("%w: track key", shared.ErrMissingArgument)
	}
	return key, nil
}

// HistoryExclude permanently excludes a track.
func (r *Runner) HistoryExclude(ctx context.Context, cmd *cli.Command) error {
	key, err := trackKey(cmd)
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	scope := historyScope(cmd)
	changed, err := r.engine.Exclude(ctx, cmd.String("owner"), scope, key)
	if err != nil {
		return err
	}
	if !changed {
		return r.writePlain("%s is already excluded (%s)\n", key, scopeLabel(scope))
	}
	return r.writePlain("✓ Excluded %s (%s)\n", key, scopeLabel(scope))
}

// HistoryUnexclude lifts an exclusion.
func (r *Runner) HistoryUnexclude(ctx context.Context, cmd *cli.Command) error {
	key, err := trackKey(cmd)
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	scope := historyScope(cmd)
	changed, err := r.engine.Unexclude(ctx, cmd.String("owner"), scope, key)
	if err != nil {
		return err
	}
	if !changed {
		return r.writePlain("%s was not excluded (%s)\n", key, scopeLabel(scope))
	}
	return r.writePlain("✓ %s may be suggested again (%s)\n", key, scopeLabel(scope))
}

// HistoryReact records a like or dislike.
func (r *Runner) HistoryReact(ctx context.Context, cmd *cli.Command) error {
	key, err := trackKey(cmd)
	if err != nil {
		return err
	}
	reaction, err := models.ParseReaction(cmd.StringArg("reaction"))
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	scope := historyScope(cmd)
	if err := r.engine.React(ctx, cmd.String("owner"), scope, key, reaction); err != nil {
		return err
	}
	return r.writePlain("✓ %s marked %s (%s)\n", key, reaction, scopeLabel(scope))
}

// HistoryClear removes a reaction.
func (r *Runner) HistoryClear(ctx context.Context, cmd *cli.Command) error {
	key, err := trackKey(cmd)
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	scope := historyScope(cmd)
	changed, err := r.engine.ClearReaction(ctx, cmd.String("owner"), scope, key)
	if err != nil {
		return err
	}
	if !changed {
		return r.writePlain("No reaction recorded for %s (%s)\n", key, scopeLabel(scope))
	}
	return r.writePlain("✓ Cleared reaction on %s (%s)\n", key, scopeLabel(scope))
}

// HistoryShow prints exclusions and reactions for a scope.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	scope := historyScope(cmd)
	rec, err := r.engine.History(ctx, cmd.String("owner"), scope)
	if err != nil {
		return err
	}

	view := struct {
		Scope     string   `json:"scope"`
		Seen      int      `json:"seen"`
		Excluded  []string `json:"excluded"`
		Liked     []string `json:"liked"`
		Disliked  []string `json:"disliked"`
		Artists   int      `json:"artists"`
		UpdatedAt string   `json:"updatedAt,omitempty"`
	}{
		Scope:    scope,
		Seen:     len(rec.Seen),
		Excluded: sortedKeys(rec.Excluded),
		Liked:    rec.KeysWithReaction(models.Liked),
		Disliked: rec.KeysWithReaction(models.Disliked),
		Artists:  len(rec.Artists),
	}
	if !rec.UpdatedAt.IsZero() {
		view.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}

	if cmd.Bool("json") {
		return r.writeJSON(view, cmd.Bool("pretty"))
	}

	r.writePlainHeader("History: " + scopeLabel(scope))
	r.writePlain("Seen: %d tracks, %d artists\n", view.Seen, view.Artists)
	for _, section := range []struct {
		title string
		keys  []string
	}{
		{"Excluded", view.Excluded},
		{"Liked", view.Liked},
		{"Disliked", view.Disliked},
	} {
		r.writePlain("\n%s (%d)\n", section.title, len(section.keys))
		for _, k := range section.keys {
			r.writePlain("  - %s\n", k)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
