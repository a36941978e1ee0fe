package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mixtape/internal/formatter"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// PlaylistRefresh regenerates a committed playlist now.
//
// The command goes through the same gate as the HTTP surface, so a refresh already running for
// the playlist is reported instead of started twice.
func (r *Runner) PlaylistRefresh(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	command := tasks.ManualCommand{
		PlaylistID:     id,
		SongCount:      cmd.Int("count"),
		IdempotencyKey: uuid.NewString(),
	}
	if cmd.IsSet("new-artists") {
		newArtists := cmd.Bool("new-artists")
		command.NewArtistsOnly = &newArtists
	}
	if cmd.IsSet("mode") {
		mode, err := models.ParseRefreshMode(cmd.String("mode"))
		if err != nil {
			return err
		}
		command.Mode = mode
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	r.logger.Info("refreshing playlist", "playlist", id, "mode", command.Mode)
	result, _, err := r.gate.Submit(ctx, command)
	if errors.Is(err, shared.ErrConcurrentRefreshSkipped) {
		r.writePlain("⚠ A refresh of %s is already running\n", id)
		return err
	}
	if result == nil {
		return err
	}

	if cmd.Bool("json") {
		if werr := r.writeJSON(result, cmd.Bool("pretty")); werr != nil {
			return werr
		}
		return err
	}

	r.writePlainln("✓ Refreshed %s (%s)", id, result.Mode)
	r.writePlain("  Added:    %d\n", result.Added)
	r.writePlain("  Removed:  %d\n", result.Removed)
	r.writePlain("  Pool:     %d candidates from %d queries\n", result.PoolSize, len(result.Queries))
	if len(result.Invalid) > 0 {
		r.writePlain("⚠ %d tracks had invalid references\n", len(result.Invalid))
	}
	for i, t := range result.Selected {
		r.writePlain("%3d. %s – %s\n", i+1, t.Artist, t.Name)
	}
	return err
}

// PlaylistSchedule changes the auto-update settings of a playlist. Only the flags given are
// changed; the next run is recomputed straight away.
func (r *Runner) PlaylistSchedule(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	spec, err := r.engine.LoadPlaylist(ctx, id)
	if err != nil {
		return err
	}

	cfg := spec.AutoUpdate.Normalize()
	if cmd.IsSet("frequency") {
		if cfg.Frequency, err = models.ParseFrequency(cmd.String("frequency")); err != nil {
			return err
		}
	}
	if cmd.IsSet("mode") {
		if cfg.Mode, err = models.ParseRefreshMode(cmd.String("mode")); err != nil {
			return err
		}
	}
	if cmd.IsSet("at") {
		cfg.TimeOfDay = cmd.String("at")
	}
	if cmd.IsSet("timezone") {
		cfg.Timezone = cmd.String("timezone")
	}
	if cmd.IsSet("public") {
		cfg.Visibility = models.Private
		if cmd.Bool("public") {
			cfg.Visibility = models.Public
		}
	}

	spec, err = r.engine.UpdateAutoUpdate(ctx, id, cfg)
	if err != nil {
		return err
	}
	r.writePlain("✓ %s: %s\n", spec.Name, formatter.ScheduleString(spec.AutoUpdate))
	if !spec.NextRunAt.IsZero() {
		r.writePlain("  Next run: %s\n", spec.NextRunAt.Local().Format(time.DateTime))
	}
	return nil
}

// PlaylistRefine adds a standing instruction to a playlist.
func (r *Runner) PlaylistRefine(ctx context.Context, cmd *cli.Command) error {
	id, instruction := cmd.StringArg("id"), cmd.StringArg("instruction")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	changed, err := r.engine.AddRefinement(ctx, id, instruction)
	if err != nil {
		return err
	}
	if !changed {
		return r.writePlain("Instruction already recorded\n")
	}
	return r.writePlain("✓ Instruction added; it applies from the next refresh\n")
}

// PlaylistShow prints a playlist with its live platform tracks.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	spec, err := r.engine.LoadPlaylist(ctx, id)
	if err != nil {
		return err
	}
	tracks, err := r.engine.LiveTracks(ctx, spec)
	if err != nil {
		return err
	}

	listing := formatter.FromSpec(spec, tracks)
	if cmd.Bool("json") {
		return r.writeJSON(struct {
			formatter.Listing
			Tracks []models.CandidateTrack `json:"tracks"`
		}{listing, tracks}, cmd.Bool("pretty"))
	}
	return r.render(listing, nil, "txt", false)
}

// PlaylistDelete stops managing a playlist.
func (r *Runner) PlaylistDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	if err := r.engine.DeletePlaylist(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ No longer managing %s\n", id)
}

// PlaylistList lists the owner's committed playlists.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	specs, err := r.engine.ListPlaylists(ctx, cmd.String("owner"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		listings := make([]formatter.Listing, 0, len(specs))
		for _, s := range specs {
			listings = append(listings, formatter.FromSpec(s, nil))
		}
		return r.writeJSON(listings, cmd.Bool("pretty"))
	}

	if len(specs) == 0 {
		return r.writePlain("No playlists\n")
	}
	r.writePlainHeader(fmt.Sprintf("Playlists (%d)", len(specs)))
	for _, s := range specs {
		r.writePlain("%s  %-12s %-30s %s\n", s.ID, s.Account.Kind, s.Name, formatter.ScheduleString(s.AutoUpdate))
	}
	return nil
}

// PlaylistExport writes playlists and their live tracks to disk.
func (r *Runner) PlaylistExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	ids := cmd.StringSlice("id")
	if len(ids) == 0 {
		specs, err := r.engine.ListPlaylists(ctx, cmd.String("owner"))
		if err != nil {
			return err
		}
		for _, s := range specs {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return r.writePlain("No playlists to export\n")
	}

	opts := tasks.ExportOpts{
		Format:     cmd.String("format"),
		OutputDir:  cmd.String("output"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	}

	progress, stop := r.progress()
	result, err := r.engine.Export(ctx, progress, ids, opts)
	stop()
	if result == nil {
		return err
	}

	r.writePlainln("✓ Exported %d/%d playlists to %s", result.Succeeded, result.Total, result.OutputDirectory)
	for _, e := range result.Entries {
		if e.Error != "" {
			r.writePlain("✗ %s: %s\n", e.Name, e.Error)
		}
	}
	if result.ManifestPath != "" {
		r.writePlain("  Manifest: %s\n", result.ManifestPath)
	}
	return err
}
