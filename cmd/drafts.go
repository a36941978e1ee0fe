package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/mixtape/internal/formatter"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
	"github.com/urfave/cli/v3"
)

// DraftGenerate creates a draft from a free-text prompt.
func (r *Runner) DraftGenerate(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(cmd.StringArg("prompt"))
	if prompt == "" {
		return fmt.Errorf("%w: prompt", shared.ErrMissingArgument)
	}
	kind, err := models.ParsePlatformKind(cmd.String("platform"))
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	req := tasks.DraftRequest{
		Owner:     cmd.String("owner"),
		Account:   models.Account{Kind: kind},
		Prompt:    prompt,
		SongCount: cmd.Int("count"),
		Flags: models.ContentFlags{
			AllowExplicit:  cmd.Bool("explicit"),
			NewArtistsOnly: cmd.Bool("new-artists"),
		},
	}
	r.logger.Info("generating draft", "platform", kind, "count", req.SongCount)

	useJSON := cmd.Bool("json")
	draft, err := r.withProgress(useJSON, func(progress chan<- tasks.ProgressUpdate) (*models.DraftPlaylist, error) {
		return r.engine.StartDraft(ctx, req, progress)
	})
	if err != nil {
		return err
	}
	return r.printDraft(draft, useJSON, cmd.Bool("pretty"))
}

// DraftRefine records an instruction on the draft and regenerates it.
func (r *Runner) DraftRefine(ctx context.Context, cmd *cli.Command) error {
	id, instruction := cmd.StringArg("id"), cmd.StringArg("instruction")
	if id == "" || strings.TrimSpace(instruction) == "" {
		return fmt.Errorf("%w: draft id and instruction", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	draft, err := r.withProgress(useJSON, func(progress chan<- tasks.ProgressUpdate) (*models.DraftPlaylist, error) {
		return r.engine.RefineDraft(ctx, id, instruction, progress)
	})
	if err != nil {
		return err
	}
	return r.printDraft(draft, useJSON, cmd.Bool("pretty"))
}

// DraftRemove drops a track from the draft.
func (r *Runner) DraftRemove(ctx context.Context, cmd *cli.Command) error {
	id, key := cmd.StringArg("id"), cmd.StringArg("key")
	if id == "" || key == "" {
		return fmt.Errorf("%w: draft id and track key", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	draft, err := r.engine.RemoveDraftTrack(ctx, id, key)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Removed %s (%d tracks left)\n", key, len(draft.Tracks))
}

// DraftShow prints a draft or writes it to a directory.
func (r *Runner) DraftShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: draft id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	draft, err := r.engine.LoadDraft(ctx, id)
	if err != nil {
		return err
	}

	format := cmd.String("format")
	if cmd.Bool("json") {
		format = "json"
	}

	if dir := cmd.String("output"); dir != "" {
		files, err := tasks.ExportDraft(draft, format, dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			r.writePlain("✓ Wrote %s\n", f)
		}
		return nil
	}

	format, err = tasks.ParseExportFormat(format)
	if err != nil {
		return err
	}
	return r.render(formatter.FromDraft(draft), draft, format, cmd.Bool("pretty"))
}

// DraftCommit materializes the draft as a platform playlist.
func (r *Runner) DraftCommit(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: draft id", shared.ErrMissingArgument)
	}
	cfg, err := autoUpdateFromFlags(cmd)
	if err != nil {
		return err
	}
	opts := tasks.CommitOpts{
		Name:        cmd.String("name"),
		Description: cmd.String("description"),
		AutoUpdate:  cfg,
	}
	if target := cmd.String("target"); target != "" {
		kind, err := models.ParsePlatformKind(target)
		if err != nil {
			return err
		}
		opts.Target = &models.Account{Kind: kind}
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	progress, stop := r.progress()
	result, err := r.engine.CommitDraft(ctx, id, opts, progress)
	stop()

	var applyErr *tasks.ApplyError
	if err != nil && (!errors.As(err, &applyErr) || result == nil) {
		return err
	}

	spec := result.Spec
	r.writePlainln("✓ Created %q on %s", spec.Name, spec.Account.Kind.DisplayName())
	r.writePlain("  Playlist:  %s\n", spec.ID)
	r.writePlain("  External:  %s\n", spec.ExternalID)
	r.writePlain("  Added:     %d\n", result.Added)
	r.writePlain("  Schedule:  %s\n", formatter.ScheduleString(spec.AutoUpdate))
	if !spec.NextRunAt.IsZero() {
		r.writePlain("  Next run:  %s\n", spec.NextRunAt.Local().Format(time.DateTime))
	}
	if len(result.Invalid) > 0 {
		r.writePlain("⚠ %d tracks had invalid references\n", len(result.Invalid))
	}
	if len(result.Unmatched) > 0 {
		r.writePlain("⚠ %d tracks not found on %s:\n", len(result.Unmatched), spec.Account.Kind.DisplayName())
		for _, t := range result.Unmatched {
			r.writePlain("   - %s – %s\n", t.Artist, t.Name)
		}
	}
	return err
}

// DraftDiscard deletes a draft.
func (r *Runner) DraftDiscard(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: draft id", shared.ErrMissingArgument)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	if err := r.engine.DiscardDraft(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Discarded draft %s\n", id)
}

// DraftList lists the owner's drafts, newest first.
func (r *Runner) DraftList(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	drafts, err := r.engine.ListDrafts(ctx, cmd.String("owner"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(drafts, cmd.Bool("pretty"))
	}

	if len(drafts) == 0 {
		return r.writePlain("No drafts\n")
	}
	r.writePlainHeader(fmt.Sprintf("Drafts (%d)", len(drafts)))
	for _, d := range drafts {
		r.writePlain("%s  %-12s %3d tracks  %s\n", d.ID, d.Account.Kind, len(d.Tracks), d.Prompt)
	}
	return nil
}

// withProgress runs fn with a progress printer unless output is JSON.
func (r *Runner) withProgress(quiet bool, fn func(chan<- tasks.ProgressUpdate) (*models.DraftPlaylist, error)) (*models.DraftPlaylist, error) {
	if quiet {
		return fn(nil)
	}
	progress, stop := r.progress()
	defer stop()
	return fn(progress)
}

func (r *Runner) printDraft(d *models.DraftPlaylist, useJSON, pretty bool) error {
	if useJSON {
		return r.writeJSON(d, pretty)
	}

	r.writePlainln("Draft %s (%s)", d.ID, d.Account.Kind.DisplayName())
	r.writePlain("Prompt: %s\n", d.Prompt)
	for _, instr := range d.Refinements.Entries() {
		r.writePlain("  + %s\n", instr)
	}
	r.writePlain("\n")
	for i, t := range d.Tracks {
		r.writePlain("%3d. %s – %s  [%s]\n", i+1, t.Artist, t.Name, t.CanonicalKey)
	}
	r.writePlain("\n%d/%d tracks. Commit with: mixtape draft commit %s --name \"...\"\n", len(d.Tracks), d.SongCount, d.ID)
	return nil
}

// render writes a listing to the output in format. raw is what JSON output encodes.
func (r *Runner) render(l formatter.Listing, raw any, format string, pretty bool) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		return r.writeJSON(raw, pretty)
	case "csv":
		data, err = formatter.ExportToCSV(l)
	case "markdown":
		data, err = formatter.ExportToMarkdown(l)
	default:
		data, err = formatter.ExportToText(l)
	}
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// autoUpdateFromFlags reads the shared schedule flags.
func autoUpdateFromFlags(cmd *cli.Command) (models.AutoUpdateConfig, error) {
	freq, err := models.ParseFrequency(cmd.String("frequency"))
	if err != nil {
		return models.AutoUpdateConfig{}, err
	}
	mode, err := models.ParseRefreshMode(cmd.String("mode"))
	if err != nil {
		return models.AutoUpdateConfig{}, err
	}
	visibility := models.Private
	if cmd.Bool("public") {
		visibility = models.Public
	}

	cfg := models.AutoUpdateConfig{
		Frequency:  freq,
		Mode:       mode,
		TimeOfDay:  cmd.String("at"),
		Timezone:   cmd.String("timezone"),
		Visibility: visibility,
	}
	return cfg, cfg.Validate()
}
