package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

const playlistColumns = `id, owner_id, platform, account_id, external_id, name, description, prompt, refinements,
	song_count, allow_explicit, new_artists_only, frequency, mode, time_of_day, timezone, visibility,
	created_at, updated_at, last_manual_refresh_at, last_auto_refresh_at, next_run_at`

// PlaylistRepository implements [models.PlaylistStore].
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// SavePlaylistSpec inserts the spec, or replaces every column of an existing one.
// A missing id is generated.
func (r *PlaylistRepository) SavePlaylistSpec(ctx context.Context, spec *models.PlaylistSpec) error {
	if spec.ID == "" {
		spec.ID = shared.GenerateID()
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now

	refinements, err := encodeLedger(spec.Refinements)
	if err != nil {
		return err
	}

	cfg := spec.AutoUpdate.Normalize()
	query := `
		INSERT INTO playlist_specs (` + playlistColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			platform = excluded.platform,
			account_id = excluded.account_id,
			external_id = excluded.external_id,
			name = excluded.name,
			description = excluded.description,
			prompt = excluded.prompt,
			refinements = excluded.refinements,
			song_count = excluded.song_count,
			allow_explicit = excluded.allow_explicit,
			new_artists_only = excluded.new_artists_only,
			frequency = excluded.frequency,
			mode = excluded.mode,
			time_of_day = excluded.time_of_day,
			timezone = excluded.timezone,
			visibility = excluded.visibility,
			updated_at = excluded.updated_at,
			last_manual_refresh_at = excluded.last_manual_refresh_at,
			last_auto_refresh_at = excluded.last_auto_refresh_at,
			next_run_at = excluded.next_run_at
	`

	_, err = r.db.ExecContext(ctx, query,
		spec.ID,
		spec.Owner,
		spec.Account.Kind,
		spec.Account.ExternalAccountID,
		spec.ExternalID,
		spec.Name,
		spec.Description,
		spec.Prompt,
		refinements,
		spec.SongCount,
		spec.Flags.AllowExplicit,
		spec.Flags.NewArtistsOnly,
		cfg.Frequency,
		cfg.Mode,
		cfg.TimeOfDay,
		cfg.Timezone,
		cfg.Visibility,
		spec.CreatedAt.UTC(),
		spec.UpdatedAt,
		nullTime(spec.LastManualRefreshAt),
		nullTime(spec.LastAutoRefreshAt),
		nullTime(spec.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save playlist spec: %w", err)
	}
	return nil
}

// LoadPlaylistSpec retrieves a spec by id.
func (r *PlaylistRepository) LoadPlaylistSpec(ctx context.Context, id string) (*models.PlaylistSpec, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlist_specs WHERE id = ?`, id)
	spec, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return spec, err
}

// DeletePlaylistSpec removes a spec.
func (r *PlaylistRepository) DeletePlaylistSpec(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM playlist_specs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist spec: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id))
}

// ListPlaylistSpecs lists an owner's specs, oldest first. An empty owner lists everything.
func (r *PlaylistRepository) ListPlaylistSpecs(ctx context.Context, owner string) ([]*models.PlaylistSpec, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlist_specs`
	var args []any
	if owner != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, args...)
}

// ListDue returns scheduled specs whose next run is at or before now, most overdue first.
func (r *PlaylistRepository) ListDue(ctx context.Context, now time.Time) ([]*models.PlaylistSpec, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlist_specs
		WHERE frequency != 'none' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`
	return r.list(ctx, query, now.UTC())
}

// UpdateNextRunAt writes only the schedule column.
func (r *PlaylistRepository) UpdateNextRunAt(ctx context.Context, id string, next time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE playlist_specs SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(next), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update next run: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id))
}

// UpdateRefinements writes only the refinement ledger.
func (r *PlaylistRepository) UpdateRefinements(ctx context.Context, id string, ledger models.RefinementLedger) error {
	refinements, err := encodeLedger(ledger)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE playlist_specs SET refinements = ?, updated_at = ? WHERE id = ?`,
		refinements, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update refinements: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id))
}

// MarkRefreshed stamps the refresh timestamp belonging to trigger.
func (r *PlaylistRepository) MarkRefreshed(ctx context.Context, id string, trigger models.Trigger, at time.Time) error {
	column := "last_auto_refresh_at"
	if trigger == models.ManualTrigger {
		column = "last_manual_refresh_at"
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE playlist_specs SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark refresh: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id))
}

func (r *PlaylistRepository) list(ctx context.Context, query string, args ...any) ([]*models.PlaylistSpec, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist specs: %w", err)
	}
	defer rows.Close()

	var specs []*models.PlaylistSpec
	for rows.Next() {
		spec, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return specs, nil
}

func encodeLedger(l models.RefinementLedger) (string, error) {
	entries := l.Entries()
	if entries == nil {
		entries = []string{}
	}
	return encodeJSON(entries)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanPlaylist scans a single row into a [models.PlaylistSpec]
func scanPlaylist(s scanner) (*models.PlaylistSpec, error) {
	var (
		spec        models.PlaylistSpec
		platform    string
		refinements string
		frequency   string
		mode        string
		visibility  string
		lastManual  sql.NullTime
		lastAuto    sql.NullTime
		nextRun     sql.NullTime
	)

	err := s.Scan(
		&spec.ID, &spec.Owner, &platform, &spec.Account.ExternalAccountID, &spec.ExternalID,
		&spec.Name, &spec.Description, &spec.Prompt, &refinements,
		&spec.SongCount, &spec.Flags.AllowExplicit, &spec.Flags.NewArtistsOnly,
		&frequency, &mode, &spec.AutoUpdate.TimeOfDay, &spec.AutoUpdate.Timezone, &visibility,
		&spec.CreatedAt, &spec.UpdatedAt, &lastManual, &lastAuto, &nextRun,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist spec: %w", err)
	}

	var entries []string
	if err := decodeJSON(refinements, &entries); err != nil {
		return nil, err
	}
	spec.Refinements = models.RefinementLedger(entries)

	spec.Account.Kind = models.PlatformKind(platform)
	spec.AutoUpdate.Frequency = models.Frequency(frequency)
	spec.AutoUpdate.Mode = models.RefreshMode(mode)
	spec.AutoUpdate.Visibility = models.Visibility(visibility)
	spec.CreatedAt = spec.CreatedAt.UTC()
	spec.UpdatedAt = spec.UpdatedAt.UTC()
	spec.LastManualRefreshAt = fromNull(lastManual)
	spec.LastAutoRefreshAt = fromNull(lastAuto)
	spec.NextRunAt = fromNull(nextRun)

	return &spec, nil
}
