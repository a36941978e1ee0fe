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

// HistoryRepository implements [models.HistoryStore]. Each (owner, scope) record is one row whose
// sets are stored as JSON objects.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// LoadSongHistory returns the stored record, or an empty one when none exists yet.
func (r *HistoryRepository) LoadSongHistory(ctx context.Context, owner, scope string) (*models.SongHistoryRecord, error) {
	var seen, excluded, reactions, artists string
	var updatedAt time.Time

	err := r.db.QueryRowContext(ctx, `
		SELECT seen, excluded, reactions, artists, updated_at
		FROM song_history
		WHERE owner_id = ? AND scope = ?
	`, owner, scope).Scan(&seen, &excluded, &reactions, &artists, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewSongHistory(owner, scope), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load song history: %w", err)
	}

	rec := models.NewSongHistory(owner, scope)
	rec.UpdatedAt = updatedAt.UTC()
	for _, col := range []struct {
		data string
		dest any
	}{
		{seen, &rec.Seen},
		{excluded, &rec.Excluded},
		{reactions, &rec.Reactions},
		{artists, &rec.Artists},
	} {
		if err := decodeJSON(col.data, col.dest); err != nil {
			return nil, err
		}
	}
	// a stored "null" decodes to a nil map
	if rec.Seen == nil || rec.Excluded == nil || rec.Reactions == nil || rec.Artists == nil {
		fresh := models.NewSongHistory(owner, scope)
		if rec.Seen == nil {
			rec.Seen = fresh.Seen
		}
		if rec.Excluded == nil {
			rec.Excluded = fresh.Excluded
		}
		if rec.Reactions == nil {
			rec.Reactions = fresh.Reactions
		}
		if rec.Artists == nil {
			rec.Artists = fresh.Artists
		}
	}
	return rec, nil
}

// SaveSongHistory upserts the whole record.
func (r *HistoryRepository) SaveSongHistory(ctx context.Context, rec *models.SongHistoryRecord) error {
	if rec.Owner == "" || rec.Scope == "" {
		return fmt.Errorf("%w: history owner and scope are required", shared.ErrInvalidInput)
	}

	empty := models.NewSongHistory(rec.Owner, rec.Scope)
	cols := make([]string, 0, 4)
	for _, v := range []any{
		orEmpty(rec.Seen, empty.Seen),
		orEmpty(rec.Excluded, empty.Excluded),
		orEmpty(rec.Reactions, empty.Reactions),
		orEmpty(rec.Artists, empty.Artists),
	} {
		data, err := encodeJSON(v)
		if err != nil {
			return err
		}
		cols = append(cols, data)
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO song_history (owner_id, scope, seen, excluded, reactions, artists, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, scope) DO UPDATE SET
			seen = excluded.seen,
			excluded = excluded.excluded,
			reactions = excluded.reactions,
			artists = excluded.artists,
			updated_at = excluded.updated_at
	`, rec.Owner, rec.Scope, cols[0], cols[1], cols[2], cols[3], updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save song history: %w", err)
	}
	return nil
}

// DeleteScope drops the history kept for one scope, used when a playlist spec is deleted.
func (r *HistoryRepository) DeleteScope(ctx context.Context, owner, scope string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM song_history WHERE owner_id = ? AND scope = ?`, owner, scope); err != nil {
		return fmt.Errorf("failed to delete song history: %w", err)
	}
	return nil
}

func orEmpty[M ~map[K]V, K comparable, V any](m, empty M) M {
	if m == nil {
		return empty
	}
	return m
}
