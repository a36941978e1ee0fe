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

// DraftRepository implements [models.DraftStore]. The draft itself is stored as a JSON payload;
// only the owner and timestamps get their own columns.
type DraftRepository struct {
	db *sql.DB
}

// NewDraftRepository creates a new DraftRepository with the given database connection
func NewDraftRepository(db *sql.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// SaveDraft inserts or overwrites the draft with the same id.
func (r *DraftRepository) SaveDraft(ctx context.Context, draft *models.DraftPlaylist) error {
	if draft.ID == "" {
		draft.ID = shared.GenerateID()
	}
	if draft.Owner == "" {
		return fmt.Errorf("%w: draft owner is required", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	payload, err := encodeJSON(draft)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO drafts (id, owner_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, draft.ID, draft.Owner, payload, draft.CreatedAt.UTC(), draft.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// LoadDraft retrieves a draft by id.
func (r *DraftRepository) LoadDraft(ctx context.Context, id string) (*models.DraftPlaylist, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrDraftNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	var draft models.DraftPlaylist
	if err := decodeJSON(payload, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// DeleteDraft removes a draft.
func (r *DraftRepository) DeleteDraft(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrDraftNotFound, id))
}

// ListDrafts lists an owner's drafts, most recently touched first.
func (r *DraftRepository) ListDrafts(ctx context.Context, owner string) ([]*models.DraftPlaylist, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM drafts WHERE owner_id = ? ORDER BY updated_at DESC, id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	drafts := make([]*models.DraftPlaylist, 0, len(payloads))
	for _, payload := range payloads {
		var draft models.DraftPlaylist
		if err := decodeJSON(payload, &draft); err != nil {
			return nil, err
		}
		drafts = append(drafts, &draft)
	}
	return drafts, nil
}
