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

// TokenRepository implements [models.TokenStore].
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// LoadTokenRecord returns nil, nil when nothing is stored for the pair.
func (r *TokenRepository) LoadTokenRecord(ctx context.Context, owner string, platform models.PlatformKind) (*models.TokenRecord, error) {
	var (
		rec             models.TokenRecord
		kind            string
		expiry          sql.NullTime
		developerExpiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT owner_id, platform, account_id, access_token, refresh_token, token_type,
			expiry, developer_token, developer_expiry, updated_at
		FROM tokens
		WHERE owner_id = ? AND platform = ?
	`, owner, string(platform)).Scan(
		&rec.Owner, &kind, &rec.AccountID, &rec.AccessToken, &rec.RefreshToken, &rec.TokenType,
		&expiry, &rec.DeveloperToken, &developerExpiry, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}

	rec.Platform = models.PlatformKind(kind)
	rec.Expiry = fromNull(expiry)
	rec.DeveloperExpiry = fromNull(developerExpiry)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// SaveTokenRecord upserts the record for its (owner, platform) pair.
func (r *TokenRepository) SaveTokenRecord(ctx context.Context, rec *models.TokenRecord) error {
	if rec.Owner == "" || rec.Platform == "" {
		return fmt.Errorf("%w: token owner and platform are required", shared.ErrInvalidInput)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (owner_id, platform, account_id, access_token, refresh_token, token_type,
			expiry, developer_token, developer_expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, platform) DO UPDATE SET
			account_id = excluded.account_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			developer_token = excluded.developer_token,
			developer_expiry = excluded.developer_expiry,
			updated_at = excluded.updated_at
	`,
		rec.Owner, string(rec.Platform), rec.AccountID, rec.AccessToken, rec.RefreshToken, rec.TokenType,
		nullTime(rec.Expiry), rec.DeveloperToken, nullTime(rec.DeveloperExpiry), updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}
	return nil
}

// ListTokenRecords lists the platforms an owner has credentials for. Secrets are left in place;
// callers that display them must redact.
func (r *TokenRepository) ListTokenRecords(ctx context.Context, owner string) ([]*models.TokenRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform, account_id, expiry, developer_expiry, updated_at
		FROM tokens WHERE owner_id = ? ORDER BY platform
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query token records: %w", err)
	}
	defer rows.Close()

	var records []*models.TokenRecord
	for rows.Next() {
		rec := models.TokenRecord{Owner: owner}
		var kind string
		var expiry, developerExpiry sql.NullTime
		if err := rows.Scan(&kind, &rec.AccountID, &expiry, &developerExpiry, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token record: %w", err)
		}
		rec.Platform = models.PlatformKind(kind)
		rec.Expiry = fromNull(expiry)
		rec.DeveloperExpiry = fromNull(developerExpiry)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}
