package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
)

// MatchRepository implements [models.MatchCache] on the track_matches table.
//
// The first match stored for a (key, platform) pair wins; later writes are ignored.
type MatchRepository struct {
	db *sql.DB
}

// NewMatchRepository creates a new MatchRepository with the given database connection
func NewMatchRepository(db *sql.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) LookupMatch(ctx context.Context, key string, platform models.PlatformKind) (string, bool, error) {
	var nativeID string
	err := r.db.QueryRowContext(ctx,
		`SELECT native_id FROM track_matches WHERE canonical_key = ? AND platform = ?`,
		key, string(platform)).Scan(&nativeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up track match: %w", err)
	}
	return nativeID, true, nil
}

func (r *MatchRepository) StoreMatch(ctx context.Context, key string, platform models.PlatformKind, nativeID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO track_matches (canonical_key, platform, native_id, created_at)
		VALUES (?, ?, ?, ?)
	`, key, string(platform), nativeID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store track match: %w", err)
	}
	return nil
}

// CountMatches reports how many matches are cached, for the status command.
func (r *MatchRepository) CountMatches(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count track matches: %w", err)
	}
	return n, nil
}
