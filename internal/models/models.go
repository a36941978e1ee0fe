package models

import (
	"context"
	"time"
)

// PlaylistStore persists [PlaylistSpec] records.
//
// UpdateNextRunAt, UpdateRefinements and MarkRefreshed touch only their own columns so the
// scheduler and a running refresh never overwrite each other's bookkeeping.
type PlaylistStore interface {
	LoadPlaylistSpec(ctx context.Context, id string) (*PlaylistSpec, error)
	SavePlaylistSpec(ctx context.Context, spec *PlaylistSpec) error
	DeletePlaylistSpec(ctx context.Context, id string) error
	ListPlaylistSpecs(ctx context.Context, owner string) ([]*PlaylistSpec, error)
	// ListDue returns auto-updating specs whose NextRunAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*PlaylistSpec, error)
	UpdateNextRunAt(ctx context.Context, id string, next time.Time) error
	UpdateRefinements(ctx context.Context, id string, ledger RefinementLedger) error
	MarkRefreshed(ctx context.Context, id string, trigger Trigger, at time.Time) error
}

// HistoryStore persists [SongHistoryRecord] values. Loading a missing record returns an empty one.
type HistoryStore interface {
	LoadSongHistory(ctx context.Context, owner, scope string) (*SongHistoryRecord, error)
	SaveSongHistory(ctx context.Context, record *SongHistoryRecord) error
}

// DraftStore persists [DraftPlaylist] values keyed by draft id.
type DraftStore interface {
	LoadDraft(ctx context.Context, id string) (*DraftPlaylist, error)
	SaveDraft(ctx context.Context, draft *DraftPlaylist) error
	DeleteDraft(ctx context.Context, id string) error
	ListDrafts(ctx context.Context, owner string) ([]*DraftPlaylist, error)
}

// TokenStore persists [TokenRecord] values. Only the token manager writes through it.
type TokenStore interface {
	LoadTokenRecord(ctx context.Context, owner string, platform PlatformKind) (*TokenRecord, error)
	SaveTokenRecord(ctx context.Context, record *TokenRecord) error
}

// MatchCache remembers cross-platform identity matches.
type MatchCache interface {
	LookupMatch(ctx context.Context, canonicalKey string, platform PlatformKind) (string, bool, error)
	StoreMatch(ctx context.Context, canonicalKey string, platform PlatformKind, nativeID string) error
}
