// Package tokens owns platform credentials: it hands them out, refreshes them ahead of expiry and
// serializes refreshes per (owner, platform) so concurrent users of one credential never race.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/services"
	"github.com/desertthunder/mixtape/internal/shared"
	"golang.org/x/sync/singleflight"
)

// DefaultSkew is how close to expiry a token is refreshed proactively.
const DefaultSkew = 60 * time.Second

// Refresher knows how to renew one platform's credential.
type Refresher interface {
	// NeedsRefresh reports whether rec should be renewed before use.
	NeedsRefresh(rec *models.TokenRecord, now time.Time) bool
	// Refresh returns the renewed record. It must not persist it.
	Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error)
}

// Manager is the only writer of [models.TokenRecord] values.
type Manager struct {
	store      models.TokenStore
	logger     *log.Logger
	group      singleflight.Group
	now        func() time.Time
	mu         sync.RWMutex
	refreshers map[models.PlatformKind]Refresher
}

// NewManager creates a token manager backed by store.
func NewManager(store models.TokenStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Manager{
		store:      store,
		logger:     logger,
		now:        time.Now,
		refreshers: make(map[models.PlatformKind]Refresher),
	}
}

// Register installs the refresher for a platform.
func (m *Manager) Register(kind models.PlatformKind, r Refresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshers[kind] = r
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) refresher(kind models.PlatformKind) Refresher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshers[kind]
}

// Store saves a credential obtained out of band (CLI, OAuth callback).
func (m *Manager) Store(ctx context.Context, rec *models.TokenRecord) error {
	if rec.Owner == "" {
		return fmt.Errorf("%w: owner", shared.ErrMissingArgument)
	}
	if !rec.Platform.Valid() {
		return fmt.Errorf("%w: %q", shared.ErrUnknownPlatform, rec.Platform)
	}
	rec.UpdatedAt = m.now().UTC()
	return m.store.SaveTokenRecord(ctx, rec)
}

// Token returns a usable credential, refreshing it first when it is about to expire.
func (m *Manager) Token(ctx context.Context, owner string, kind models.PlatformKind) (*models.TokenRecord, error) {
	rec, err := m.load(ctx, owner, kind)
	if err != nil {
		return nil, err
	}

	r := m.refresher(kind)
	if r == nil || !r.NeedsRefresh(rec, m.now()) {
		return rec, nil
	}
	return m.refresh(ctx, rec, false)
}

// ForceRefresh renews the credential the platform rejected. If the stored credential no longer
// matches stale, another caller already refreshed it and the stored one is returned.
func (m *Manager) ForceRefresh(ctx context.Context, stale *models.TokenRecord) (*models.TokenRecord, error) {
	return m.refresh(ctx, stale, true)
}

func (m *Manager) refresh(ctx context.Context, stale *models.TokenRecord, force bool) (*models.TokenRecord, error) {
	r := m.refresher(stale.Platform)
	if r == nil {
		return nil, fmt.Errorf("%w: no refresher for %s", shared.ErrReauthRequired, stale.Platform)
	}

	key := stale.Owner + "/" + string(stale.Platform)
	fingerprint := stale.Fingerprint()

	v, err, joined := m.group.Do(key, func() (any, error) {
		current, err := m.load(ctx, stale.Owner, stale.Platform)
		if err != nil {
			return nil, err
		}
		if current.Fingerprint() != fingerprint {
			return current, nil
		}
		if !force && !r.NeedsRefresh(current, m.now()) {
			return current, nil
		}

		m.logger.Debug("refreshing credential", "owner", stale.Owner, "platform", stale.Platform, "forced", force)
		next, err := r.Refresh(ctx, current)
		if err != nil {
			if errors.Is(err, shared.ErrReauthRequired) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", shared.ErrRefreshFailed, stale.Platform, err)
		}
		next.Owner = current.Owner
		next.Platform = current.Platform
		next.UpdatedAt = m.now().UTC()
		if err := m.store.SaveTokenRecord(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
		}
		return next, nil
	})
	if err != nil {
		m.logger.Warn("credential refresh failed", "owner", stale.Owner, "platform", stale.Platform, "err", err)
		return nil, err
	}
	if joined {
		m.logger.Debug("joined in-flight refresh", "owner", stale.Owner, "platform", stale.Platform)
	}
	return v.(*models.TokenRecord), nil
}

func (m *Manager) load(ctx context.Context, owner string, kind models.PlatformKind) (*models.TokenRecord, error) {
	rec, err := m.store.LoadTokenRecord(ctx, owner, kind)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s for %s", shared.ErrTokenNotFound, kind, owner)
	}
	return rec, nil
}

// For returns the credential handle adapters use for one (owner, platform) pair.
func (m *Manager) For(owner string, kind models.PlatformKind) services.Credentials {
	return &binding{manager: m, owner: owner, kind: kind}
}

type binding struct {
	manager *Manager
	owner   string
	kind    models.PlatformKind
}

func (b *binding) Current(ctx context.Context) (*models.TokenRecord, error) {
	return b.manager.Token(ctx, b.owner, b.kind)
}

func (b *binding) Refresh(ctx context.Context, stale *models.TokenRecord) (*models.TokenRecord, error) {
	return b.manager.ForceRefresh(ctx, stale)
}
