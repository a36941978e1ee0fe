package testing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/reasoning"
	"github.com/desertthunder/mixtape/internal/shared"
)

// StubGateway is a deterministic [reasoning.Gateway]. It plans the configured queries and, unless
// Pick is set, curates the first TargetCount pool entries.
type StubGateway struct {
	Queries   []string
	PlanErr   error
	CurateErr error
	Pick      func(pool []models.CandidateTrack, pc reasoning.PromptContext) []int

	mu        sync.Mutex
	plans     []reasoning.PromptContext
	curations [][]models.CandidateTrack
}

func (g *StubGateway) PlanQueries(ctx context.Context, pc reasoning.PromptContext) ([]string, error) {
	g.mu.Lock()
	g.plans = append(g.plans, pc)
	g.mu.Unlock()
	if g.PlanErr != nil {
		return nil, g.PlanErr
	}
	return slices.Clone(g.Queries), nil
}

func (g *StubGateway) Curate(ctx context.Context, pool []models.CandidateTrack, pc reasoning.PromptContext) ([]int, error) {
	g.mu.Lock()
	g.curations = append(g.curations, slices.Clone(pool))
	g.mu.Unlock()
	if g.CurateErr != nil {
		return nil, g.CurateErr
	}
	if g.Pick != nil {
		return g.Pick(pool, pc), nil
	}
	n := len(pool)
	if pc.TargetCount > 0 {
		n = min(n, pc.TargetCount)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

// Prompts returns every prompt context PlanQueries received.
func (g *StubGateway) Prompts() []reasoning.PromptContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.plans)
}

// Pools returns every pool Curate received.
func (g *StubGateway) Pools() [][]models.CandidateTrack {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.curations)
}

func cloneSpec(s *models.PlaylistSpec) *models.PlaylistSpec {
	c := *s
	c.Refinements = slices.Clone(s.Refinements)
	return &c
}

// MemoryPlaylists is an in-memory [models.PlaylistStore] with the same semantics as the SQLite one.
type MemoryPlaylists struct {
	mu    sync.Mutex
	specs map[string]*models.PlaylistSpec
}

func NewMemoryPlaylists() *MemoryPlaylists {
	return &MemoryPlaylists{specs: make(map[string]*models.PlaylistSpec)}
}

func (m *MemoryPlaylists) SavePlaylistSpec(_ context.Context, spec *models.PlaylistSpec) error {
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
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.ID] = cloneSpec(spec)
	return nil
}

func (m *MemoryPlaylists) LoadPlaylistSpec(_ context.Context, id string) (*models.PlaylistSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return cloneSpec(s), nil
}

func (m *MemoryPlaylists) DeletePlaylistSpec(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[id]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	delete(m.specs, id)
	return nil
}

func (m *MemoryPlaylists) ListPlaylistSpecs(_ context.Context, owner string) ([]*models.PlaylistSpec, error) {
	return m.list(func(s *models.PlaylistSpec) bool { return owner == "" || s.Owner == owner }, func(a, b *models.PlaylistSpec) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}), nil
}

func (m *MemoryPlaylists) ListDue(_ context.Context, now time.Time) ([]*models.PlaylistSpec, error) {
	return m.list(func(s *models.PlaylistSpec) bool {
		return s.AutoUpdate.Enabled() && !s.NextRunAt.IsZero() && !s.NextRunAt.After(now)
	}, func(a, b *models.PlaylistSpec) bool {
		if !a.NextRunAt.Equal(b.NextRunAt) {
			return a.NextRunAt.Before(b.NextRunAt)
		}
		return a.ID < b.ID
	}), nil
}

func (m *MemoryPlaylists) list(keep func(*models.PlaylistSpec) bool, less func(a, b *models.PlaylistSpec) bool) []*models.PlaylistSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PlaylistSpec
	for _, s := range m.specs {
		if keep(s) {
			out = append(out, cloneSpec(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *MemoryPlaylists) update(id string, fn func(*models.PlaylistSpec)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specs[id]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	fn(s)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryPlaylists) UpdateNextRunAt(_ context.Context, id string, next time.Time) error {
	return m.update(id, func(s *models.PlaylistSpec) { s.NextRunAt = next.UTC() })
}

func (m *MemoryPlaylists) UpdateRefinements(_ context.Context, id string, ledger models.RefinementLedger) error {
	return m.update(id, func(s *models.PlaylistSpec) { s.Refinements = slices.Clone(ledger) })
}

func (m *MemoryPlaylists) MarkRefreshed(_ context.Context, id string, trigger models.Trigger, at time.Time) error {
	return m.update(id, func(s *models.PlaylistSpec) {
		if trigger == models.ManualTrigger {
			s.LastManualRefreshAt = at.UTC()
		} else {
			s.LastAutoRefreshAt = at.UTC()
		}
	})
}

// MemoryHistory is an in-memory [models.HistoryStore].
type MemoryHistory struct {
	mu      sync.Mutex
	records map[string]*models.SongHistoryRecord
	// SaveErr, when set, fails every save.
	SaveErr error
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string]*models.SongHistoryRecord)}
}

func cloneHistory(r *models.SongHistoryRecord) *models.SongHistoryRecord {
	c := *r
	c.Seen = maps.Clone(r.Seen)
	c.Excluded = maps.Clone(r.Excluded)
	c.Reactions = maps.Clone(r.Reactions)
	c.Artists = maps.Clone(r.Artists)
	return &c
}

func (m *MemoryHistory) LoadSongHistory(_ context.Context, owner, scope string) (*models.SongHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[owner+"\x00"+scope]
	if !ok {
		return models.NewSongHistory(owner, scope), nil
	}
	return cloneHistory(r), nil
}

func (m *MemoryHistory) SaveSongHistory(_ context.Context, rec *models.SongHistoryRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if rec.Owner == "" || rec.Scope == "" {
		return fmt.Errorf("%w: history owner and scope are required", shared.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Owner+"\x00"+rec.Scope] = cloneHistory(rec)
	return nil
}

func (m *MemoryHistory) DeleteScope(_ context.Context, owner, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, owner+"\x00"+scope)
	return nil
}

// MemoryDrafts is an in-memory [models.DraftStore].
type MemoryDrafts struct {
	mu     sync.Mutex
	drafts map[string]*models.DraftPlaylist
}

func NewMemoryDrafts() *MemoryDrafts {
	return &MemoryDrafts{drafts: make(map[string]*models.DraftPlaylist)}
}

func cloneDraft(d *models.DraftPlaylist) *models.DraftPlaylist {
	c := *d
	c.Refinements = slices.Clone(d.Refinements)
	c.Queries = slices.Clone(d.Queries)
	c.Tracks = slices.Clone(d.Tracks)
	c.ExcludedSongs = slices.Clone(d.ExcludedSongs)
	return &c
}

func (m *MemoryDrafts) SaveDraft(_ context.Context, d *models.DraftPlaylist) error {
	if d.ID == "" {
		d.ID = shared.GenerateID()
	}
	if d.Owner == "" {
		return fmt.Errorf("%w: draft owner is required", shared.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.ID] = cloneDraft(d)
	return nil
}

func (m *MemoryDrafts) LoadDraft(_ context.Context, id string) (*models.DraftPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrDraftNotFound, id)
	}
	return cloneDraft(d), nil
}

func (m *MemoryDrafts) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[id]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrDraftNotFound, id)
	}
	delete(m.drafts, id)
	return nil
}

func (m *MemoryDrafts) ListDrafts(_ context.Context, owner string) ([]*models.DraftPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DraftPlaylist
	for _, d := range m.drafts {
		if owner == "" || d.Owner == owner {
			out = append(out, cloneDraft(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MemoryTokens is an in-memory [models.TokenStore].
type MemoryTokens struct {
	mu      sync.Mutex
	records map[string]models.TokenRecord
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{records: make(map[string]models.TokenRecord)}
}

func (m *MemoryTokens) LoadTokenRecord(_ context.Context, owner string, platform models.PlatformKind) (*models.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[owner+"\x00"+string(platform)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryTokens) SaveTokenRecord(_ context.Context, rec *models.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Owner+"\x00"+string(rec.Platform)] = *rec
	return nil
}
