package testing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/services"
	"github.com/desertthunder/mixtape/internal/shared"
)

// SpotifyTrack builds a Spotify candidate whose native id is a valid 22 character base62 id.
func SpotifyTrack(n int, name, artist string) models.CandidateTrack {
	return models.CandidateTrack{
		CanonicalKey: shared.NormalizeTrackKey(name, artist),
		NativeID:     fmt.Sprintf("%022d", n),
		Name:         name,
		Artist:       artist,
		Platform:     models.Spotify,
	}
}

// AppleTrack builds an Apple Music candidate with a numeric catalog id.
func AppleTrack(n int, name, artist string) models.CandidateTrack {
	return models.CandidateTrack{
		CanonicalKey: shared.NormalizeTrackKey(name, artist),
		NativeID:     fmt.Sprint(n),
		Name:         name,
		Artist:       artist,
		Platform:     models.AppleMusic,
	}
}

// FakePlatform is an in-memory [services.Service].
//
// Search results are registered per query; a query with no registered results matches catalog
// tracks whose "name artist" equals the query. Failures can be injected per operation, and
// GetPlaylistTracks can be made to block until released.
type FakePlatform struct {
	kind models.PlatformKind

	mu        sync.Mutex
	results   map[string][]models.CandidateTrack
	catalog   map[string]models.CandidateTrack
	playlists map[string][]models.CandidateTrack
	searchErr map[string]error
	searches  []string
	created   []string

	createErr   error
	addErr      error
	addLimit    int
	removeErr   error
	removeLimit int
	readErr     error

	block   chan struct{}
	entered chan struct{}
}

// NewFakePlatform creates an empty platform of the given kind.
func NewFakePlatform(kind models.PlatformKind) *FakePlatform {
	return &FakePlatform{
		kind:      kind,
		results:   make(map[string][]models.CandidateTrack),
		catalog:   make(map[string]models.CandidateTrack),
		playlists: make(map[string][]models.CandidateTrack),
		searchErr: make(map[string]error),
	}
}

func (f *FakePlatform) Kind() models.PlatformKind { return f.kind }
func (f *FakePlatform) Name() string              { return "fake " + f.kind.DisplayName() }

// SetResults registers the tracks returned for query.
func (f *FakePlatform) SetResults(query string, tracks ...models.CandidateTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[query] = tracks
	for _, t := range tracks {
		f.catalog[t.NativeID] = t
	}
}

// AddToCatalog makes tracks searchable by "name artist".
func (f *FakePlatform) AddToCatalog(tracks ...models.CandidateTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		f.catalog[t.NativeID] = t
	}
}

// FailQuery makes searching for query return err.
func (f *FakePlatform) FailQuery(query string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchErr[query] = err
}

// FailCreate makes CreatePlaylist return err.
func (f *FakePlatform) FailCreate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// FailAddsAfter lets n refs through per AddTracks call and then returns err.
func (f *FakePlatform) FailAddsAfter(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLimit, f.addErr = n, err
}

// FailRemovesAfter lets n refs through per RemoveTracks call and then returns err.
func (f *FakePlatform) FailRemovesAfter(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLimit, f.removeErr = n, err
}

// FailReads makes GetPlaylistTracks return err.
func (f *FakePlatform) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// BlockReads makes GetPlaylistTracks wait until the returned release func is called or the
// caller's context ends. The returned channel receives once per blocked call.
func (f *FakePlatform) BlockReads() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	f.entered = make(chan struct{}, 16)
	var once sync.Once
	block := f.block
	return f.entered, func() { once.Do(func() { close(block) }) }
}

// SeedPlaylist creates a playlist holding tracks and returns its id.
func (f *FakePlatform) SeedPlaylist(id string, tracks ...models.CandidateTrack) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[id] = slices.Clone(tracks)
	for _, t := range tracks {
		f.catalog[t.NativeID] = t
	}
	return id
}

// Tracks returns a copy of a playlist's contents.
func (f *FakePlatform) Tracks(id string) []models.CandidateTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.playlists[id])
}

// Searches returns the queries searched so far.
func (f *FakePlatform) Searches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.searches)
}

// Created returns the ids of playlists created through CreatePlaylist.
func (f *FakePlatform) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

func (f *FakePlatform) SearchTracks(ctx context.Context, query string, limit int) ([]models.CandidateTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}

	results, ok := f.results[query]
	if !ok {
		for _, t := range f.catalog {
			if strings.EqualFold(t.Name+" "+t.Artist, query) {
				results = append(results, t)
			}
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return slices.Clone(results), nil
}

func (f *FakePlatform) CreatePlaylist(ctx context.Context, owner models.Account, name, description string, visibility models.Visibility) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("%s-playlist-%d", f.kind, len(f.created)+1)
	f.playlists[id] = nil
	f.created = append(f.created, id)
	return id, nil
}

func (f *FakePlatform) AddTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[playlistID]; !ok {
		return 0, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
	}
	for i, ref := range refs {
		if f.addErr != nil && i >= f.addLimit {
			return i, f.addErr
		}
		id, err := models.DecodeTrackRef(f.kind, ref)
		if err != nil {
			return i, err
		}
		t, ok := f.catalog[id]
		if !ok {
			t = models.CandidateTrack{NativeID: id, Platform: f.kind}
		}
		f.playlists[playlistID] = append(f.playlists[playlistID], t)
	}
	return len(refs), nil
}

func (f *FakePlatform) RemoveTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[playlistID]; !ok {
		return 0, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
	}
	for i, ref := range refs {
		if f.removeErr != nil && i >= f.removeLimit {
			return i, f.removeErr
		}
		id, err := models.DecodeTrackRef(f.kind, ref)
		if err != nil {
			return i, err
		}
		f.playlists[playlistID] = slices.DeleteFunc(f.playlists[playlistID], func(t models.CandidateTrack) bool {
			return t.NativeID == id
		})
	}
	return len(refs), nil
}

func (f *FakePlatform) GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.CandidateTrack, error) {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if block != nil {
		entered <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	tracks, ok := f.playlists[playlistID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
	}
	return slices.Clone(tracks), nil
}

func (f *FakePlatform) GetLibraryPlaylists(ctx context.Context, owner models.Account) ([]models.PlaylistSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PlaylistSummary, 0, len(f.playlists))
	for id, tracks := range f.playlists {
		out = append(out, models.PlaylistSummary{ExternalID: id, Name: id, TrackCount: len(tracks)})
	}
	slices.SortFunc(out, func(a, b models.PlaylistSummary) int { return strings.Compare(a.ExternalID, b.ExternalID) })
	return out, nil
}

// FakeConnector hands out registered fake platforms.
type FakeConnector struct {
	platforms map[models.PlatformKind]*FakePlatform
}

// NewFakeConnector registers each platform under its kind.
func NewFakeConnector(platforms ...*FakePlatform) *FakeConnector {
	c := &FakeConnector{platforms: make(map[models.PlatformKind]*FakePlatform)}
	for _, p := range platforms {
		c.platforms[p.Kind()] = p
	}
	return c
}

func (c *FakeConnector) Connect(owner string, account models.Account) (services.Service, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner", shared.ErrMissingArgument)
	}
	p, ok := c.platforms[account.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownPlatform, account.Kind)
	}
	return p, nil
}
