package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

type stubCatalog struct {
	kind    models.PlatformKind
	results map[string][]models.CandidateTrack
	calls   int
	err     error
}

func (s *stubCatalog) Kind() models.PlatformKind { return s.kind }

func (s *stubCatalog) SearchTracks(_ context.Context, query string, limit int) ([]models.CandidateTrack, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := s.results[query]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

type mapCache map[string]string

func (m mapCache) LookupMatch(_ context.Context, key string, platform models.PlatformKind) (string, bool, error) {
	id, ok := m[key+"@"+string(platform)]
	return id, ok, nil
}

func (m mapCache) StoreMatch(_ context.Context, key string, platform models.PlatformKind, id string) error {
	m[key+"@"+string(platform)] = id
	return nil
}

func TestCanonicalKey(t *testing.T) {
	tc := []struct {
		name   string
		isrc   string
		title  string
		artist string
		want   string
	}{
		{"prefers isrc", " usum71703861 ", "Ignored", "Ignored", "isrc:USUM71703861"},
		{"falls back to name and artist", "", "  Toxic ", "Britney  Spears", "toxic|britney spears"},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(tt.isrc, tt.title, tt.artist); got != tt.want {
				t.Errorf("CanonicalKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	pool := []models.CandidateTrack{
		{Name: "Toxic", Artist: "Britney Spears", NativeID: "1"},
		{Name: "toxic", Artist: "britney spears", NativeID: "2"},
		{Name: "Hey Ya!", Artist: "OutKast", ISRC: "USAR10300941", NativeID: "3"},
		{Name: "Hey Ya! (Radio)", Artist: "OutKast", ISRC: "usar10300941", NativeID: "4"},
		{Name: "Crazy in Love", Artist: "Beyonce", NativeID: "5"},
	}

	once := Dedupe(pool)
	if len(once) != 3 {
		t.Fatalf("expected 3 unique tracks, got %d", len(once))
	}
	if once[0].NativeID != "1" || once[1].NativeID != "3" || once[2].NativeID != "5" {
		t.Errorf("first-seen order not preserved: %+v", once)
	}

	twice := Dedupe(once)
	if len(twice) != len(once) {
		t.Fatalf("dedupe is not idempotent: %d vs %d", len(twice), len(once))
	}
	for i := range once {
		if once[i].CanonicalKey != twice[i].CanonicalKey {
			t.Errorf("position %d changed: %s vs %s", i, once[i].CanonicalKey, twice[i].CanonicalKey)
		}
	}

	if keys := Keys(pool); len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d", len(keys))
	}
}

func TestResolver(t *testing.T) {
	source := models.CandidateTrack{Name: "Toxic", Artist: "Britney Spears", NativeID: "4fbvXwMTXPWaFyaMWUm9CR", Platform: models.Spotify}
	top := models.CandidateTrack{Name: "Toxic", Artist: "Britney Spears", NativeID: "251803449", Platform: models.AppleMusic, ISRC: "USJI10301288"}
	second := models.CandidateTrack{Name: "Toxic (Remix)", Artist: "Someone", NativeID: "999", Platform: models.AppleMusic}

	t.Run("same platform is returned unchanged", func(t *testing.T) {
		cat := &stubCatalog{kind: models.Spotify}
		got, err := NewResolver(nil, nil).Resolve(context.Background(), cat, source)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got.NativeID != source.NativeID || cat.calls != 0 {
			t.Errorf("expected no search and the same track, got %+v after %d calls", got, cat.calls)
		}
	})

	t.Run("accepts the top search result", func(t *testing.T) {
		cat := &stubCatalog{kind: models.AppleMusic, results: map[string][]models.CandidateTrack{
			"Toxic Britney Spears": {top, second},
		}}
		cache := mapCache{}
		r := NewResolver(cache, nil)

		got, err := r.Resolve(context.Background(), cat, source)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got.NativeID != "251803449" || got.Platform != models.AppleMusic {
			t.Errorf("expected top result, got %+v", got)
		}
		if got.CanonicalKey != "toxic|britney spears" {
			t.Errorf("match should keep the source canonical key, got %s", got.CanonicalKey)
		}

		again, err := r.Resolve(context.Background(), cat, source)
		if err != nil {
			t.Fatalf("cached Resolve failed: %v", err)
		}
		if cat.calls != 1 {
			t.Errorf("second resolve should hit the cache, search called %d times", cat.calls)
		}
		if again.NativeID != got.NativeID {
			t.Errorf("cached match differs: %s vs %s", again.NativeID, got.NativeID)
		}
	})

	t.Run("no results", func(t *testing.T) {
		cat := &stubCatalog{kind: models.AppleMusic, results: map[string][]models.CandidateTrack{}}
		_, err := NewResolver(nil, nil).Resolve(context.Background(), cat, source)
		if !errors.Is(err, shared.ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
	})

	t.Run("ResolveAll reports misses", func(t *testing.T) {
		other := models.CandidateTrack{Name: "Obscure", Artist: "Nobody", Platform: models.Spotify, NativeID: "x"}
		cat := &stubCatalog{kind: models.AppleMusic, results: map[string][]models.CandidateTrack{
			"Toxic Britney Spears": {top},
		}}
		matched, missing, err := NewResolver(nil, nil).ResolveAll(context.Background(), cat, []models.CandidateTrack{source, other})
		if err != nil {
			t.Fatalf("ResolveAll failed: %v", err)
		}
		if len(matched) != 1 || len(missing) != 1 || missing[0].Name != "Obscure" {
			t.Errorf("unexpected result: matched=%v missing=%v", matched, missing)
		}
	})
}
