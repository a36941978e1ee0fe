package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/mixtape/internal/shared"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load %s: %v", name, err)
	}
	return loc
}

func TestTrackRefs(t *testing.T) {
	tc := []struct {
		name string
		kind PlatformKind
		ref  string
		want bool
	}{
		{"spotify 22 base62", Spotify, "spotify:track:4uLU6hMCjMI75M1A2tKUQC", true},
		{"spotify 21 chars", Spotify, "spotify:track:4uLU6hMCjMI75M1A2tKUQ", false},
		{"spotify 23 chars", Spotify, "spotify:track:4uLU6hMCjMI75M1A2tKUQCx", false},
		{"spotify bad charset", Spotify, "spotify:track:4uLU6hMCjMI75M1A2tKU-C", false},
		{"spotify wrong prefix", Spotify, "spotify:album:4uLU6hMCjMI75M1A2tKUQC", false},
		{"spotify empty", Spotify, "", false},
		{"apple numeric", AppleMusic, "apple:song:1440857781", true},
		{"apple library id", AppleMusic, "apple:song:i.abc123", false},
		{"apple on spotify", Spotify, "apple:song:1440857781", false},
		{"unknown platform", PlatformKind("tidal"), "tidal:1", false},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTrackRef(tt.kind, tt.ref); got != tt.want {
				t.Errorf("ValidTrackRef(%s, %q) = %v, want %v", tt.kind, tt.ref, got, tt.want)
			}
		})
	}

	t.Run("Decode", func(t *testing.T) {
		id, err := DecodeTrackRef(Spotify, "spotify:track:4uLU6hMCjMI75M1A2tKUQC")
		if err != nil || id != "4uLU6hMCjMI75M1A2tKUQC" {
			t.Errorf("unexpected decode result %q, %v", id, err)
		}

		if _, err := DecodeTrackRef(Spotify, "spotify:track:short"); !errors.Is(err, shared.ErrInvalidTrackReference) {
			t.Errorf("expected ErrInvalidTrackReference, got %v", err)
		}
	})

	t.Run("PartitionRefs", func(t *testing.T) {
		tracks := []CandidateTrack{
			{CanonicalKey: "a", NativeID: "4uLU6hMCjMI75M1A2tKUQC", Platform: Spotify},
			{CanonicalKey: "b", NativeID: "bogus", Platform: Spotify},
			{CanonicalKey: "c", NativeID: "1440857781", Platform: AppleMusic},
			{CanonicalKey: "d", NativeID: "7ouMYWpwJ422jRcDASZB7P", Platform: Spotify},
		}
		refs, valid, invalid := PartitionRefs(Spotify, tracks)
		if len(refs) != 2 || len(valid) != 2 {
			t.Fatalf("expected 2 valid refs, got %d", len(refs))
		}
		if refs[1] != "spotify:track:7ouMYWpwJ422jRcDASZB7P" {
			t.Errorf("unexpected ref order: %v", refs)
		}
		if len(invalid) != 2 || invalid[0].CanonicalKey != "b" || invalid[1].CanonicalKey != "c" {
			t.Errorf("unexpected invalid tracks: %+v", invalid)
		}
	})
}

func TestParsers(t *testing.T) {
	if k, err := ParsePlatformKind("Apple"); err != nil || k != AppleMusic {
		t.Errorf("expected apple_music, got %q, %v", k, err)
	}
	if _, err := ParsePlatformKind("tidal"); !errors.Is(err, shared.ErrUnknownPlatform) {
		t.Errorf("expected ErrUnknownPlatform, got %v", err)
	}
	if m, err := ParseRefreshMode(""); err != nil || m != Append {
		t.Errorf("expected default append, got %q, %v", m, err)
	}
	if _, err := ParseFrequency("hourly"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if r, err := ParseReaction("dislike"); err != nil || r != Disliked {
		t.Errorf("expected disliked, got %q, %v", r, err)
	}
}

func TestRefinementLedger(t *testing.T) {
	var l RefinementLedger

	if !l.Add("more 90s R&B") {
		t.Error("first instruction should be added")
	}
	if l.Add("  More   90s r&b ") {
		t.Error("equivalent instruction should be deduplicated")
	}
	if l.Add("   ") {
		t.Error("blank instruction should be ignored")
	}
	if !l.Add("no ballads") {
		t.Error("new instruction should be added")
	}

	entries := l.Entries()
	if len(entries) != 2 || entries[0] != "more 90s R&B" || entries[1] != "no ballads" {
		t.Errorf("unexpected ledger contents: %v", entries)
	}

	entries[0] = "mutated"
	if l[0] != "more 90s R&B" {
		t.Error("Entries should return a copy")
	}
}

func TestAutoUpdateConfig(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name    string
			cfg     AutoUpdateConfig
			wantErr bool
		}{
			{"defaults", AutoUpdateConfig{}.Normalize(), false},
			{"daily chicago", AutoUpdateConfig{Frequency: Daily, Mode: Replace, TimeOfDay: "07:30", Timezone: "America/Chicago"}, false},
			{"bad hour", AutoUpdateConfig{Frequency: Daily, TimeOfDay: "24:00"}, true},
			{"bad format", AutoUpdateConfig{Frequency: Daily, TimeOfDay: "9:00"}, true},
			{"bad zone", AutoUpdateConfig{Frequency: Daily, TimeOfDay: "09:00", Timezone: "Mars/Olympus"}, true},
			{"bad mode", AutoUpdateConfig{Frequency: Weekly, Mode: "shuffle"}, true},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.cfg.Validate()
				if (err != nil) != tt.wantErr {
					t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("NextRun disabled", func(t *testing.T) {
		next, err := AutoUpdateConfig{Frequency: Never}.NextRun(time.Now())
		if err != nil || !next.IsZero() {
			t.Errorf("expected zero time for disabled config, got %v, %v", next, err)
		}
	})

	t.Run("NextRun daily uses the playlist zone", func(t *testing.T) {
		tokyo := mustLoad(t, "Asia/Tokyo")
		cfg := AutoUpdateConfig{Frequency: Daily, TimeOfDay: "09:00", Timezone: "Asia/Tokyo"}

		// 08:59 in Tokyo: today's 09:00 is still ahead.
		base := time.Date(2025, 3, 10, 8, 59, 0, 0, tokyo)
		next, err := cfg.NextRun(base)
		if err != nil {
			t.Fatalf("NextRun failed: %v", err)
		}
		if want := time.Date(2025, 3, 10, 9, 0, 0, 0, tokyo); !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next.In(tokyo))
		}

		// exactly 09:00 is not strictly after, so tomorrow.
		next, _ = cfg.NextRun(time.Date(2025, 3, 10, 9, 0, 0, 0, tokyo))
		if want := time.Date(2025, 3, 11, 9, 0, 0, 0, tokyo); !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next.In(tokyo))
		}

		if next.Location() != time.UTC {
			t.Errorf("expected UTC result, got %v", next.Location())
		}
	})

	t.Run("NextRun daily across DST", func(t *testing.T) {
		ny := mustLoad(t, "America/New_York")
		cfg := AutoUpdateConfig{Frequency: Daily, TimeOfDay: "09:00", Timezone: "America/New_York"}

		// DST starts 2025-03-09 at 02:00 local.
		prev := time.Date(2025, 3, 8, 9, 0, 0, 0, ny)
		next, err := cfg.NextRun(prev)
		if err != nil {
			t.Fatalf("NextRun failed: %v", err)
		}
		got := next.In(ny)
		if got.Hour() != 9 || got.Minute() != 0 || got.Day() != 9 {
			t.Errorf("expected 2025-03-09 09:00 local, got %v", got)
		}
		if next.Sub(prev) != 23*time.Hour {
			t.Errorf("expected a 23h gap across spring-forward, got %v", next.Sub(prev))
		}
	})

	t.Run("NextRun weekly", func(t *testing.T) {
		cfg := AutoUpdateConfig{Frequency: Weekly, TimeOfDay: "18:15", Timezone: "UTC"}
		base := time.Date(2025, 1, 29, 20, 0, 0, 0, time.UTC)
		next, _ := cfg.NextRun(base)
		if want := time.Date(2025, 2, 5, 18, 15, 0, 0, time.UTC); !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next)
		}
	})

	t.Run("NextRun monthly rolls the year", func(t *testing.T) {
		berlin := mustLoad(t, "Europe/Berlin")
		cfg := AutoUpdateConfig{Frequency: Monthly, TimeOfDay: "06:00", Timezone: "Europe/Berlin"}
		base := time.Date(2025, 12, 31, 23, 30, 0, 0, berlin)
		next, _ := cfg.NextRun(base)
		if want := time.Date(2026, 1, 1, 6, 0, 0, 0, berlin); !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next.In(berlin))
		}
	})

	t.Run("NextRun is always after base", func(t *testing.T) {
		base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
		for _, f := range []Frequency{Daily, Weekly, Monthly} {
			for _, tod := range []string{"00:00", "11:59", "12:00", "12:01", "23:59"} {
				cfg := AutoUpdateConfig{Frequency: f, TimeOfDay: tod, Timezone: "Pacific/Auckland"}
				next, err := cfg.NextRun(base)
				if err != nil {
					t.Fatalf("NextRun(%s %s) failed: %v", f, tod, err)
				}
				if !next.After(base) {
					t.Errorf("NextRun(%s %s) = %v, not after %v", f, tod, next, base)
				}
			}
		}
	})
}

func TestPlaylistSpec(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	spec := &PlaylistSpec{
		Owner:      "user-1",
		Account:    Account{Kind: Spotify},
		ExternalID: "pl",
		SongCount:  20,
		AutoUpdate: AutoUpdateConfig{Frequency: Daily, TimeOfDay: "09:00", Timezone: "UTC"}.Normalize(),
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("expected valid spec: %v", err)
	}

	if err := spec.Reschedule(now); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if !spec.NextRunAt.Equal(time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected next run %v", spec.NextRunAt)
	}

	spec.AutoUpdate.Frequency = Never
	_ = spec.Reschedule(now)
	if !spec.NextRunAt.IsZero() {
		t.Error("disabling auto-update should clear NextRunAt")
	}

	if spec.InCooldown(now, 24*time.Hour) {
		t.Error("no manual refresh means no cooldown")
	}
	spec.LastManualRefreshAt = now.Add(-time.Hour)
	if !spec.InCooldown(now, 24*time.Hour) {
		t.Error("a manual refresh one hour ago should be in cooldown")
	}
	if spec.InCooldown(now.Add(24*time.Hour), 24*time.Hour) {
		t.Error("cooldown should end after the window")
	}

	spec.SongCount = 0
	if err := spec.Validate(); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDraftPlaylist(t *testing.T) {
	d := &DraftPlaylist{
		ID: "draft-1",
		Tracks: []CandidateTrack{
			{CanonicalKey: "a|x", Name: "a", Artist: "x"},
			{CanonicalKey: "b|y", Name: "b", Artist: "y"},
		},
	}

	if !d.Exclude("a|x") {
		t.Error("expected track to be removed")
	}
	if d.Exclude("a|x") {
		t.Error("removing twice should report no change")
	}
	if len(d.ExcludedSongs) != 1 {
		t.Errorf("exclusion should be recorded once, got %v", d.ExcludedSongs)
	}
	if _, ok := d.ExcludedSet()["a|x"]; !ok {
		t.Error("excluded set should contain the removed key")
	}

	if err := d.ReadyToCommit(); err != nil {
		t.Errorf("draft with tracks should be committable: %v", err)
	}
	d.Exclude("b|y")
	if err := d.ReadyToCommit(); !errors.Is(err, shared.ErrEmptyDraft) {
		t.Errorf("expected ErrEmptyDraft, got %v", err)
	}
}

func TestSongHistory(t *testing.T) {
	now := time.Now()
	playlist := NewSongHistory("u", "pl-1")
	global := NewSongHistory("u", GlobalScope)

	added := playlist.MarkSeen(now,
		CandidateTrack{CanonicalKey: "seen-1", Artist: "The Artist"},
		CandidateTrack{CanonicalKey: "seen-2", Artist: "the  artist"},
	)
	if added != 2 {
		t.Errorf("expected 2 new keys, got %d", added)
	}
	if playlist.MarkSeen(now.Add(time.Hour), CandidateTrack{CanonicalKey: "seen-1"}) != 0 {
		t.Error("re-marking should not add")
	}
	if !playlist.Seen["seen-1"].Equal(now) {
		t.Error("first-seen time must not be overwritten")
	}
	if len(playlist.Artists) != 1 {
		t.Errorf("artists should be normalized, got %v", playlist.Artists)
	}

	playlist.Exclude("banned-1", now)
	global.Exclude("banned-2", now)

	appendSet := ExclusionSet(Append, playlist, global)
	for _, k := range []string{"seen-1", "seen-2", "banned-1", "banned-2"} {
		if _, ok := appendSet[k]; !ok {
			t.Errorf("append exclusion set should contain %s", k)
		}
	}

	replaceSet := ExclusionSet(Replace, playlist, global)
	if _, ok := replaceSet["seen-1"]; ok {
		t.Error("replace mode must not exclude seen tracks")
	}
	if len(replaceSet) != 2 {
		t.Errorf("replace mode should only exclude permanent exclusions, got %v", replaceSet)
	}

	t.Run("reactions are soft and toggleable", func(t *testing.T) {
		playlist.React("seen-1", Liked, now)
		playlist.React("x", Disliked, now)
		if got := playlist.KeysWithReaction(Liked); len(got) != 1 || got[0] != "seen-1" {
			t.Errorf("unexpected liked keys %v", got)
		}
		if _, ok := ExclusionSet(Replace, playlist)["x"]; ok {
			t.Error("a dislike must not act as an exclusion")
		}
		if !playlist.ClearReaction("x", now) || playlist.ClearReaction("x", now) {
			t.Error("ClearReaction should succeed once")
		}
	})

	t.Run("unexclude is explicit", func(t *testing.T) {
		if !playlist.Unexclude("banned-1", now) {
			t.Error("expected exclusion to be lifted")
		}
		if playlist.Unexclude("banned-1", now) {
			t.Error("second unexclude should report no change")
		}
	})

	t.Run("nil records are ignored", func(t *testing.T) {
		if len(ExclusionSet(Append, nil)) != 0 || len(KnownArtists(nil)) != 0 {
			t.Error("expected empty sets")
		}
	})
}

func TestAccount(t *testing.T) {
	a := Account{Kind: AppleMusic, ExternalAccountID: "abc"}
	if a.String() != "apple_music/abc" {
		t.Errorf("unexpected String(): %s", a.String())
	}
	if err := (Account{Kind: "tidal"}).Validate(); err == nil || !strings.Contains(err.Error(), "tidal") {
		t.Errorf("expected unknown platform error, got %v", err)
	}
	if AppleMusic.DisplayName() != "Apple Music" {
		t.Errorf("unexpected display name %s", AppleMusic.DisplayName())
	}
}
