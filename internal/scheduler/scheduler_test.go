package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
	tu "github.com/desertthunder/mixtape/internal/testing"
)

var clock = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	mu     sync.Mutex
	reqs   []tasks.RefreshRequest
	err    error
	panics bool
	block  bool
	called chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, req tasks.RefreshRequest, _ chan<- tasks.ProgressUpdate) (*tasks.RefreshResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	called := f.called
	f.mu.Unlock()

	if called != nil {
		select {
		case called <- struct{}{}:
		default:
		}
	}
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tasks.RefreshResult{PlaylistID: req.PlaylistID, Trigger: req.Trigger}, nil
}

func (f *fakeRefresher) requests() []tasks.RefreshRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.RefreshRequest(nil), f.reqs...)
}

// failingNextRun rejects every next run update.
type failingNextRun struct {
	*tu.MemoryPlaylists
}

func (failingNextRun) UpdateNextRunAt(context.Context, string, time.Time) error {
	return errors.New("disk full")
}

func seed(t *testing.T, store models.PlaylistStore, name string, freq models.Frequency, nextRun, lastManual time.Time) *models.PlaylistSpec {
	t.Helper()
	spec := &models.PlaylistSpec{
		Owner:               "user-1",
		Account:             models.Account{Kind: models.Spotify},
		ExternalID:          "ext-" + name,
		Name:                name,
		Prompt:              "focus music",
		SongCount:           2,
		AutoUpdate:          models.AutoUpdateConfig{Frequency: freq, TimeOfDay: "09:00", Timezone: "UTC"},
		NextRunAt:           nextRun,
		LastManualRefreshAt: lastManual,
	}
	if err := store.SavePlaylistSpec(context.Background(), spec); err != nil {
		t.Fatalf("SavePlaylistSpec failed: %v", err)
	}
	return spec
}

func newScheduler(t *testing.T, store models.PlaylistStore, r tasks.Refresher) *Scheduler {
	t.Helper()
	s, err := New(Opts{
		Playlists: store,
		Refresher: r,
		Logger:    shared.NewLogger(io.Discard),
		Now:       func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func loadNextRun(t *testing.T, store models.PlaylistStore, id string) time.Time {
	t.Helper()
	spec, err := store.LoadPlaylistSpec(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadPlaylistSpec failed: %v", err)
	}
	return spec.NextRunAt
}

func TestNew(t *testing.T) {
	t.Run("Requires a store and a refresher", func(t *testing.T) {
		if _, err := New(Opts{Refresher: &fakeRefresher{}}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if _, err := New(Opts{Playlists: tu.NewMemoryPlaylists()}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		s, err := New(Opts{Playlists: tu.NewMemoryPlaylists(), Refresher: &fakeRefresher{}})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.interval != time.Minute {
			t.Errorf("expected 1m interval, got %s", s.interval)
		}
		if s.cooldown != 24*time.Hour {
			t.Errorf("expected 24h cooldown, got %s", s.cooldown)
		}
	})
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	nextRun := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Dispatches due playlists as auto refreshes", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		due := seed(t, store, "due", models.Daily, clock.Add(-time.Minute), time.Time{})
		seed(t, store, "later", models.Daily, clock.Add(time.Hour), time.Time{})
		seed(t, store, "off", models.Never, time.Time{}, time.Time{})

		r := &fakeRefresher{}
		s := newScheduler(t, store, r)
		res, err := s.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		s.Wait()

		if res.Due != 1 || res.Dispatched != 1 {
			t.Errorf("expected 1 due and dispatched, got %+v", res)
		}
		reqs := r.requests()
		if len(reqs) != 1 {
			t.Fatalf("expected 1 refresh, got %d", len(reqs))
		}
		if reqs[0].PlaylistID != due.ID || reqs[0].Trigger != models.AutoTrigger {
			t.Errorf("unexpected request %+v", reqs[0])
		}
		if got := loadNextRun(t, store, due.ID); !got.Equal(nextRun) {
			t.Errorf("expected next run %s, got %s", nextRun, got)
		}
	})

	t.Run("A second sweep in the same window does nothing", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		seed(t, store, "due", models.Daily, clock.Add(-time.Minute), time.Time{})

		r := &fakeRefresher{}
		s := newScheduler(t, store, r)
		for range 2 {
			if _, err := s.Sweep(ctx); err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}
		}
		s.Wait()

		if n := len(r.requests()); n != 1 {
			t.Errorf("expected 1 refresh, got %d", n)
		}
	})

	t.Run("Manual refresh within cooldown skips but reschedules", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		spec := seed(t, store, "recent", models.Daily, clock.Add(-time.Minute), clock.Add(-time.Hour))

		r := &fakeRefresher{}
		s := newScheduler(t, store, r)
		res, err := s.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		s.Wait()

		if res.Cooldown != 1 || res.Dispatched != 0 {
			t.Errorf("expected a cooldown skip, got %+v", res)
		}
		if n := len(r.requests()); n != 0 {
			t.Errorf("expected no refresh, got %d", n)
		}
		if got := loadNextRun(t, store, spec.ID); !got.Equal(nextRun) {
			t.Errorf("expected next run %s, got %s", nextRun, got)
		}
	})

	t.Run("Manual refresh outside cooldown is dispatched", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		seed(t, store, "stale", models.Daily, clock.Add(-time.Minute), clock.Add(-25*time.Hour))

		r := &fakeRefresher{}
		s := newScheduler(t, store, r)
		if _, err := s.Sweep(ctx); err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		s.Wait()

		if n := len(r.requests()); n != 1 {
			t.Errorf("expected 1 refresh, got %d", n)
		}
	})

	t.Run("Failed refreshes still advance the next run", func(t *testing.T) {
		for _, err := range []error{shared.ErrConcurrentRefreshSkipped, shared.ErrAICapabilityFailure} {
			store := tu.NewMemoryPlaylists()
			spec := seed(t, store, "due", models.Weekly, clock.Add(-time.Minute), time.Time{})

			s := newScheduler(t, store, &fakeRefresher{err: err})
			if _, err := s.Sweep(ctx); err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}
			s.Wait()

			want := nextRun.AddDate(0, 0, 7)
			if got := loadNextRun(t, store, spec.ID); !got.Equal(want) {
				t.Errorf("%v: expected next run %s, got %s", err, want, got)
			}
		}
	})

	t.Run("Playlists are not dispatched when the next run cannot be saved", func(t *testing.T) {
		mem := tu.NewMemoryPlaylists()
		store := failingNextRun{mem}
		seed(t, mem, "due", models.Daily, clock.Add(-time.Minute), time.Time{})

		r := &fakeRefresher{}
		s := newScheduler(t, store, r)
		res, err := s.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		s.Wait()

		if res.Failed != 1 || res.Dispatched != 0 {
			t.Errorf("expected 1 failure, got %+v", res)
		}
		if n := len(r.requests()); n != 0 {
			t.Errorf("expected no refresh, got %d", n)
		}
	})

	t.Run("A panicking refresh is contained", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		seed(t, store, "a", models.Daily, clock.Add(-2*time.Minute), time.Time{})
		seed(t, store, "b", models.Daily, clock.Add(-time.Minute), time.Time{})

		r := &fakeRefresher{panics: true}
		s := newScheduler(t, store, r)
		if _, err := s.Sweep(ctx); err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		s.Wait()

		if n := len(r.requests()); n != 2 {
			t.Errorf("expected 2 refreshes, got %d", n)
		}
	})
}

// recordingRefresher records the errors returned by next.
type recordingRefresher struct {
	next tasks.Refresher
	mu   sync.Mutex
	errs []error
}

func (r *recordingRefresher) Refresh(ctx context.Context, req tasks.RefreshRequest, p chan<- tasks.ProgressUpdate) (*tasks.RefreshResult, error) {
	res, err := r.next.Refresh(ctx, req, p)
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return res, err
}

func TestSweepKeepsPlaylistFlags(t *testing.T) {
	ctx := context.Background()
	spotify := tu.NewFakePlatform(models.Spotify)
	known := tu.SpotifyTrack(1, "New One", "Band N1")
	fresh := tu.SpotifyTrack(2, "New Two", "Band N2")
	spotify.SetResults("q1", known, fresh)

	store := tu.NewMemoryPlaylists()
	spec := seed(t, store, "flags", models.Daily, clock.Add(-time.Minute), time.Time{})
	spec.Flags.NewArtistsOnly = true
	if err := store.SavePlaylistSpec(ctx, spec); err != nil {
		t.Fatalf("SavePlaylistSpec failed: %v", err)
	}
	spotify.SeedPlaylist(spec.ExternalID)

	history := tu.NewMemoryHistory()
	global := models.NewSongHistory("user-1", models.GlobalScope)
	global.MarkSeen(clock.Add(-48*time.Hour), tu.SpotifyTrack(9, "Old Hit", "Band N1"))
	history.SaveSongHistory(ctx, global)

	engine := tasks.NewPlaylistEngine(tasks.EngineOpts{
		Platforms: tu.NewFakeConnector(spotify),
		Reasoning: &tu.StubGateway{Queries: []string{"q1"}},
		Playlists: store,
		History:   history,
		Drafts:    tu.NewMemoryDrafts(),
		Logger:    shared.NewLogger(io.Discard),
		Now:       func() time.Time { return clock },
	})

	rec := &recordingRefresher{next: engine}
	s := newScheduler(t, store, rec)
	if _, err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	s.Wait()

	if len(rec.errs) != 1 || rec.errs[0] != nil {
		t.Fatalf("expected one successful auto refresh, got %v", rec.errs)
	}
	tracks := spotify.Tracks(spec.ExternalID)
	if len(tracks) != 1 || tracks[0].CanonicalKey != fresh.CanonicalKey {
		t.Errorf("expected only the unheard artist to be added, got %+v", tracks)
	}
}

func TestSweepSharesRefreshLock(t *testing.T) {
	ctx := context.Background()
	spotify := tu.NewFakePlatform(models.Spotify)
	l1 := tu.SpotifyTrack(1, "Live One", "Artist L")
	s1 := tu.SpotifyTrack(2, "Song A", "Artist A")
	spotify.SetResults("q1", s1)

	store := tu.NewMemoryPlaylists()
	spec := seed(t, store, "shared", models.Daily, clock.Add(-time.Minute), time.Time{})
	spotify.SeedPlaylist(spec.ExternalID, l1)

	engine := tasks.NewPlaylistEngine(tasks.EngineOpts{
		Platforms: tu.NewFakeConnector(spotify),
		Reasoning: &tu.StubGateway{Queries: []string{"q1"}},
		Playlists: store,
		History:   tu.NewMemoryHistory(),
		Drafts:    tu.NewMemoryDrafts(),
		Logger:    shared.NewLogger(io.Discard),
		Now:       func() time.Time { return clock },
	})

	entered, release := spotify.BlockReads()
	defer release()
	manual := make(chan error, 1)
	go func() {
		_, err := engine.Refresh(ctx, tasks.RefreshRequest{PlaylistID: spec.ID, Trigger: models.ManualTrigger}, nil)
		manual <- err
	}()
	<-entered

	rec := &recordingRefresher{next: engine}
	s := newScheduler(t, store, rec)
	if _, err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	s.Wait()

	release()
	if err := <-manual; err != nil {
		t.Fatalf("manual refresh failed: %v", err)
	}

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], shared.ErrConcurrentRefreshSkipped) {
		t.Errorf("expected the auto refresh to be skipped, got %v", rec.errs)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if got := loadNextRun(t, store, spec.ID); !got.Equal(want) {
		t.Errorf("expected next run %s, got %s", want, got)
	}
}

func TestStartStop(t *testing.T) {
	t.Run("Sweeps on the interval", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		seed(t, store, "due", models.Daily, clock.Add(-time.Minute), time.Time{})

		r := &fakeRefresher{called: make(chan struct{}, 1)}
		s, err := New(Opts{
			Playlists: store,
			Refresher: r,
			Logger:    shared.NewLogger(io.Discard),
			Interval:  time.Second,
			Now:       func() time.Time { return clock },
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		select {
		case <-r.called:
		case <-time.After(5 * time.Second):
			t.Fatal("expected a refresh within 5s")
		}
		if err := s.Stop(context.Background()); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})

	t.Run("Stop cancels refreshes still running at the deadline", func(t *testing.T) {
		store := tu.NewMemoryPlaylists()
		seed(t, store, "due", models.Daily, clock.Add(-time.Minute), time.Time{})

		r := &fakeRefresher{block: true, called: make(chan struct{}, 1)}
		s := newScheduler(t, store, r)
		if _, err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		<-r.called

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}
	})
}
