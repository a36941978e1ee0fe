package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
)

var discard = shared.NewLogger(io.Discard)

type fakeRefresher struct {
	mu    sync.Mutex
	reqs  []tasks.RefreshRequest
	reply func(req tasks.RefreshRequest) (*tasks.RefreshResult, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, req tasks.RefreshRequest, _ chan<- tasks.ProgressUpdate) (*tasks.RefreshResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return &tasks.RefreshResult{PlaylistID: req.PlaylistID, Trigger: req.Trigger, Mode: models.Append, Added: 2}, nil
}

func (f *fakeRefresher) calls() []tasks.RefreshRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.RefreshRequest(nil), f.reqs...)
}

func newTestServer(t *testing.T, handlers ...Handler) *httptest.Server {
	t.Helper()
	s := New("127.0.0.1:0", discard, handlers...)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postRefresh(t *testing.T, url, body, key string) (*http.Response, RefreshResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, out
}

func TestRefreshHandler(t *testing.T) {
	t.Run("Submits a manual refresh with the body overrides", func(t *testing.T) {
		r := &fakeRefresher{}
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

		resp, out := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", `{"songCount":5,"mode":"replace","newArtistsOnly":true}`, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if out.PlaylistID != "pl-1" || out.Added != 2 || out.Joined {
			t.Errorf("unexpected response %+v", out)
		}

		reqs := r.calls()
		if len(reqs) != 1 {
			t.Fatalf("expected 1 refresh, got %d", len(reqs))
		}
		got := reqs[0]
		if got.PlaylistID != "pl-1" || got.Trigger != models.ManualTrigger || got.SongCount != 5 || got.Mode != models.Replace {
			t.Errorf("unexpected request %+v", got)
		}
		if got.NewArtistsOnly == nil || !*got.NewArtistsOnly {
			t.Errorf("expected newArtistsOnly override, got %v", got.NewArtistsOnly)
		}
	})

	t.Run("Empty body uses the stored settings", func(t *testing.T) {
		r := &fakeRefresher{}
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

		resp, _ := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if reqs := r.calls(); reqs[0].Mode != "" || reqs[0].SongCount != 0 || reqs[0].NewArtistsOnly != nil {
			t.Errorf("expected no overrides, got %+v", reqs[0])
		}
	})

	t.Run("Repeated idempotency key reuses the outcome", func(t *testing.T) {
		r := &fakeRefresher{}
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

		_, first := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", `{}`, "click-1")
		_, second := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", `{}`, "click-1")
		if first.Joined || !second.Joined {
			t.Errorf("expected only the second submission to join, got %v and %v", first.Joined, second.Joined)
		}
		if n := len(r.calls()); n != 1 {
			t.Errorf("expected 1 refresh, got %d", n)
		}
	})

	t.Run("Rejects malformed input", func(t *testing.T) {
		r := &fakeRefresher{}
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

		tests := []struct {
			name string
			body string
			want int
		}{
			{"Bad JSON", `{"songCount":`, http.StatusBadRequest},
			{"Wrong type", `{"songCount":"five"}`, http.StatusBadRequest},
			{"Unknown mode", `{"mode":"shuffle"}`, http.StatusUnprocessableEntity},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, err := http.Post(ts.URL+"/api/playlists/pl-1/refresh", "application/json", strings.NewReader(tt.body))
				if err != nil {
					t.Fatalf("request failed: %v", err)
				}
				resp.Body.Close()
				if resp.StatusCode != tt.want {
					t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
				}
			})
		}
		if n := len(r.calls()); n != 0 {
			t.Errorf("expected no refresh, got %d", n)
		}
	})

	t.Run("Maps engine errors to statuses", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: pl-1", shared.ErrConcurrentRefreshSkipped), http.StatusConflict},
			{fmt.Errorf("%w: pl-1", shared.ErrPlaylistNotFound), http.StatusNotFound},
			{shared.ErrNoCandidateTracks, http.StatusUnprocessableEntity},
			{fmt.Errorf("%w: song count", shared.ErrInvalidArgument), http.StatusUnprocessableEntity},
			{shared.ErrAICapabilityFailure, http.StatusBadGateway},
			{fmt.Errorf("search: %w", shared.ErrPlatformRateLimited), http.StatusBadGateway},
			{shared.ErrReauthRequired, http.StatusUnauthorized},
			{shared.ErrTimeout, http.StatusGatewayTimeout},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.err.Error(), func(t *testing.T) {
				r := &fakeRefresher{reply: func(tasks.RefreshRequest) (*tasks.RefreshResult, error) { return nil, tt.err }}
				ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

				resp, out := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", `{}`, "")
				if resp.StatusCode != tt.want {
					t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
				}
				if out.Error == "" {
					t.Error("expected an error message")
				}
			})
		}
	})

	t.Run("Partial apply reports counts", func(t *testing.T) {
		r := &fakeRefresher{reply: func(req tasks.RefreshRequest) (*tasks.RefreshResult, error) {
			res := &tasks.RefreshResult{PlaylistID: req.PlaylistID, Mode: models.Replace, Added: 1, Removed: 3}
			return res, &tasks.ApplyError{Step: "add", Added: 1, Removed: 3, Failed: 1, Err: errors.New("502 from platform")}
		}}
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(r, 0, 0), discard))

		resp, out := postRefresh(t, ts.URL+"/api/playlists/pl-1/refresh", `{}`, "")
		if resp.StatusCode != http.StatusMultiStatus {
			t.Errorf("expected 207, got %d", resp.StatusCode)
		}
		if out.Added != 1 || out.Removed != 3 || out.Mode != "replace" {
			t.Errorf("unexpected response %+v", out)
		}
	})

	t.Run("Other methods are not allowed", func(t *testing.T) {
		ts := newTestServer(t, NewRefreshHandler(tasks.NewCommandGate(&fakeRefresher{}, 0, 0), discard))

		resp, err := http.Get(ts.URL + "/api/playlists/pl-1/refresh")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		ts := newTestServer(t, NewHealthHandler(map[string]Check{
			"database": func(context.Context) error { return nil },
		}))

		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
			t.Errorf("expected healthy, got %d %v", resp.StatusCode, body)
		}
	})

	t.Run("Failing check", func(t *testing.T) {
		ts := newTestServer(t, NewHealthHandler(map[string]Check{
			"locks": func(context.Context) error { return errors.New("redis down") },
		}))

		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "redis down") {
			t.Errorf("expected failing check in body, got %s", body)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Request id is generated and echoed", func(t *testing.T) {
		ts := newTestServer(t, NewHealthHandler(nil))

		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.Header.Get(RequestIDHeader) == "" {
			t.Error("expected a generated request id")
		}

		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if got := resp.Header.Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected req-42, got %q", got)
		}
	})

	t.Run("Logging records method, path and status", func(t *testing.T) {
		var buf bytes.Buffer
		logger := shared.NewLogger(&buf)

		r := NewBasicRouter()
		r.Use(Logging(logger))
		r.Handle(http.MethodGet, "/teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

		out := buf.String()
		for _, want := range []string{"method=GET", "path=/teapot", "status=418"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in log, got %q", want, out)
			}
		}
	})

	t.Run("Recover turns panics into 500", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(discard))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("Middleware runs in registration order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second, got %v", order)
		}
	})
}

type fakeExchanger struct {
	err error
}

func (f fakeExchanger) Exchange(_ context.Context, owner, code string) (*models.TokenRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.TokenRecord{Owner: owner, Platform: models.Spotify, AccessToken: "at-" + code, RefreshToken: "rt"}, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*models.TokenRecord
}

func (f *fakeSaver) Store(_ context.Context, rec *models.TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func TestOAuthHandler(t *testing.T) {
	t.Run("Exchanges the code and stores the credential", func(t *testing.T) {
		saver := &fakeSaver{}
		h := NewOAuthHandler(fakeExchanger{}, saver, "user-1", "state-1", "")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&code=abc", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		res := <-h.Result()
		if err := res.Error(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Record.AccessToken != "at-abc" || res.Record.Owner != "user-1" {
			t.Errorf("unexpected record %+v", res.Record)
		}
		if len(saver.saved) != 1 {
			t.Errorf("expected 1 stored credential, got %d", len(saver.saved))
		}
	})

	t.Run("Rejects a bad state", func(t *testing.T) {
		h := NewOAuthHandler(fakeExchanger{}, &fakeSaver{}, "user-1", "state-1", "")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=other&code=abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if res := <-h.Result(); res.Error() == nil {
			t.Error("expected an error result")
		}
	})

	t.Run("Reports a denied authorization", func(t *testing.T) {
		h := NewOAuthHandler(fakeExchanger{}, &fakeSaver{}, "user-1", "state-1", "")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&error=access_denied", nil))
		res := <-h.Result()
		if res.Error() == nil || !strings.Contains(res.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied, got %v", res.Error())
		}
	})

	t.Run("Exchange failure", func(t *testing.T) {
		saver := &fakeSaver{}
		h := NewOAuthHandler(fakeExchanger{err: errors.New("invalid_grant")}, saver, "user-1", "state-1", "")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state-1&code=abc", nil))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		if res := <-h.Result(); res.Error() == nil {
			t.Error("expected an error result")
		}
		if len(saver.saved) != 0 {
			t.Error("expected nothing stored")
		}
	})

	t.Run("Only the first callback is processed", func(t *testing.T) {
		h := NewOAuthHandler(fakeExchanger{}, &fakeSaver{}, "user-1", "state-1", "/auth/spotify/callback")
		if got := h.Routes(); len(got) != 1 || got[0] != "GET /auth/spotify/callback" {
			t.Errorf("unexpected routes %v", got)
		}

		first := httptest.NewRecorder()
		h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state-1&code=abc", nil))
		second := httptest.NewRecorder()
		h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state-1&code=abc", nil))
		if second.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for replay, got %d", second.Code)
		}
	})
}

func TestServer(t *testing.T) {
	t.Run("Serves until the context ends", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		s := New(ln.Addr().String(), discard, NewHealthHandler(nil))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx, ln, time.Second) }()

		var resp *http.Response
		for range 50 {
			if resp, err = http.Get("http://" + ln.Addr().String() + "/health"); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err != nil {
			t.Fatalf("server never answered: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
