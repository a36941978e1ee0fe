package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// stubCreds hands out a fixed record and swaps in next on refresh.
type stubCreds struct {
	current    *models.TokenRecord
	next       *models.TokenRecord
	refreshErr error
	refreshes  atomic.Int32
}

func (s *stubCreds) Current(context.Context) (*models.TokenRecord, error) {
	return s.current, nil
}

func (s *stubCreds) Refresh(_ context.Context, stale *models.TokenRecord) (*models.TokenRecord, error) {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	if s.next == nil {
		return stale, nil
	}
	s.current = s.next
	return s.next, nil
}

func fastBackoff() shared.Backoff {
	return shared.Backoff{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func bearer(req *http.Request, rec *models.TokenRecord) {
	req.Header.Set("Authorization", "Bearer "+rec.AccessToken)
}

func newTestAPI(url string, creds Credentials) *APIService {
	api := NewAPIService("test", url, nil, creds, bearer, nil)
	api.SetBackoff(fastBackoff())
	return api
}

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("Trims trailing slash and defaults client", func(t *testing.T) {
			api := NewAPIService("test", "http://example.com/", nil, &stubCreds{}, bearer, nil)
			if api.baseURL != "http://example.com" {
				t.Errorf("expected trimmed baseURL, got %s", api.baseURL)
			}
			if api.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Do", func(t *testing.T) {
		t.Run("Decodes JSON and sends credentials", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer abc" {
					t.Errorf("expected bearer token, got %q", got)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"ok"}`))
			}))
			defer server.Close()

			api := newTestAPI(server.URL, &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}})
			var out struct{ Status string }
			if err := api.Do(context.Background(), http.MethodGet, "/thing", nil, &out); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Status != "ok" {
				t.Errorf("expected status ok, got %q", out.Status)
			}
		})

		t.Run("Empty body leaves result untouched", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			api := newTestAPI(server.URL, &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}})
			out := map[string]string{"keep": "me"}
			if err := api.Do(context.Background(), http.MethodDelete, "/thing", map[string]int{"a": 1}, &out); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out["keep"] != "me" {
				t.Error("result should not be modified")
			}
		})
	})

	t.Run("Unauthorized", func(t *testing.T) {
		t.Run("Refreshes once and retries", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer fresh" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			creds := &stubCreds{
				current: &models.TokenRecord{AccessToken: "stale"},
				next:    &models.TokenRecord{AccessToken: "fresh"},
			}
			api := newTestAPI(server.URL, creds)
			if err := api.Do(context.Background(), http.MethodGet, "/me", nil, nil); err != nil {
				t.Fatalf("expected success after refresh, got %v", err)
			}
			if creds.refreshes.Load() != 1 {
				t.Errorf("expected exactly 1 refresh, got %d", creds.refreshes.Load())
			}
		})

		t.Run("Second rejection requires reauth", func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			creds := &stubCreds{
				current: &models.TokenRecord{AccessToken: "stale"},
				next:    &models.TokenRecord{AccessToken: "still-bad"},
			}
			err := newTestAPI(server.URL, creds).Do(context.Background(), http.MethodGet, "/me", nil, nil)
			if !errors.Is(err, shared.ErrReauthRequired) {
				t.Fatalf("expected ErrReauthRequired, got %v", err)
			}
			if calls.Load() != 2 || creds.refreshes.Load() != 1 {
				t.Errorf("expected 2 calls and 1 refresh, got %d and %d", calls.Load(), creds.refreshes.Load())
			}
		})

		t.Run("Refresh failure requires reauth", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			creds := &stubCreds{current: &models.TokenRecord{AccessToken: "stale"}, refreshErr: shared.ErrRefreshFailed}
			err := newTestAPI(server.URL, creds).Do(context.Background(), http.MethodGet, "/me", nil, nil)
			if !errors.Is(err, shared.ErrReauthRequired) {
				t.Errorf("expected ErrReauthRequired, got %v", err)
			}
		})
	})

	t.Run("Rate limiting", func(t *testing.T) {
		t.Run("Retries after 429", func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.Header().Set("Retry-After", "0")
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			api := newTestAPI(server.URL, &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}})
			if err := api.Do(context.Background(), http.MethodGet, "/search", nil, nil); err != nil {
				t.Fatalf("expected success after retry, got %v", err)
			}
			if calls.Load() != 2 {
				t.Errorf("expected 2 calls, got %d", calls.Load())
			}
		})

		t.Run("Gives up after max retries", func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			err := newTestAPI(server.URL, &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}}).
				Do(context.Background(), http.MethodGet, "/search", nil, nil)
			if !errors.Is(err, shared.ErrPlatformRateLimited) {
				t.Fatalf("expected ErrPlatformRateLimited, got %v", err)
			}
			if calls.Load() != 3 {
				t.Errorf("expected 1 call plus 2 retries, got %d", calls.Load())
			}
		})
	})

	t.Run("Errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/missing":
				w.WriteHeader(http.StatusNotFound)
			default:
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"bad"}`))
			}
		}))
		defer server.Close()

		api := newTestAPI(server.URL, &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}})
		for _, path := range []string{"/missing", "/bad"} {
			if err := api.Do(context.Background(), http.MethodGet, path, nil, nil); !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("%s: expected ErrAPIRequest, got %v", path, err)
			}
		}
	})

	t.Run("Transport failure", func(t *testing.T) {
		api := newTestAPI("http://127.0.0.1:1", &stubCreds{current: &models.TokenRecord{AccessToken: "abc"}})
		if err := api.Do(context.Background(), http.MethodGet, "/x", nil, nil); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})
}

func TestApplyInBatches(t *testing.T) {
	refs := make([]string, 250)
	for i := range refs {
		refs[i] = "r"
	}

	t.Run("Chunks", func(t *testing.T) {
		var sizes []int
		n, err := applyInBatches(context.Background(), refs, 100, func(_ context.Context, batch []string) error {
			sizes = append(sizes, len(batch))
			return nil
		})
		if err != nil || n != 250 {
			t.Fatalf("expected 250 applied, got %d (%v)", n, err)
		}
		if len(sizes) != 3 || sizes[2] != 50 {
			t.Errorf("unexpected batch sizes %v", sizes)
		}
	})

	t.Run("Stops at first failure", func(t *testing.T) {
		calls := 0
		n, err := applyInBatches(context.Background(), refs, 100, func(context.Context, []string) error {
			calls++
			if calls == 2 {
				return errors.New("boom")
			}
			return nil
		})
		if err == nil || n != 100 {
			t.Errorf("expected 100 applied and an error, got %d (%v)", n, err)
		}
	})
}
