package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

func newTestApple(t *testing.T, handler http.HandlerFunc) *AppleMusicService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	b := fastBackoff()
	return NewAppleMusicService(
		&stubCreds{current: &models.TokenRecord{AccessToken: "user-token", DeveloperToken: "dev-token", Platform: models.AppleMusic}},
		AppleMusicOpts{BaseURL: server.URL, Storefront: "gb", Backoff: &b},
	)
}

func TestAppleMusicService(t *testing.T) {
	t.Run("Sends developer and user tokens", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer dev-token" {
				t.Errorf("unexpected Authorization %q", r.Header.Get("Authorization"))
			}
			if r.Header.Get("Music-User-Token") != "user-token" {
				t.Errorf("unexpected Music-User-Token %q", r.Header.Get("Music-User-Token"))
			}
			w.Write([]byte(`{"results":{}}`))
		})
		if _, err := srv.SearchTracks(context.Background(), "x", 1); err != nil {
			t.Fatalf("SearchTracks failed: %v", err)
		}
	})

	t.Run("SearchTracks", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/catalog/gb/search" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("limit") != "25" || r.URL.Query().Get("types") != "songs" {
				t.Errorf("unexpected query %v", r.URL.Query())
			}
			w.Write([]byte(`{"results":{"songs":{"data":[
				{"id":"1440857781","type":"songs","attributes":{"name":"Space Song","artistName":"Beach House",
				 "albumName":"Depression Cherry","durationInMillis":320000,"isrc":"USQX91501127","contentRating":"explicit"}}
			]}}}`))
		})

		tracks, err := srv.SearchTracks(context.Background(), "space song", 100)
		if err != nil {
			t.Fatalf("SearchTracks failed: %v", err)
		}
		if len(tracks) != 1 {
			t.Fatalf("expected 1 track, got %d", len(tracks))
		}
		got := tracks[0]
		if got.Ref() != "apple:song:1440857781" || got.CanonicalKey != "isrc:USQX91501127" || !got.Explicit {
			t.Errorf("unexpected track %+v", got)
		}
	})

	t.Run("CreatePlaylist", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v1/me/library/playlists" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data":[{"id":"p.abc"}]}`))
		})

		id, err := srv.CreatePlaylist(context.Background(), models.Account{Kind: models.AppleMusic}, "Mix", "desc", models.Public)
		if err != nil || id != "p.abc" {
			t.Errorf("expected p.abc, got %q (%v)", id, err)
		}
	})

	t.Run("AddTracks", func(t *testing.T) {
		t.Run("Posts catalog song resources", func(t *testing.T) {
			srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Data []appleResourceRef `json:"data"`
				}
				json.NewDecoder(r.Body).Decode(&body)
				if len(body.Data) != 2 || body.Data[0].ID != "1" || body.Data[0].Type != "songs" {
					t.Errorf("unexpected body %+v", body)
				}
				w.WriteHeader(http.StatusNoContent)
			})

			n, err := srv.AddTracks(context.Background(), "p.abc", []string{"apple:song:1", "apple:song:2"})
			if err != nil || n != 2 {
				t.Errorf("expected 2 added, got %d (%v)", n, err)
			}
		})

		t.Run("Rejects malformed references", func(t *testing.T) {
			srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
				t.Error("no request expected")
			})
			_, err := srv.AddTracks(context.Background(), "p.abc", []string{"spotify:track:abc"})
			if !errors.Is(err, shared.ErrInvalidTrackReference) {
				t.Errorf("expected ErrInvalidTrackReference, got %v", err)
			}
		})
	})

	t.Run("RemoveTracks surfaces the platform rejection", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		})
		n, err := srv.RemoveTracks(context.Background(), "p.abc", []string{"apple:song:1"})
		if err == nil || n != 0 {
			t.Errorf("expected a failure with nothing removed, got %d (%v)", n, err)
		}
	})

	t.Run("GetPlaylistTracks follows next and maps catalog ids", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("offset") == "" {
				w.Write([]byte(`{"data":[
					{"id":"i.1","attributes":{"name":"A","artistName":"X","playParams":{"id":"i.1","catalogId":"111"}},
					 "relationships":{"catalog":{"data":[{"id":"111","attributes":{"isrc":"GBAAA0000001"}}]}}},
					{"id":"i.2","attributes":{"name":"Upload","artistName":"Me"}}
				],"next":"/v1/me/library/playlists/p.abc/tracks?offset=100"}`))
				return
			}
			w.Write([]byte(`{"data":[
				{"id":"i.3","attributes":{"name":"B","artistName":"Y"},"relationships":{"catalog":{"data":[{"id":"333"}]}}}
			]}`))
		})

		tracks, err := srv.GetPlaylistTracks(context.Background(), "p.abc")
		if err != nil {
			t.Fatalf("GetPlaylistTracks failed: %v", err)
		}
		if len(tracks) != 2 {
			t.Fatalf("expected 2 tracks, got %+v", tracks)
		}
		if tracks[0].NativeID != "111" || tracks[0].CanonicalKey != "isrc:GBAAA0000001" {
			t.Errorf("unexpected first track %+v", tracks[0])
		}
		if tracks[1].NativeID != "333" || tracks[1].CanonicalKey != "b|y" {
			t.Errorf("unexpected second track %+v", tracks[1])
		}
	})

	t.Run("GetLibraryPlaylists", func(t *testing.T) {
		srv := newTestApple(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[{"id":"p.1","attributes":{"name":"Mix","description":{"standard":"hi"}}}]}`))
		})
		lists, err := srv.GetLibraryPlaylists(context.Background(), models.Account{Kind: models.AppleMusic})
		if err != nil || len(lists) != 1 || lists[0].Description != "hi" {
			t.Errorf("unexpected result %+v (%v)", lists, err)
		}
	})
}

type connectorCreds struct{}

func (connectorCreds) For(string, models.PlatformKind) Credentials { return &stubCreds{} }

func TestPlatformConnector(t *testing.T) {
	c := NewPlatformConnector(connectorCreds{}, SpotifyOpts{}, AppleMusicOpts{})

	tc := []struct {
		kind models.PlatformKind
		want string
	}{
		{models.Spotify, "Spotify"},
		{models.AppleMusic, "Apple Music"},
	}
	for _, tt := range tc {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc, err := c.Connect("owner", models.Account{Kind: tt.kind})
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			if svc.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, svc.Name())
			}
		})
	}

	t.Run("unknown platform", func(t *testing.T) {
		if _, err := c.Connect("owner", models.Account{Kind: "tidal"}); !errors.Is(err, shared.ErrUnknownPlatform) {
			t.Errorf("expected ErrUnknownPlatform, got %v", err)
		}
	})

	t.Run("missing owner", func(t *testing.T) {
		if _, err := c.Connect("", models.Account{Kind: models.Spotify}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}
