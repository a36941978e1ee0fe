// Spotify API implementation of [Service]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/identity"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

const (
	spotifyBaseURL    = "https://api.spotify.com/v1"
	spotifyBatchSize  = 100
	spotifySearchMax  = 50
	spotifyPageLength = 100
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	ExternalIDs  externalIDs     `json:"external_ids"`
	ExternalURLs externalURLs    `json:"external_urls"`
	IsLocal      bool            `json:"is_local"`
	URI          string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

type spotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type simplePlaylistTracks struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Owner       owner                `json:"owner"`
	Public      bool                 `json:"public"`
	Tracks      simplePlaylistTracks `json:"tracks"`
	URI         string               `json:"uri"`
}

type spotifySearchResponse struct {
	Tracks spotifyPage[SpotifyTrack] `json:"tracks"`
}

type spotifyURIRef struct {
	URI string `json:"uri"`
}

// SpotifyOpts configures a [SpotifyService].
type SpotifyOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
	Backoff    *shared.Backoff
}

// SpotifyService implements the Service interface for Spotify API interactions.
type SpotifyService struct {
	api *APIService
}

// NewSpotifyService creates a Spotify adapter authenticated by creds.
func NewSpotifyService(creds Credentials, opts SpotifyOpts) *SpotifyService {
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	api := NewAPIService("spotify", opts.BaseURL, opts.HTTPClient, creds, func(req *http.Request, rec *models.TokenRecord) {
		req.Header.Set("Authorization", "Bearer "+rec.AccessToken)
	}, opts.Logger)
	if opts.Backoff != nil {
		api.SetBackoff(*opts.Backoff)
	}
	return &SpotifyService{api: api}
}

func (s *SpotifyService) Kind() models.PlatformKind { return models.Spotify }

func (s *SpotifyService) Name() string { return "Spotify" }

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.api.Do(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchTracks runs a catalog track search.
func (s *SpotifyService) SearchTracks(ctx context.Context, query string, limit int) ([]models.CandidateTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, spotifySearchMax)

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var resp spotifySearchResponse
	if err := s.api.Do(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	tracks := make([]models.CandidateTrack, 0, len(resp.Tracks.Items))
	for _, item := range resp.Tracks.Items {
		if item.ID == "" || item.IsLocal {
			continue
		}
		tracks = append(tracks, spotifyCandidate(item))
	}
	return tracks, nil
}

// CreatePlaylist creates a playlist for owner. When the account id is unknown it is looked up via /me.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, acct models.Account, name, description string, visibility models.Visibility) (string, error) {
	userID := acct.ExternalAccountID
	if userID == "" {
		user, err := s.UserProfile(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve spotify user: %w", err)
		}
		userID = user.ID
	}

	body := map[string]any{
		"name":        name,
		"description": description,
		"public":      visibility == models.Public,
	}

	var created SpotifySimplePlaylist
	if err := s.api.Do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/playlists", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: spotify returned no playlist id", shared.ErrAPIRequest)
	}
	return created.ID, nil
}

// AddTracks appends URIs in batches of 100.
func (s *SpotifyService) AddTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	return applyInBatches(ctx, refs, spotifyBatchSize, func(ctx context.Context, batch []string) error {
		return s.api.Do(ctx, http.MethodPost, endpoint, map[string]any{"uris": batch}, nil)
	})
}

// RemoveTracks removes every occurrence of the URIs in batches of 100.
func (s *SpotifyService) RemoveTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	return applyInBatches(ctx, refs, spotifyBatchSize, func(ctx context.Context, batch []string) error {
		items := make([]spotifyURIRef, len(batch))
		for i, ref := range batch {
			items[i] = spotifyURIRef{URI: ref}
		}
		return s.api.Do(ctx, http.MethodDelete, endpoint, map[string]any{"tracks": items}, nil)
	})
}

// GetPlaylistTracks pages through the playlist. Local files and removed tracks are skipped.
func (s *SpotifyService) GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.CandidateTrack, error) {
	next := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=0", url.PathEscape(playlistID), spotifyPageLength)

	var tracks []models.CandidateTrack
	for next != "" {
		var page spotifyPage[SpotifyPlaylistTrack]
		if err := s.api.Do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == "" || item.Track.IsLocal {
				continue
			}
			tracks = append(tracks, spotifyCandidate(*item.Track))
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return tracks, nil
}

// GetLibraryPlaylists retrieves all playlists for the authenticated user.
func (s *SpotifyService) GetLibraryPlaylists(ctx context.Context, _ models.Account) ([]models.PlaylistSummary, error) {
	next := "/me/playlists?limit=50&offset=0"

	var all []models.PlaylistSummary
	for next != "" {
		var page spotifyPage[SpotifySimplePlaylist]
		if err := s.api.Do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, sp := range page.Items {
			all = append(all, models.PlaylistSummary{
				ExternalID:  sp.ID,
				Name:        sp.Name,
				Description: sp.Description,
				TrackCount:  sp.Tracks.Total,
				Public:      sp.Public,
			})
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return all, nil
}

func spotifyCandidate(t SpotifyTrack) models.CandidateTrack {
	var artist string
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return models.CandidateTrack{
		CanonicalKey: identity.CanonicalKey(t.ExternalIDs.ISRC, t.Name, artist),
		NativeID:     t.ID,
		Name:         t.Name,
		Artist:       artist,
		Album:        t.Album.Name,
		URL:          t.ExternalURLs.Spotify,
		Duration:     time.Duration(t.DurationMS) * time.Millisecond,
		ISRC:         t.ExternalIDs.ISRC,
		Explicit:     t.Explicit,
		Platform:     models.Spotify,
	}
}
