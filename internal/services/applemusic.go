// Apple Music API implementation of [Service]
//
// Response types based on https://developer.apple.com/documentation/applemusicapi
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
	appleMusicBaseURL   = "https://api.music.apple.com"
	appleSearchMax      = 25
	appleBatchSize      = 100
	appleDefaultCountry = "us"
)

// AppleSongAttributes is the subset of song attributes the adapter reads.
type AppleSongAttributes struct {
	Name             string `json:"name"`
	ArtistName       string `json:"artistName"`
	AlbumName        string `json:"albumName"`
	DurationInMillis int64  `json:"durationInMillis"`
	ISRC             string `json:"isrc"`
	URL              string `json:"url"`
	ContentRating    string `json:"contentRating"`
	PlayParams       *struct {
		ID        string `json:"id"`
		Kind      string `json:"kind"`
		CatalogID string `json:"catalogId"`
	} `json:"playParams"`
}

// AppleSong is a catalog or library song resource.
type AppleSong struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	Attributes    AppleSongAttributes `json:"attributes"`
	Relationships struct {
		Catalog struct {
			Data []AppleSong `json:"data"`
		} `json:"catalog"`
	} `json:"relationships"`
}

// ApplePlaylist is a library playlist resource.
type ApplePlaylist struct {
	ID         string `json:"id"`
	Attributes struct {
		Name        string `json:"name"`
		IsPublic    bool   `json:"isPublic"`
		CanEdit     bool   `json:"canEdit"`
		Description *struct {
			Standard string `json:"standard"`
		} `json:"description"`
	} `json:"attributes"`
}

type appleDocument[T any] struct {
	Data []T    `json:"data"`
	Next string `json:"next"`
}

type appleSearchResponse struct {
	Results struct {
		Songs appleDocument[AppleSong] `json:"songs"`
	} `json:"results"`
}

type appleResourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AppleMusicOpts configures an [AppleMusicService].
type AppleMusicOpts struct {
	BaseURL    string
	Storefront string
	HTTPClient *http.Client
	Logger     *log.Logger
	Backoff    *shared.Backoff
}

// AppleMusicService implements the Service interface for the Apple Music API.
//
// Requests carry the developer token as a bearer credential and the user's Music-User-Token.
// The public API has no endpoint for removing library playlist entries, so RemoveTracks usually
// fails and the caller records a partial apply.
type AppleMusicService struct {
	api        *APIService
	storefront string
	logger     *log.Logger
}

// NewAppleMusicService creates an Apple Music adapter authenticated by creds.
func NewAppleMusicService(creds Credentials, opts AppleMusicOpts) *AppleMusicService {
	if opts.BaseURL == "" {
		opts.BaseURL = appleMusicBaseURL
	}
	if opts.Storefront == "" {
		opts.Storefront = appleDefaultCountry
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	api := NewAPIService("apple_music", opts.BaseURL, opts.HTTPClient, creds, func(req *http.Request, rec *models.TokenRecord) {
		req.Header.Set("Authorization", "Bearer "+rec.DeveloperToken)
		req.Header.Set("Music-User-Token", rec.AccessToken)
	}, opts.Logger)
	if opts.Backoff != nil {
		api.SetBackoff(*opts.Backoff)
	}
	return &AppleMusicService{api: api, storefront: opts.Storefront, logger: opts.Logger}
}

func (s *AppleMusicService) Kind() models.PlatformKind { return models.AppleMusic }

func (s *AppleMusicService) Name() string { return "Apple Music" }

// SearchTracks searches the storefront catalog for songs.
func (s *AppleMusicService) SearchTracks(ctx context.Context, query string, limit int) ([]models.CandidateTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, appleSearchMax)

	params := url.Values{}
	params.Set("term", query)
	params.Set("types", "songs")
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("/v1/catalog/%s/search?%s", url.PathEscape(s.storefront), params.Encode())
	var resp appleSearchResponse
	if err := s.api.Do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	tracks := make([]models.CandidateTrack, 0, len(resp.Results.Songs.Data))
	for _, song := range resp.Results.Songs.Data {
		if song.ID == "" {
			continue
		}
		tracks = append(tracks, appleCandidate(song.ID, song.Attributes, song.Attributes.ISRC))
	}
	return tracks, nil
}

// CreatePlaylist creates a library playlist. Apple Music library playlists are always private,
// so visibility is ignored.
func (s *AppleMusicService) CreatePlaylist(ctx context.Context, _ models.Account, name, description string, visibility models.Visibility) (string, error) {
	if visibility == models.Public {
		s.logger.Debug("apple music library playlists cannot be public", "name", name)
	}
	body := map[string]any{
		"attributes": map[string]string{
			"name":        name,
			"description": description,
		},
	}

	var resp appleDocument[ApplePlaylist]
	if err := s.api.Do(ctx, http.MethodPost, "/v1/me/library/playlists", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return "", fmt.Errorf("%w: apple music returned no playlist id", shared.ErrAPIRequest)
	}
	return resp.Data[0].ID, nil
}

// AddTracks appends catalog songs to a library playlist.
func (s *AppleMusicService) AddTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	endpoint := "/v1/me/library/playlists/" + url.PathEscape(playlistID) + "/tracks"
	return applyInBatches(ctx, refs, appleBatchSize, func(ctx context.Context, batch []string) error {
		data, err := appleSongRefs(batch)
		if err != nil {
			return err
		}
		return s.api.Do(ctx, http.MethodPost, endpoint, map[string]any{"data": data}, nil)
	})
}

// RemoveTracks attempts a removal. Apple Music commonly rejects it.
func (s *AppleMusicService) RemoveTracks(ctx context.Context, playlistID string, refs []string) (int, error) {
	endpoint := "/v1/me/library/playlists/" + url.PathEscape(playlistID) + "/tracks"
	return applyInBatches(ctx, refs, appleBatchSize, func(ctx context.Context, batch []string) error {
		data, err := appleSongRefs(batch)
		if err != nil {
			return err
		}
		if err := s.api.Do(ctx, http.MethodDelete, endpoint, map[string]any{"data": data}, nil); err != nil {
			return fmt.Errorf("apple music track removal: %w", err)
		}
		return nil
	})
}

// GetPlaylistTracks lists a library playlist, mapping each entry back to its catalog song so
// canonical keys use the catalog ISRC.
func (s *AppleMusicService) GetPlaylistTracks(ctx context.Context, playlistID string) ([]models.CandidateTrack, error) {
	next := "/v1/me/library/playlists/" + url.PathEscape(playlistID) + "/tracks?include=catalog&limit=100"

	var tracks []models.CandidateTrack
	for next != "" {
		var page appleDocument[AppleSong]
		if err := s.api.Do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, song := range page.Data {
			catalogID, isrc := "", song.Attributes.ISRC
			if song.Attributes.PlayParams != nil {
				catalogID = song.Attributes.PlayParams.CatalogID
			}
			if cat := song.Relationships.Catalog.Data; len(cat) > 0 {
				if catalogID == "" {
					catalogID = cat[0].ID
				}
				if isrc == "" {
					isrc = cat[0].Attributes.ISRC
				}
			}
			if catalogID == "" {
				// uploaded or otherwise non-catalog entry
				continue
			}
			tracks = append(tracks, appleCandidate(catalogID, song.Attributes, isrc))
		}
		next = page.Next
	}
	return tracks, nil
}

// GetLibraryPlaylists lists the user's library playlists.
func (s *AppleMusicService) GetLibraryPlaylists(ctx context.Context, _ models.Account) ([]models.PlaylistSummary, error) {
	next := "/v1/me/library/playlists?limit=100"

	var all []models.PlaylistSummary
	for next != "" {
		var page appleDocument[ApplePlaylist]
		if err := s.api.Do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Data {
			summary := models.PlaylistSummary{
				ExternalID: p.ID,
				Name:       p.Attributes.Name,
				Public:     p.Attributes.IsPublic,
			}
			if p.Attributes.Description != nil {
				summary.Description = p.Attributes.Description.Standard
			}
			all = append(all, summary)
		}
		next = page.Next
	}
	return all, nil
}

func appleSongRefs(refs []string) ([]appleResourceRef, error) {
	data := make([]appleResourceRef, 0, len(refs))
	for _, ref := range refs {
		id, err := models.DecodeTrackRef(models.AppleMusic, ref)
		if err != nil {
			return nil, err
		}
		data = append(data, appleResourceRef{ID: id, Type: "songs"})
	}
	return data, nil
}

func appleCandidate(catalogID string, attr AppleSongAttributes, isrc string) models.CandidateTrack {
	return models.CandidateTrack{
		CanonicalKey: identity.CanonicalKey(isrc, attr.Name, attr.ArtistName),
		NativeID:     catalogID,
		Name:         attr.Name,
		Artist:       attr.ArtistName,
		Album:        attr.AlbumName,
		URL:          attr.URL,
		Duration:     time.Duration(attr.DurationInMillis) * time.Millisecond,
		ISRC:         isrc,
		Explicit:     attr.ContentRating == "explicit",
		Platform:     models.AppleMusic,
	}
}
