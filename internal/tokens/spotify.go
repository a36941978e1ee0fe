package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"
)

// SpotifyScopes are requested when a user authorizes playlist management.
var SpotifyScopes = []string{
	"user-read-private",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-private",
	"playlist-modify-public",
}

// SpotifyRefresher exchanges refresh tokens through the Spotify accounts service.
type SpotifyRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
	skew       time.Duration
}

// NewSpotifyRefresher creates a refresher from the app credentials. tokenURL overrides the
// accounts endpoint when non-empty.
func NewSpotifyRefresher(creds shared.SpotifyConfig, tokenURL string, client *http.Client) (*SpotifyRefresher, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	endpoint := spotify.Endpoint
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}

	return &SpotifyRefresher{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Scopes:       SpotifyScopes,
			Endpoint:     endpoint,
		},
		httpClient: client,
		skew:       DefaultSkew,
	}, nil
}

func (s *SpotifyRefresher) NeedsRefresh(rec *models.TokenRecord, now time.Time) bool {
	return rec.AccessToken == "" || rec.ExpiresWithin(now, s.skew)
}

// Refresh exchanges the refresh token for a new access token. Spotify may rotate the refresh
// token; when it does not, the old one is kept.
func (s *SpotifyRefresher) Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %w", shared.ErrReauthRequired, shared.ErrNoRefreshToken)
	}

	tok, err := s.config.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: refresh token revoked", shared.ErrReauthRequired)
		}
		return nil, err
	}

	next := *rec
	next.AccessToken = tok.AccessToken
	next.TokenType = tok.TokenType
	next.Expiry = tok.Expiry.UTC()
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	return &next, nil
}

// AuthCodeURL returns the URL the user visits to grant access.
func (s *SpotifyRefresher) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a credential owned by owner.
func (s *SpotifyRefresher) Exchange(ctx context.Context, owner, code string) (*models.TokenRecord, error) {
	tok, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return &models.TokenRecord{
		Owner:        owner,
		Platform:     models.Spotify,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry.UTC(),
	}, nil
}

func (s *SpotifyRefresher) clientContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}
