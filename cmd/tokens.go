package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/server"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultAuthTimeout = 2 * time.Minute

// TokensSet stores a credential obtained outside the CLI.
func (r *Runner) TokensSet(ctx context.Context, cmd *cli.Command) error {
	kind, err := models.ParsePlatformKind(cmd.String("platform"))
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	rec := &models.TokenRecord{
		Owner:        cmd.String("owner"),
		Platform:     kind,
		AccountID:    cmd.String("account-id"),
		AccessToken:  cmd.String("access-token"),
		RefreshToken: cmd.String("refresh-token"),
		TokenType:    "Bearer",
	}
	if d := cmd.Duration("expires-in"); d > 0 {
		rec.Expiry = time.Now().Add(d).UTC()
	}

	if err := r.tokens.Store(ctx, rec); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	r.logger.Info("credential stored", "owner", rec.Owner, "platform", kind)
	return r.writePlain("✓ %s credential stored for %s\n", kind.DisplayName(), rec.Owner)
}

// TokensAuthorize runs the Spotify authorization code flow against a local callback server.
func (r *Runner) TokensAuthorize(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	if r.spotifyAuth == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set", shared.ErrMissingCredentials)
	}

	owner := cmd.String("owner")
	addr, path, err := callbackAddr(r.config)
	if err != nil {
		return err
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(r.spotifyAuth, r.tokens, owner, state, path)
	srv := server.New(addr, r.logger, handler)

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", addr)
		serverErrors <- srv.Run(serveCtx, 5*time.Second)
	}()

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Open this URL in your browser to authorize Spotify:\n%s\n\n", r.spotifyAuth.AuthCodeURL(state))
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	stop()
	<-serverErrors

	if result.Error() != nil {
		return fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Record == nil {
		return fmt.Errorf("%w: no credential received", shared.ErrReauthRequired)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Spotify credential stored for %s\n", owner)
	return nil
}

// callbackAddr derives the listen address and callback path from the configured redirect URI,
// falling back to the server host and port.
func callbackAddr(cfg *shared.Config) (string, string, error) {
	fallback := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	raw := cfg.Credentials.Spotify.RedirectURI
	if raw == "" {
		return fallback, "/callback", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: redirect_uri %q: %v", shared.ErrInvalidConfig, raw, err)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = fallback
	}
	path := u.Path
	if path == "" {
		path = "/callback"
	}
	return addr, path, nil
}

// TokensList prints stored credentials without their secrets.
func (r *Runner) TokensList(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	owner := cmd.String("owner")
	records, err := r.tokenRepo.ListTokenRecords(ctx, owner)
	if err != nil {
		return err
	}

	type tokenView struct {
		Platform        models.PlatformKind `json:"platform"`
		AccountID       string              `json:"accountId,omitempty"`
		Expiry          *time.Time          `json:"expiry,omitempty"`
		HasRefreshToken bool                `json:"hasRefreshToken"`
		UpdatedAt       time.Time           `json:"updatedAt"`
	}

	views := make([]tokenView, 0, len(records))
	for _, rec := range records {
		v := tokenView{
			Platform:        rec.Platform,
			AccountID:       rec.AccountID,
			HasRefreshToken: rec.RefreshToken != "",
			UpdatedAt:       rec.UpdatedAt,
		}
		if !rec.Expiry.IsZero() {
			exp := rec.Expiry
			v.Expiry = &exp
		}
		views = append(views, v)
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, cmd.Bool("pretty"))
	}

	if len(views) == 0 {
		return r.writePlain("No credentials stored for %s\n", owner)
	}
	r.writePlainHeader("Credentials: " + owner)
	for _, v := range views {
		expiry := "no expiry"
		if v.Expiry != nil {
			expiry = "expires " + v.Expiry.Local().Format(time.DateTime)
		}
		refresh := ""
		if v.HasRefreshToken {
			refresh = ", refreshable"
		}
		r.writePlain("%-12s %s (%s%s)\n", v.Platform.DisplayName(), v.AccountID, expiry, refresh)
	}
	return nil
}
