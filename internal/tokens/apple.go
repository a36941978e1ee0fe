package tokens

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// Apple allows up to six months; keep an hour of slack.
	developerTokenLifetime = 180*24*time.Hour - time.Hour
	developerTokenMinLeft  = 5 * time.Minute
)

// AppleDeveloperTokens signs and caches MusicKit developer tokens (ES256 JWTs).
type AppleDeveloperTokens struct {
	teamID string
	keyID  string
	key    *ecdsa.PrivateKey
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewAppleDeveloperTokens loads the PKCS#8 signing key from disk.
func NewAppleDeveloperTokens(cfg shared.AppleMusicConfig) (*AppleDeveloperTokens, error) {
	if cfg.TeamID == "" || cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: apple music team_id and key_id", shared.ErrMissingCredentials)
	}
	key, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	return NewAppleDeveloperTokensFromKey(cfg.TeamID, cfg.KeyID, key), nil
}

// NewAppleDeveloperTokensFromKey uses an already parsed signing key.
func NewAppleDeveloperTokensFromKey(teamID, keyID string, key *ecdsa.PrivateKey) *AppleDeveloperTokens {
	return &AppleDeveloperTokens{teamID: teamID, keyID: keyID, key: key, now: time.Now}
}

// Token returns the cached developer token, or signs a new one when the cache is empty,
// malformed, or within five minutes of expiry.
func (a *AppleDeveloperTokens) Token() (string, time.Time, error) {
	a.mu.RLock()
	token, exp := a.token, a.expiry
	a.mu.RUnlock()

	if token != "" && exp.Sub(a.now()) > developerTokenMinLeft && a.structurallyValid(token) {
		return token, exp, nil
	}
	return a.Sign()
}

// Sign always mints a new token and replaces the cache.
func (a *AppleDeveloperTokens) Sign() (string, time.Time, error) {
	now := a.now().UTC()
	exp := now.Add(developerTokenLifetime)

	unsigned, err := jwt.NewBuilder().
		Issuer(a.teamID).
		IssuedAt(now).
		Expiration(exp).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build developer token: %w", err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, a.keyID); err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(unsigned, jwt.WithKey(jwa.ES256, a.key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign developer token: %w", err)
	}

	a.mu.Lock()
	a.token = string(signed)
	a.expiry = exp
	a.mu.Unlock()

	return string(signed), exp, nil
}

// structurallyValid parses without verification and checks issuer and expiry.
func (a *AppleDeveloperTokens) structurallyValid(token string) bool {
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return false
	}
	if parsed.Issuer() != a.teamID {
		return false
	}
	return parsed.Expiration().Sub(a.now()) > developerTokenMinLeft
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: apple music private_key_path", shared.ErrMissingCredentials)
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil || len(block.Bytes) == 0 {
		return nil, errors.New("invalid PEM data for private key")
	}
	pkcs8, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
	}
	key, ok := pkcs8.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not ECDSA")
	}
	return key, nil
}

// AppleRefresher keeps the developer token on an Apple Music credential current.
//
// The Music-User-Token is issued to the user by MusicKit and cannot be renewed server side; when
// the platform keeps rejecting a credential with a fresh developer token the caller must reauthorize.
type AppleRefresher struct {
	signer *AppleDeveloperTokens
}

// NewAppleRefresher wraps a developer token signer.
func NewAppleRefresher(signer *AppleDeveloperTokens) *AppleRefresher {
	return &AppleRefresher{signer: signer}
}

func (r *AppleRefresher) NeedsRefresh(rec *models.TokenRecord, now time.Time) bool {
	return rec.DeveloperToken == "" || !rec.DeveloperExpiry.After(now.Add(developerTokenMinLeft))
}

// Refresh attaches a valid developer token. If the rejected token is the cached one, a new one is signed.
func (r *AppleRefresher) Refresh(_ context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	if rec.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing music user token", shared.ErrReauthRequired)
	}

	token, exp, err := r.signer.Token()
	if err == nil && token == rec.DeveloperToken {
		token, exp, err = r.signer.Sign()
	}
	if err != nil {
		return nil, err
	}

	next := *rec
	next.DeveloperToken = token
	next.DeveloperExpiry = exp
	return &next, nil
}
