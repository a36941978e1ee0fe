package models

import "time"

// TokenRecord holds the credentials for one (owner, platform) pair.
//
// For Spotify, AccessToken/RefreshToken/Expiry come from the OAuth exchange. For Apple Music,
// AccessToken is the Music-User-Token and DeveloperToken is the signed MusicKit JWT.
type TokenRecord struct {
	Owner           string
	Platform        PlatformKind
	AccountID       string
	AccessToken     string
	RefreshToken    string
	TokenType       string
	Expiry          time.Time
	DeveloperToken  string
	DeveloperExpiry time.Time
	UpdatedAt       time.Time
}

// Fingerprint identifies the credential material a caller used, so a refresh can tell whether
// somebody else already replaced it.
func (t *TokenRecord) Fingerprint() string {
	return t.AccessToken + "|" + t.DeveloperToken
}

// ExpiresWithin reports whether the access token expires within d of now.
// A zero expiry means the platform did not report one.
func (t *TokenRecord) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !t.Expiry.IsZero() && !t.Expiry.After(now.Add(d))
}

// Account returns the platform account this credential belongs to.
func (t *TokenRecord) Account() Account {
	return Account{Kind: t.Platform, ExternalAccountID: t.AccountID}
}
