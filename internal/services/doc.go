// Package services defines the [Service] interface for streaming platforms and implements it for Spotify and Apple Music.
//
// # Service Interface
//
// Both platforms implement one contract (search, create, add/remove tracks, read a playlist, list library playlists),
// so playlist generation and refresh work the same way regardless of where the playlist lives.
// Results are normalized to [models.CandidateTrack] with canonical keys already computed.
//
// # Transport
//
// [APIService] is the shared HTTP layer. It asks a [Credentials] source for the current token record,
// retries 429/503 responses and transport errors with bounded exponential backoff (honoring Retry-After),
// and on a 401 asks for exactly one refresh before reporting [shared.ErrReauthRequired].
//
// # Spotify Implementation
//
// [SpotifyService] uses the Web API with an OAuth2 bearer token. Writes are sent in batches of 100 URIs.
//
// # Apple Music Implementation
//
// [AppleMusicService] sends the MusicKit developer token as the bearer and the Music-User-Token header.
// Catalog searches use the configured storefront. Library playlists created through the API are always private,
// and track removal is rejected by the API for most playlists, which callers observe as a partial apply.
//
// # Connector
//
// [PlatformConnector] binds an adapter to an owner's credentials for an explicit [models.Account].
package services
