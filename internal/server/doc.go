// Package server exposes the engine over HTTP.
//
// # Routes
//
//	POST /api/playlists/{id}/refresh  manual refresh, body {songCount, mode, newArtistsOnly}
//	GET  /health                      liveness plus dependency checks
//
// A manual refresh goes through a [Submitter] so resubmissions carrying the same
// Idempotency-Key header share one run. Outcomes map onto statuses with [StatusFor]: a refresh
// already in progress is 409, a partly applied diff is 207 with the counts in the body, a
// missing playlist is 404, bad input or an empty candidate pool is 422, and platform or reasoning
// failures are 502.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [Middleware] wraps
// handlers in reverse order (last added executes first). The [BasicRouter] implementation uses
// [http.ServeMux] patterns, so handlers read path wildcards with PathValue.
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the Spotify authorization code flow for one owner: it validates the
// state parameter, exchanges the code, stores the credential and sends the result through a
// channel. It only processes one callback.
package server
