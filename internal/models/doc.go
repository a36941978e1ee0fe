// Package models defines the data model and persistence contracts for playlist generation and auto-refresh.
//
// The package contains three groups of types:
//
// 1. Platform identity
//   - [Account] : explicit tagged union of platform kind and external account id, resolved once and carried through all calls
//   - [CandidateTrack] : normalized track shape shared by both platforms, identified by its canonical key
//   - Track references ([EncodeTrackRef], [ValidTrackRef]) : the platform-specific opaque ids used when mutating playlists
//
// 2. Generation state
//   - [PlaylistSpec] : one per committed playlist, including its [AutoUpdateConfig] and refresh timestamps
//   - [DraftPlaylist] : resumable, uncommitted generation keyed by a stable draft id
//   - [RefinementLedger] : ordered, deduplicated free-text instructions folded into every future prompt
//   - [SongHistoryRecord] : seen / excluded / reacted-to tracks per (owner, scope)
//   - [TokenRecord] : per (owner, platform) credentials
//
// 3. Persistence contracts ([PlaylistStore], [HistoryStore], [DraftStore], [TokenStore], [MatchCache]).
// Implementations live in the repositories package; every write is atomic at the single-record level.
package models
