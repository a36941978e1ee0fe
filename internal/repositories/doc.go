// Package repositories implements SQLite persistence for the playlist engine.
//
// Every repository satisfies one of the persistence contracts in [models]. Writes touch a single
// row, so each one is atomic without explicit transactions. Timestamps are stored in UTC so the
// text comparison SQLite performs in range queries matches chronological order.
//
// Key Implementations:
//   - [PlaylistRepository] : committed playlist specs and their auto-update bookkeeping
//   - [HistoryRepository] : per-scope seen, excluded and reaction sets
//   - [DraftRepository] : uncommitted generations, stored as JSON documents
//   - [TokenRepository] : platform credentials
//   - [MatchRepository] : cross-platform identity matches, duplicates ignored
package repositories
