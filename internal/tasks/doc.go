// Package tasks runs generation and refresh cycles between the reasoning service and the streaming
// platforms, with real-time progress reporting.
//
// # Core Operations
//
// [PlaylistEngine] owns every operation that changes a playlist:
//
//  1. Drafts: [PlaylistEngine.StartDraft], [PlaylistEngine.RefineDraft],
//     [PlaylistEngine.RemoveDraftTrack], [PlaylistEngine.CommitDraft], [PlaylistEngine.DiscardDraft]
//     - plan queries from the prompt and the refinement ledger
//     - aggregate a deduplicated candidate pool with [Aggregator]
//     - curate the pool down to the requested count
//     - keep the draft id stable across refinement turns
//
//  2. Refresh: [PlaylistEngine.Refresh]
//     - takes the per-playlist lock without waiting; a held lock is [shared.ErrConcurrentRefreshSkipped]
//     - excludes seen and excluded tracks (append) or only excluded tracks (replace)
//     - computes the diff against the live platform playlist and applies it
//     - records only what was applied: history, then the refresh timestamp
//
//  3. Export: [PlaylistEngine.Export] writes committed playlists to disk through a worker pool.
//
// Manual and scheduled refreshes share [PlaylistEngine.Refresh]; there is no separate manual path.
// [CommandGate] collapses duplicate manual submissions that carry the same idempotency key.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
