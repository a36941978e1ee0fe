package tasks

import (
	"fmt"

	"github.com/desertthunder/mixtape/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or HTTP layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	PlanQueries Phase = iota
	SearchTracks
	Curate
	FetchLive
	ApplyDiff
	CreatePlaylist
	Record
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case PlanQueries:
		return "plan_queries"
	case SearchTracks:
		return "search_tracks"
	case Curate:
		return "curate"
	case FetchLive:
		return "fetch_live"
	case ApplyDiff:
		return "apply_diff"
	case CreatePlaylist:
		return "create_playlist"
	case Record:
		return "record"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

func planQueriesUpdate(prompt string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PlanQueries,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Planning searches for %q...", prompt),
	}
}

func queriesPlannedUpdate(queries []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PlanQueries,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Planned %d searches", len(queries)),
		Data:    queries,
	}
}

func searchTracksUpdate(step, total int, query string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SearchTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Searching: %s", step, total, query),
	}
}

func curateUpdate(pool, target int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Curate,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Picking %d of %d candidates...", target, pool),
	}
}

func fetchLiveUpdate(name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchLive,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching current tracks of %s...", name),
	}
}

func applyDiffUpdate(d Diff) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyDiff,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Applying changes: +%d -%d (%d invalid)", len(d.Add), len(d.Remove), len(d.Invalid)),
		Data:    d,
	}
}

func createPlaylistUpdate(name string, kind models.PlatformKind) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CreatePlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Creating %s on %s...", name, kind.DisplayName()),
	}
}

func recordUpdate(added int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Record,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Recording %d new tracks in history", added),
	}
}

func exportingPlaylistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting: %s...", step, total, name),
	}
}

func exportCompletedUpdate(step, total int, name string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, name, filesCount),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}
