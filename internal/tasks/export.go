package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/desertthunder/mixtape/internal/formatter"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"golang.org/x/time/rate"
)

// ExportOpts contains configuration for playlist exports.
type ExportOpts struct {
	Format     string  // Export format: json, csv, markdown, txt
	OutputDir  string  // Base output directory (default: mixtape_export_{epoch})
	NumWorkers int     // Concurrent workers (default: 5)
	RateLimit  float64 // Platform reads per second (default: 5)
}

// ExportResult is the manifest of an export plus where it was written.
type ExportResult struct {
	formatter.ExportManifest
	ManifestPath string
}

type exportJob struct {
	index   int
	listing formatter.Listing
}

type exportOutcome struct {
	index int
	entry formatter.ManifestEntry
}

// ParseExportFormat defaults the empty string to json.
func ParseExportFormat(s string) (string, error) {
	switch s {
	case "":
		return "json", nil
	case "json", "csv", "markdown", "txt":
		return s, nil
	case "md":
		return "markdown", nil
	case "text":
		return "txt", nil
	}
	return "", fmt.Errorf("%w: export format %q", shared.ErrInvalidArgument, s)
}

// Export writes committed playlists, with their live tracks, to disk.
//
// Live tracks are read one playlist at a time under a shared rate limit and files are written by
// a pool of workers. A playlist that cannot be read or written is recorded as failed in the
// manifest; the rest continue.
func (e *PlaylistEngine) Export(ctx context.Context, prog chan<- ProgressUpdate, ids []string, opts ExportOpts) (*ExportResult, error) {
	format, err := ParseExportFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	opts.Format = format

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("mixtape_export_%d", e.now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan exportJob, len(ids))
	results := make(chan exportOutcome, len(ids))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, id := range ids {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			listing, err := e.exportListing(ctx, id)
			if err != nil {
				results <- exportOutcome{index: i, entry: formatter.ManifestEntry{
					PlaylistID: id,
					Name:       fmt.Sprintf("Unknown (%s)", id),
					Error:      fmt.Sprintf("failed to fetch playlist: %v", err),
				}}
				continue
			}

			e.sendProgress(prog, exportingPlaylistUpdate(i+1, len(ids), listing.Name))
			jobs <- exportJob{index: i, listing: listing}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &ExportResult{ExportManifest: formatter.ExportManifest{
		Format:          opts.Format,
		ExportedAt:      e.now(),
		OutputDirectory: opts.OutputDir,
		Total:           len(ids),
	}}

	var outcomes []exportOutcome
	for res := range results {
		outcomes = append(outcomes, res)
		if res.entry.Error == "" {
			result.Succeeded++
			e.sendProgress(prog, exportCompletedUpdate(len(outcomes), len(ids), res.entry.Name, len(res.entry.Files)))
		} else {
			result.Failed++
			e.sendProgress(prog, exportFailedUpdate(len(outcomes), len(ids), res.entry.Name, errors.New(res.entry.Error)))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	for _, o := range outcomes {
		result.Entries = append(result.Entries, o.entry)
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteExportManifest(result.ExportManifest, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	e.logger.Info("export finished", "format", opts.Format, "dir", opts.OutputDir, "ok", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func (e *PlaylistEngine) exportListing(ctx context.Context, id string) (formatter.Listing, error) {
	spec, err := e.playlists.LoadPlaylistSpec(ctx, id)
	if err != nil {
		return formatter.Listing{}, err
	}
	tracks, err := e.LiveTracks(ctx, spec)
	if err != nil {
		return formatter.Listing{}, err
	}
	return formatter.FromSpec(spec, tracks), nil
}

// exportWorker writes listings from the jobs channel until it closes.
func (e *PlaylistEngine) exportWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan exportJob, results chan<- exportOutcome, opts ExportOpts) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results <- exportOutcome{index: job.index, entry: writeListing(job.listing, opts)}
	}
}

// writeListing writes one listing in the requested format.
func writeListing(l formatter.Listing, opts ExportOpts) formatter.ManifestEntry {
	entry := formatter.ManifestEntry{PlaylistID: l.ID, Name: l.Name}

	var err error
	switch opts.Format {
	case "csv":
		var res *formatter.CSVExportResult
		if res, err = formatter.WriteCSVExport(l, filepath.Join(opts.OutputDir, l.ID)); err == nil {
			entry.Files = []string{res.TracksFile, res.MetadataFile}
		}
	case "markdown":
		var path string
		if path, err = formatter.WriteMarkdownExport(l, filepath.Join(opts.OutputDir, l.ID)); err == nil {
			entry.Files = []string{path}
		}
	case "txt":
		var path string
		if path, err = formatter.WriteTextExport(l, filepath.Join(opts.OutputDir, l.ID+"_tracks.txt")); err == nil {
			entry.Files = []string{path}
		}
	default:
		var path string
		if path, err = formatter.WriteJSONExport(l, filepath.Join(opts.OutputDir, l.ID+".json")); err == nil {
			entry.Files = []string{path}
		}
	}
	if err != nil {
		entry.Error = fmt.Sprintf("%s export failed: %v", opts.Format, err)
	}
	return entry
}

// ExportDraft writes a single draft into dir, for previewing before commit. It returns the files
// written.
func ExportDraft(d *models.DraftPlaylist, format, dir string) ([]string, error) {
	format, err := ParseExportFormat(format)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}
	entry := writeListing(formatter.FromDraft(d), ExportOpts{Format: format, OutputDir: dir})
	if entry.Error != "" {
		return nil, errors.New(entry.Error)
	}
	return entry.Files, nil
}
