// package formatter renders drafts and committed playlists as CSV, Markdown, plain text and JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// Listing is a playlist as it is exported: metadata plus its tracks in order.
type Listing struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Platform    models.PlatformKind     `json:"platform"`
	ExternalID  string                  `json:"externalId,omitempty"`
	Prompt      string                  `json:"prompt"`
	Refinements []string                `json:"refinements,omitempty"`
	Visibility  models.Visibility       `json:"visibility,omitempty"`
	Schedule    string                  `json:"schedule,omitempty"`
	NextRunAt   *time.Time              `json:"nextRunAt,omitempty"`
	TrackCount  int                     `json:"trackCount"`
	Tracks      []models.CandidateTrack `json:"-"`
}

// FromSpec builds a listing for a committed playlist and its live tracks.
func FromSpec(spec *models.PlaylistSpec, tracks []models.CandidateTrack) Listing {
	cfg := spec.AutoUpdate.Normalize()
	l := Listing{
		ID:          spec.ID,
		Name:        spec.Name,
		Description: spec.Description,
		Platform:    spec.Account.Kind,
		ExternalID:  spec.ExternalID,
		Prompt:      spec.Prompt,
		Refinements: spec.Refinements.Entries(),
		Visibility:  cfg.Visibility,
		Schedule:    ScheduleString(cfg),
		Tracks:      tracks,
		TrackCount:  len(tracks),
	}
	if !spec.NextRunAt.IsZero() {
		next := spec.NextRunAt
		l.NextRunAt = &next
	}
	return l
}

// FromDraft builds a listing for an uncommitted draft.
func FromDraft(d *models.DraftPlaylist) Listing {
	return Listing{
		ID:          d.ID,
		Name:        "Draft " + d.ID,
		Platform:    d.Account.Kind,
		Prompt:      d.Prompt,
		Refinements: d.Refinements.Entries(),
		Tracks:      d.Tracks,
		TrackCount:  len(d.Tracks),
	}
}

// ScheduleString renders an auto-update config, e.g. "daily at 09:00 Europe/Paris (append)".
func ScheduleString(c models.AutoUpdateConfig) string {
	c = c.Normalize()
	if !c.Enabled() {
		return "manual only"
	}
	return fmt.Sprintf("%s at %s %s (%s)", c.Frequency, c.TimeOfDay, c.Timezone, c.Mode)
}

// ExportToCSV converts a listing to CSV with columns: Key, ID, Title, Artist, Album, Duration, ISRC, Explicit, URL
func ExportToCSV(l Listing) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Key", "ID", "Title", "Artist", "Album", "Duration", "ISRC", "Explicit", "URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range l.Tracks {
		record := []string{
			track.CanonicalKey,
			track.NativeID,
			track.Name,
			track.Artist,
			track.Album,
			strconv.Itoa(int(track.Duration / time.Second)),
			track.ISRC,
			strconv.FormatBool(track.Explicit),
			track.URL,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a listing to Markdown, including the prompt and its refinements.
func ExportToMarkdown(l Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", l.Name)

	if l.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", l.Description)
	}

	fmt.Fprintf(&buf, "**Prompt**: %s\n", l.Prompt)
	fmt.Fprintf(&buf, "**Platform**: %s\n", l.Platform.DisplayName())
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(l.Tracks))
	if l.Visibility != "" {
		fmt.Fprintf(&buf, "**Visibility**: %s\n", l.Visibility)
	}
	if l.Schedule != "" {
		fmt.Fprintf(&buf, "**Schedule**: %s\n", l.Schedule)
	}
	buf.WriteString("\n")

	if len(l.Refinements) > 0 {
		buf.WriteString("## Refinements\n\n")
		for _, r := range l.Refinements {
			fmt.Fprintf(&buf, "- %s\n", r)
		}
		buf.WriteString("\n")
	}

	buf.WriteString("## Tracks\n\n")
	for i, track := range l.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		title := track.Name
		if track.URL != "" {
			title = fmt.Sprintf("[%s](%s)", track.Name, track.URL)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, track.Artist, title, albumPart, shared.FormatDuration(track.Duration))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a listing to plain text, one numbered track per line followed by its key.
func ExportToText(l Listing) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", l.Name)
	if l.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", l.Description)
	}
	fmt.Fprintf(&buf, "Prompt: %s\n", l.Prompt)
	for _, r := range l.Refinements {
		fmt.Fprintf(&buf, "  + %s\n", r)
	}
	if l.Schedule != "" {
		fmt.Fprintf(&buf, "Schedule: %s\n", l.Schedule)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(l.Tracks))

	for i, track := range l.Tracks {
		fmt.Fprintf(&buf, "%d. %s  [%s]\n", i+1, track.Label(), track.CanonicalKey)
	}

	return buf.Bytes(), nil
}

// ToMetadataJSON generates a JSON representation of listing metadata (without tracks)
func ToMetadataJSON(l Listing) ([]byte, error) {
	return marshalJSON(l)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TracksFile   string
	MetadataFile string
}

// WriteCSVExport exports a listing to CSV format with accompanying metadata JSON file.
//
// Defaults to the listing ID as the base filename & creates {base}_tracks.csv and {base}_metadata.json
func WriteCSVExport(l Listing, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = l.ID
	}

	csvData, err := ExportToCSV(l)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := baseFilepath + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(l)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		TracksFile:   tracksFile,
		MetadataFile: metadataFile,
	}, nil
}

// WriteMarkdownExport writes {dir}/README.md, creating the directory. dir defaults to the listing ID.
func WriteMarkdownExport(l Listing, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = l.ID
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(l)
	if err != nil {
		return "", fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return "", fmt.Errorf("failed to write Markdown file: %w", err)
	}

	return mdFile, nil
}

// WriteTextExport exports a listing to plain text format.
//
// Defaults to {ID}_tracks.txt as the filename.
func WriteTextExport(l Listing, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_tracks.txt", l.ID)
	}

	textData, err := ExportToText(l)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

// WriteJSONExport writes the listing metadata and its tracks as one JSON document.
func WriteJSONExport(l Listing, path string) (string, error) {
	if path == "" {
		path = l.ID + ".json"
	}
	data, err := marshalJSON(struct {
		Listing
		Tracks []models.CandidateTrack `json:"tracks"`
	}{l, l.Tracks})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}
	return path, nil
}

// ExportManifest summarizes a multi-playlist export.
type ExportManifest struct {
	Format          string          `json:"format"`
	ExportedAt      time.Time       `json:"exportedAt"`
	OutputDirectory string          `json:"outputDirectory"`
	Total           int             `json:"total"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Entries         []ManifestEntry `json:"entries"`
}

// ManifestEntry is one exported playlist.
type ManifestEntry struct {
	PlaylistID string   `json:"playlistId"`
	Name       string   `json:"name"`
	Files      []string `json:"files,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// WriteExportManifest writes m as indented JSON to path.
func WriteExportManifest(m ExportManifest, path string) error {
	data, err := marshalJSON(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
