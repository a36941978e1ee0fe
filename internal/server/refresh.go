package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
)

// IdempotencyKeyHeader identifies one user action across resubmissions.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 16

// Submitter runs manual refresh commands. [tasks.CommandGate] is the production implementation.
type Submitter interface {
	Submit(ctx context.Context, cmd tasks.ManualCommand) (*tasks.RefreshResult, bool, error)
}

// RefreshRequest is the body of a manual refresh. Every field is optional.
type RefreshRequest struct {
	SongCount      int    `json:"songCount,omitempty"`
	Mode           string `json:"mode,omitempty"`
	NewArtistsOnly *bool  `json:"newArtistsOnly,omitempty"`
}

// TrackView is a selected or rejected track in a [RefreshResponse].
type TrackView struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
}

// RefreshResponse reports a manual refresh outcome.
type RefreshResponse struct {
	PlaylistID string      `json:"playlistId"`
	Mode       string      `json:"mode,omitempty"`
	Added      int         `json:"added"`
	Removed    int         `json:"removed"`
	Selected   []TrackView `json:"selected,omitempty"`
	Invalid    []TrackView `json:"invalid,omitempty"`
	Joined     bool        `json:"joined"`
	Error      string      `json:"error,omitempty"`
}

// RefreshHandler serves POST /api/playlists/{id}/refresh.
type RefreshHandler struct {
	gate   Submitter
	logger *log.Logger
}

// NewRefreshHandler creates a handler submitting through gate.
func NewRefreshHandler(gate Submitter, logger *log.Logger) *RefreshHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &RefreshHandler{gate: gate, logger: logger}
}

func (h *RefreshHandler) Routes() []string {
	return []string{"POST /api/playlists/{id}/refresh"}
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body RefreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	mode, err := models.ParseRefreshMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if body.Mode == "" {
		mode = ""
	}

	cmd := tasks.ManualCommand{
		PlaylistID:     r.PathValue("id"),
		SongCount:      body.SongCount,
		Mode:           mode,
		NewArtistsOnly: body.NewArtistsOnly,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}

	result, joined, err := h.gate.Submit(r.Context(), cmd)
	resp := RefreshResponse{PlaylistID: cmd.PlaylistID, Joined: joined}
	if result != nil {
		resp.Mode = string(result.Mode)
		resp.Added = result.Added
		resp.Removed = result.Removed
		resp.Selected = trackViews(result.Selected)
		resp.Invalid = trackViews(result.Invalid)
	}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Debug("manual refresh failed", "playlist", cmd.PlaylistID, "err", err)
	}
	writeJSON(w, StatusFor(err), resp)
}

func trackViews(tracks []models.CandidateTrack) []TrackView {
	if len(tracks) == 0 {
		return nil
	}
	out := make([]TrackView, len(tracks))
	for i, t := range tracks {
		out[i] = TrackView{Key: t.CanonicalKey, ID: t.NativeID, Name: t.Name, Artist: t.Artist}
	}
	return out
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrPartialApplyFailure):
		return http.StatusMultiStatus
	case errors.Is(err, shared.ErrConcurrentRefreshSkipped):
		return http.StatusConflict
	case errors.Is(err, shared.ErrPlaylistNotFound), errors.Is(err, shared.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrNoCandidateTracks),
		errors.Is(err, shared.ErrInvalidTrackReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrReauthRequired), errors.Is(err, shared.ErrTokenNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, shared.ErrAICapabilityFailure),
		errors.Is(err, shared.ErrAPIRequest),
		errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrPlatformRateLimited),
		errors.Is(err, shared.ErrAuthExpired),
		errors.Is(err, shared.ErrRefreshFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
