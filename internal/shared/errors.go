package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthExpired     = fmt.Errorf("platform rejected credential")
	ErrReauthRequired  = fmt.Errorf("reauthorization required")
	ErrRefreshFailed   = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken  = fmt.Errorf("no refresh token available")
	ErrTokenNotFound   = fmt.Errorf("no credential stored for platform")
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrUnknownPlatform = fmt.Errorf("unknown platform")

	// API and service errors
	ErrAPIRequest          = fmt.Errorf("API request failed")
	ErrServiceUnavailable  = fmt.Errorf("service unavailable")
	ErrPlatformRateLimited = fmt.Errorf("platform rate limit exceeded")
	ErrPlaylistNotFound    = fmt.Errorf("playlist not found")
	ErrTrackNotFound       = fmt.Errorf("track not found")

	// Generation and refresh errors
	ErrAICapabilityFailure      = fmt.Errorf("reasoning service returned no usable result")
	ErrNoCandidateTracks        = fmt.Errorf("no candidate tracks found")
	ErrPartialApplyFailure      = fmt.Errorf("playlist changes partially applied")
	ErrConcurrentRefreshSkipped = fmt.Errorf("refresh already in progress")
	ErrInvalidTrackReference    = fmt.Errorf("invalid track reference")
	ErrDraftNotFound            = fmt.Errorf("draft not found")
	ErrEmptyDraft               = fmt.Errorf("draft has no tracks")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
