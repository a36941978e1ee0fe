// Authenticated HTTP transport shared by the platform adapters
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
)

// Credentials supplies the credential for one (owner, platform) pair.
//
// Refresh is called with the record that the platform rejected; implementations must serialize
// refreshes and return the newer record if someone else already replaced stale.
type Credentials interface {
	Current(ctx context.Context) (*models.TokenRecord, error)
	Refresh(ctx context.Context, stale *models.TokenRecord) (*models.TokenRecord, error)
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *APIResponse) Decode(v any) error {
	if v == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIService performs authenticated JSON requests against a platform API.
//
// Requests rejected with 401 trigger exactly one credential refresh; a second rejection surfaces
// [shared.ErrReauthRequired]. 429 and 503 responses and transport errors are retried with the
// configured backoff, honoring Retry-After, and surface [shared.ErrPlatformRateLimited] once
// retries are exhausted.
type APIService struct {
	platform   string
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	authorize  func(req *http.Request, rec *models.TokenRecord)
	backoff    shared.Backoff
	logger     *log.Logger
}

// NewAPIService creates an API client for one platform.
func NewAPIService(platform, baseURL string, client *http.Client, creds Credentials, authorize func(*http.Request, *models.TokenRecord), logger *log.Logger) *APIService {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &APIService{
		platform:   platform,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		creds:      creds,
		authorize:  authorize,
		backoff:    shared.DefaultBackoff(),
		logger:     logger,
	}
}

// SetBackoff overrides the retry policy.
func (a *APIService) SetBackoff(b shared.Backoff) {
	a.backoff = b
}

// Do sends the request and decodes a successful response into result.
func (a *APIService) Do(ctx context.Context, method, endpoint string, body, result any) error {
	resp, err := a.Send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return resp.Decode(result)
}

// Send performs the request with authentication, refresh-on-401 and rate-limit retries, and
// returns the raw 2xx response.
func (a *APIService) Send(ctx context.Context, method, endpoint string, body any) (*APIResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	rec, err := a.creds.Current(ctx)
	if err != nil {
		return nil, err
	}

	refreshed := false
	retries := 0
	for {
		resp, err := a.roundTrip(ctx, method, endpoint, payload, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if retries >= a.backoff.MaxRetries {
				return nil, fmt.Errorf("%w: %s %s: %v", shared.ErrServiceUnavailable, method, endpoint, err)
			}
			retries++
			if err := shared.Sleep(ctx, a.backoff.Delay(retries)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, fmt.Errorf("%w: %s rejected the refreshed credential", shared.ErrReauthRequired, a.platform)
			}
			a.logger.Debug("credential rejected, refreshing", "platform", a.platform, "endpoint", endpoint)
			next, err := a.creds.Refresh(ctx, rec)
			if err != nil {
				if errors.Is(err, shared.ErrReauthRequired) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %w: %v", shared.ErrReauthRequired, shared.ErrAuthExpired, err)
			}
			rec = next
			refreshed = true

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			if retries >= a.backoff.MaxRetries {
				return nil, fmt.Errorf("%w: %s %s after %d retries", shared.ErrPlatformRateLimited, method, endpoint, retries)
			}
			retries++
			wait := a.backoff.RetryAfter(resp.Headers, retries)
			a.logger.Warn("rate limited, backing off", "platform", a.platform, "endpoint", endpoint, "wait", wait)
			if err := shared.Sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s %s returned 404", shared.ErrAPIRequest, method, endpoint)

		default:
			return nil, fmt.Errorf("%w: %s %s returned %d: %s", shared.ErrAPIRequest, method, endpoint, resp.StatusCode, snippet(resp.Body))
		}
	}
}

func (a *APIService) roundTrip(ctx context.Context, method, endpoint string, payload []byte, rec *models.TokenRecord) (*APIResponse, error) {
	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		url = a.baseURL + endpoint
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	a.authorize(req, rec)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
