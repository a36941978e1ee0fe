package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/go-resty/resty/v2"
)

const (
	planInstructions = `You plan music catalog searches for a playlist generator.
Reply with a JSON object {"queries": [string, ...]} containing 5 to 12 short search queries
(artist names, song titles, genres, moods) that together cover the request.`

	curateInstructions = `You curate playlists from a numbered list of candidate tracks.
Reply with a JSON object {"indices": [int, ...]} listing the chosen candidates by number,
best fit first. Only use numbers from the list and never choose more than requested.`
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPGateway calls a hosted chat-completions endpoint in JSON mode.
type HTTPGateway struct {
	client *resty.Client
	model  string
}

// NewHTTPGateway creates a gateway from config. client may be nil.
func NewHTTPGateway(cfg shared.ReasoningConfig, client *http.Client) (*HTTPGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: reasoning api_key", shared.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: reasoning base_url and model", shared.ErrMissingConfig)
	}

	rc := resty.New()
	if client != nil {
		rc = resty.NewWithClient(client)
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout())

	return &HTTPGateway{client: rc, model: cfg.Model}, nil
}

// PlanQueries asks the model for an ordered list of search queries.
func (g *HTTPGateway) PlanQueries(ctx context.Context, pc PromptContext) ([]string, error) {
	var out struct {
		Queries []string `json:"queries"`
	}
	if err := g.complete(ctx, planInstructions, PlanPrompt(pc), &out); err != nil {
		return nil, err
	}
	return out.Queries, nil
}

// Curate asks the model to pick tracks out of pool.
func (g *HTTPGateway) Curate(ctx context.Context, pool []models.CandidateTrack, pc PromptContext) ([]int, error) {
	var out struct {
		Indices []int `json:"indices"`
	}
	if err := g.complete(ctx, curateInstructions, CuratePrompt(pool, pc), &out); err != nil {
		return nil, err
	}
	return out.Indices, nil
}

func (g *HTTPGateway) complete(ctx context.Context, system, user string, out any) error {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.7,
	}

	var result chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: reasoning returned %d: %s", shared.ErrAPIRequest, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(result.Choices) == 0 {
		return errEmptyResponse
	}

	content := strings.TrimSpace(result.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("malformed model output: %w", err)
	}
	return nil
}

// PlanPrompt renders the user message for query planning.
func PlanPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", pc.Prompt)
	writeConstraints(&b, pc)
	return b.String()
}

// CuratePrompt renders the numbered candidate list and the constraints.
func CuratePrompt(pool []models.CandidateTrack, pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", pc.Prompt)
	writeConstraints(&b, pc)
	b.WriteString("Candidates:\n")
	for i, t := range pool {
		fmt.Fprintf(&b, "%d. %s", i, t.Label())
		if t.Album != "" {
			fmt.Fprintf(&b, " (%s)", t.Album)
		}
		if t.Explicit {
			b.WriteString(" [explicit]")
		}
		if t.Duration > 0 {
			fmt.Fprintf(&b, " %s", shared.FormatDuration(t.Duration.Round(time.Second)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeConstraints(b *strings.Builder, pc PromptContext) {
	if len(pc.Refinements) > 0 {
		b.WriteString("Refinements, oldest first:\n")
		for _, r := range pc.Refinements {
			fmt.Fprintf(b, "- %s\n", r)
		}
	}
	if pc.TargetCount > 0 {
		fmt.Fprintf(b, "Track count: %d\n", pc.TargetCount)
	}
	if !pc.AllowExplicit {
		b.WriteString("Avoid explicit content.\n")
	}
	if pc.NewArtistsOnly {
		b.WriteString("Only artists the listener has not heard in this playlist before.\n")
	}
	if len(pc.Liked) > 0 {
		fmt.Fprintf(b, "The listener liked: %s\n", strings.Join(pc.Liked, "; "))
	}
	if len(pc.Disliked) > 0 {
		fmt.Fprintf(b, "The listener disliked: %s\n", strings.Join(pc.Disliked, "; "))
	}
}
