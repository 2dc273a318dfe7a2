package aigen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/models"
)

// Client calls the question-generation service over HTTP. It satisfies
// game.QuestionGenerator.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a generation client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header sent on every request, e.g. an API key.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type generateRequest struct {
	SourceRef  string   `json:"source_ref"`
	Count      int      `json:"count"`
	GameType   string   `json:"game_type"`
	Difficulty string   `json:"difficulty,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

type generateResponse struct {
	Questions []models.RawQuestion `json:"questions"`
}

// Generate requests question candidates derived from the given source notes.
func (c *Client) Generate(ctx context.Context, req game.GenerateQuestionsRequest) ([]models.RawQuestion, error) {
	body, err := json.Marshal(generateRequest{
		SourceRef:  req.SourceRef,
		Count:      req.Count,
		GameType:   string(req.GameType),
		Difficulty: req.Difficulty,
		Categories: req.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	data, err := c.post(ctx, "/v1/questions/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if len(resp.Questions) == 0 {
		return nil, fmt.Errorf("generation service returned no questions")
	}

	log.Debug().
		Int("count", len(resp.Questions)).
		Str("game_type", string(req.GameType)).
		Msg("questions generated")
	return resp.Questions, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generation service returned status %d: %s", resp.StatusCode, string(responseBody))
	}
	return responseBody, nil
}
