package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spendlens/core/pkg/problem"
)

// HTTPClient talks to any OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func NewHTTPClient(url, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Seed        int64     `json:"seed,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if options != nil {
		reqBody.Temperature = options.Temperature
		reqBody.MaxTokens = options.MaxTokens
		reqBody.Seed = options.Seed
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, problem.Wrap(problem.KindTransient, "ai.Chat", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, problem.New(classifyStatus(resp.StatusCode), "ai.Chat",
			fmt.Sprintf("chat api error: %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, problem.Wrap(problem.KindParse, "ai.Chat", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, problem.New(problem.KindParse, "ai.Chat", "empty choices in response")
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}

	return &Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   model,
	}, nil
}
