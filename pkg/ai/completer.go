package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spendlens/core/pkg/canonical"
	"github.com/spendlens/core/pkg/problem"
)

// CompleterConfig configures prompt completion behavior.
type CompleterConfig struct {
	// Timeout bounds a single model call. The caller's context still applies;
	// whichever expires first wins.
	Timeout time.Duration
	// CacheTTL specifies how long cached completions remain valid.
	CacheTTL time.Duration
	// Temperature passed to the model. Low values keep structured extraction
	// stable across identical inputs.
	Temperature float64
}

// DefaultCompleterConfig returns sensible defaults.
func DefaultCompleterConfig() CompleterConfig {
	return CompleterConfig{
		Timeout:     10 * time.Second,
		CacheTTL:    time.Hour,
		Temperature: 0.1,
	}
}

// CompleterMetrics tracks completion outcomes.
type CompleterMetrics struct {
	TotalRequests int64
	CacheHits     int64
	CacheMisses   int64
	ParseFailures int64
	mu            sync.Mutex
}

// Completer asks a model for schema-conforming JSON. Responses are memoized
// per (operation, prompt, model) so repeated questions inside one process do
// not pay for a second model call.
type Completer struct {
	client  Client
	model   string
	config  CompleterConfig
	cache   *PromptCache
	metrics *CompleterMetrics
}

// promptKey identifies a completion for caching. The operation name is part
// of the key so two operations sharing a prompt never collide.
type promptKey struct {
	Operation string `json:"operation"`
	System    string `json:"system"`
	User      string `json:"user"`
	Model     string `json:"model"`
}

// Model reports the model name requests are issued under.
func (c *Completer) Model() string {
	return c.model
}

// NewCompleter creates a completer with default configuration.
func NewCompleter(client Client, model string) *Completer {
	return NewCompleterWithConfig(client, model, DefaultCompleterConfig())
}

// NewCompleterWithConfig creates a configured completer.
func NewCompleterWithConfig(client Client, model string, config CompleterConfig) *Completer {
	return &Completer{
		client:  client,
		model:   model,
		config:  config,
		cache:   NewPromptCache(config.CacheTTL),
		metrics: &CompleterMetrics{},
	}
}

// CompleteJSON sends a system+user prompt and returns the decoded JSON object
// from the response. The result must satisfy schema. The second return value
// reports whether the response came from the prompt cache.
func (c *Completer) CompleteJSON(ctx context.Context, operation, system, user string, schema *jsonschema.Schema) (map[string]any, bool, error) {
	c.metrics.mu.Lock()
	c.metrics.TotalRequests++
	c.metrics.mu.Unlock()

	key, err := canonical.Hash(promptKey{Operation: operation, System: system, User: user, Model: c.model})
	if err != nil {
		return nil, false, problem.Wrapf(problem.KindUnavailable, "ai.CompleteJSON", err, "hash prompt")
	}

	if content, ok := c.cache.Get(key); ok {
		obj, derr := c.decode(operation, content, schema)
		if derr == nil {
			c.metrics.mu.Lock()
			c.metrics.CacheHits++
			c.metrics.mu.Unlock()
			return obj, true, nil
		}
		// A cached response that no longer satisfies the schema means the
		// schema changed underneath it. Drop through to a fresh call.
		slog.WarnContext(ctx, "evicting stale cached completion",
			"operation", operation,
			"error", derr)
	}

	c.metrics.mu.Lock()
	c.metrics.CacheMisses++
	c.metrics.mu.Unlock()

	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	resp, err := c.client.Chat(callCtx, messages, &SamplingOptions{Temperature: c.config.Temperature})
	if err != nil {
		return nil, false, err
	}

	obj, err := c.decode(operation, resp.Content, schema)
	if err != nil {
		c.metrics.mu.Lock()
		c.metrics.ParseFailures++
		c.metrics.mu.Unlock()
		return nil, false, err
	}

	c.cache.Set(key, resp.Content)
	return obj, false, nil
}

// decode extracts the JSON payload from raw model output and validates it.
func (c *Completer) decode(operation, content string, schema *jsonschema.Schema) (map[string]any, error) {
	payload := ExtractJSON(content)

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, problem.Wrapf(problem.KindParse, "ai.CompleteJSON", err, "%s: model returned malformed JSON", operation)
	}
	if schema != nil {
		if err := schema.Validate(v); err != nil {
			return nil, problem.Wrapf(problem.KindParse, "ai.CompleteJSON", err, "%s: response violates schema", operation)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, problem.New(problem.KindParse, "ai.CompleteJSON", operation+": response is not a JSON object")
	}
	return obj, nil
}

// Cleanup evicts expired cache entries and returns how many were removed.
func (c *Completer) Cleanup() int {
	return c.cache.Cleanup()
}

// Snapshot returns a point-in-time copy of the completer metrics.
func (c *Completer) Snapshot() (total, hits, misses, parseFailures int64) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	return c.metrics.TotalRequests, c.metrics.CacheHits, c.metrics.CacheMisses, c.metrics.ParseFailures
}
