// Package ai is the third inference tier: calls to an external
// OpenAI-compatible chat model. Every operation sends a system and user
// prompt, expects a JSON object back, and validates it against a
// compiled schema before anything downstream trusts it.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spendlens/core/pkg/problem"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions controls model behavior. Inference runs near-greedy
// (temperature 0.1) because responses feed automated categorization,
// not prose.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
}

// Response is the assistant's reply.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Client is the chat transport contract.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

// CompileSchema compiles a JSON Schema document for response
// validation. The name only namespaces the schema resource.
func CompileSchema(name, doc string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://spendlens.schemas.local/ai/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("ai: schema load %q: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("ai: schema compile %q: %w", name, err)
	}
	return compiled, nil
}

// MustCompileSchema is CompileSchema for package-level schema constants.
func MustCompileSchema(name, doc string) *jsonschema.Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// ExtractJSON strips Markdown code fences that chat models wrap around
// JSON payloads.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
	}
	if j := strings.LastIndex(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

// classifyStatus maps an HTTP status to the error taxonomy: overload
// and server-side failures are retry-worthy, the rest mean the service
// cannot serve this request.
func classifyStatus(status int) problem.Kind {
	switch {
	case status == 408, status == 429, status >= 500:
		return problem.KindTransient
	default:
		return problem.KindUnavailable
	}
}
