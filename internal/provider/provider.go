// Package provider abstracts the LLM backends the assistant can generate
// with: a local Ollama instance by default, with optional OpenAI and
// Anthropic backends keyed per user.
package provider

import (
	"context"
	"errors"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// ErrQuotaExhausted marks a backend refusing work for billing or rate
// reasons; the router falls back to the default provider on it.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// Request is one generation request.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	MaxTokens int

	// Temperature controls sampling randomness; zero leaves the backend's
	// default in place.
	Temperature float32

	// Functions is the native function-calling tool set. Ignored by
	// providers whose SupportsTools is false; those receive tool
	// descriptions inside the prompt instead.
	Functions []models.FunctionSpec
}

// Response is the model's reply. ToolCalls is non-empty when a
// native-function-calling model requested tools instead of answering.
type Response struct {
	Text         string
	ToolCalls    []models.ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the backend ("ollama", "openai", "anthropic").
	Name() string
	// SupportsTools reports whether the backend does native function
	// calling. When false the executor's marker protocol is used.
	SupportsTools() bool
	// Generate produces one completion.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
	// ListModels returns the models the backend offers.
	ListModels(ctx context.Context) ([]string, error)
}
