package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama talks to a local Ollama server. It has no native function calling
// here; tool use goes through the marker protocol.
type Ollama struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewOllama creates an Ollama provider for the server at baseURL.
func NewOllama(baseURL, defaultModel string) *Ollama {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL:      baseURL,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *Ollama) Name() string        { return "ollama" }
func (p *Ollama) SupportsTools() bool { return false }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error           string `json:"error"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// Generate sends a non-streaming chat request.
func (p *Ollama) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	payload := ollamaChatRequest{Model: model, Stream: false}
	if req.System != "" {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.Options = map[string]any{}
		if req.MaxTokens > 0 {
			payload.Options["num_predict"] = req.MaxTokens
		}
		if req.Temperature > 0 {
			payload.Options["temperature"] = req.Temperature
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if chat.Error != "" {
		return nil, fmt.Errorf("ollama: %s", chat.Error)
	}

	return &Response{
		Text:         chat.Message.Content,
		Model:        model,
		InputTokens:  chat.PromptEvalCount,
		OutputTokens: chat.EvalCount,
	}, nil
}

// HealthCheck verifies the server answers /api/tags.
func (p *Ollama) HealthCheck(ctx context.Context) error {
	_, err := p.tags(ctx)
	return err
}

// ListModels returns the locally available model names.
func (p *Ollama) ListModels(ctx context.Context) ([]string, error) {
	return p.tags(ctx)
}

func (p *Ollama) tags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	out := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		out = append(out, m.Name)
	}
	return out, nil
}
