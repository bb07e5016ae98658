package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI generates through the OpenAI chat completions API with native
// function calling.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI creates an OpenAI provider with the given API key.
func NewOpenAI(apiKey, defaultModel string) *OpenAI {
	if defaultModel == "" {
		defaultModel = defaultOpenAIModel
	}
	return &OpenAI{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
	}
}

func (p *OpenAI) Name() string        { return "openai" }
func (p *OpenAI) SupportsTools() bool { return true }

// Generate sends a chat completion request, surfacing tool calls when the
// model requests them.
func (p *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{Model: model}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	for _, fn := range req.Functions {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// HealthCheck lists models as a cheap authenticated probe.
func (p *OpenAI) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		return p.wrapError(err)
	}
	return nil
}

// ListModels returns the account's model IDs.
func (p *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrapError(err)
	}
	out := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, m.ID)
	}
	return out, nil
}

func (p *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode == http.StatusPaymentRequired ||
			apiErr.Code == "insufficient_quota" {
			return fmt.Errorf("openai: %w: %v", ErrQuotaExhausted, err)
		}
	}
	return fmt.Errorf("openai: %w", err)
}
