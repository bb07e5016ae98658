package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// Anthropic generates through the Anthropic messages API with native tool
// use.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic creates an Anthropic provider with the given API key.
func NewAnthropic(apiKey, defaultModel string) *Anthropic {
	if defaultModel == "" {
		defaultModel = defaultAnthropicModel
	}
	return &Anthropic{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

func (p *Anthropic) Name() string        { return "anthropic" }
func (p *Anthropic) SupportsTools() bool { return true }

// Generate sends a non-streaming messages request.
func (p *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	for _, fn := range req.Functions {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(fn.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", fn.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, fn.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(fn.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := &Response{
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// HealthCheck issues a minimal request to verify key and reachability.
func (p *Anthropic) HealthCheck(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return p.wrapError(err)
	}
	return nil
}

// ListModels returns the configured default; the messages API does not list
// models per key.
func (p *Anthropic) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.defaultModel}, nil
}

// convertAnthropicMessages maps history onto the user/assistant alternation
// the API expects. System turns inside the history (tool feedback and
// summaries) become user turns with a prefix.
func convertAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleSystem:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("[context] "+m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func (p *Anthropic) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusPaymentRequired {
			return fmt.Errorf("anthropic: %w: %v", ErrQuotaExhausted, err)
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
