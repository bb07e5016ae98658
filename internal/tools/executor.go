package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

const (
	markerOpen  = "<tool_call>"
	markerClose = "</tool_call>"

	// ExecTimeout bounds a single tool execution.
	ExecTimeout = 15 * time.Second

	// MaxRounds bounds the generate-execute loop for providers without
	// native function calling.
	MaxRounds = 5
)

// ParseToolCall extracts the first tool-call marker from model output.
// The JSON body accepts "tool" or "name" for the tool, and "arguments" or
// "params" for the arguments. Returns nil when no well-formed call is found.
func ParseToolCall(text string) *models.ToolCall {
	start := strings.Index(text, markerOpen)
	if start < 0 {
		return nil
	}
	rest := text[start+len(markerOpen):]

	// A missing close tag means the model stopped mid-marker; take the
	// remainder of the output as the body.
	body := rest
	if end := strings.Index(rest, markerClose); end >= 0 {
		body = rest[:end]
	}
	body = strings.TrimSpace(body)

	var raw struct {
		Tool      string          `json:"tool"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil
	}

	name := raw.Tool
	if name == "" {
		name = raw.Name
	}
	if name == "" {
		return nil
	}

	argsJSON := raw.Arguments
	if len(argsJSON) == 0 {
		argsJSON = raw.Params
	}

	args := map[string]any{}
	if len(argsJSON) > 0 {
		// Non-object arguments degrade to an empty map rather than failing
		// the whole call.
		var parsed map[string]any
		if err := json.Unmarshal(argsJSON, &parsed); err == nil && parsed != nil {
			args = parsed
		}
	}

	marker := text[start:]
	if end := strings.Index(rest, markerClose); end >= 0 {
		marker = text[start : start+len(markerOpen)+end+len(markerClose)]
	}

	return &models.ToolCall{Name: name, Arguments: args, RawMarker: marker}
}

// StripToolCall removes the first tool-call marker from model output.
func StripToolCall(text string) string {
	call := ParseToolCall(text)
	if call == nil {
		return text
	}
	return strings.TrimSpace(strings.Replace(text, call.RawMarker, "", 1))
}

// Executor runs parsed tool calls against the registry.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger.With("component", "executor")}
}

// Execute runs one tool call and always returns a result; failures are
// reported inside the result rather than as an error so the conversation can
// continue.
func (e *Executor) Execute(ctx context.Context, userID string, call *models.ToolCall) models.ToolResult {
	result := models.ToolResult{ToolName: call.Name, ExecutedAt: time.Now()}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return result
	}
	if e.registry.state != nil && !e.registry.state.Enabled(userID, call.Name) {
		result.Error = fmt.Sprintf("tool %s is disabled", call.Name)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()

	start := time.Now()
	content, err := tool.Execute(ctx, userID, call.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("tool execution timed out",
				"tool", call.Name, "user", userID, "elapsed", elapsed)
			result.Error = "timed out"
			return result
		}
		e.logger.Warn("tool execution failed",
			"tool", call.Name, "user", userID, "elapsed", elapsed, "error", err)
		result.Error = err.Error()
		return result
	}

	e.logger.Debug("tool executed", "tool", call.Name, "user", userID, "elapsed", elapsed)
	result.Success = true
	result.Content = content
	return result
}

// GenerateFunc produces the next assistant turn for a message sequence.
type GenerateFunc func(ctx context.Context, msgs []models.Message) (string, error)

// RunShimLoop drives tool use for providers without native function calling:
// generate, parse a marker, execute, feed the result back as a system turn,
// and repeat until the model answers in plain text or MaxRounds is reached.
// Returns the final text and every tool result produced along the way.
func (e *Executor) RunShimLoop(ctx context.Context, userID string, msgs []models.Message, generate GenerateFunc) (string, []models.ToolResult, error) {
	var results []models.ToolResult

	text, err := generate(ctx, msgs)
	if err != nil {
		return "", nil, err
	}

	for round := 0; round < MaxRounds; round++ {
		call := ParseToolCall(text)
		if call == nil {
			return text, results, nil
		}

		result := e.Execute(ctx, userID, call)
		results = append(results, result)

		feedback := result.Content
		if !result.Success {
			feedback = "Error: " + result.Error
		}

		msgs = append(msgs,
			models.Message{Role: models.RoleAssistant, Content: StripToolCall(text), Timestamp: time.Now()},
			models.Message{
				Role:      models.RoleSystem,
				Content:   fmt.Sprintf("[Tool result] %s: %s", call.Name, feedback),
				Timestamp: time.Now(),
			},
		)

		text, err = generate(ctx, msgs)
		if err != nil {
			return "", results, err
		}
	}

	// Round budget exhausted; return whatever text remains, marker stripped.
	return StripToolCall(text), results, nil
}
