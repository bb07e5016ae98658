package models

import (
	"encoding/json"
	"time"
)

// ToolCategory classifies where a tool came from and how it is surfaced.
type ToolCategory string

const (
	// ToolBuiltin tools ship with the service.
	ToolBuiltin ToolCategory = "builtin"

	// ToolRemote tools are registered by external tool servers.
	ToolRemote ToolCategory = "remote"

	// ToolSkill tools are LLM-callable but hidden from user-facing
	// enable/disable surfaces.
	ToolSkill ToolCategory = "skill"
)

// ToolCall is a parsed request from the LLM to run a tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RawMarker string         `json:"raw_marker,omitempty"`
}

// ToolResult is the outcome of one tool execution. Content is the
// LLM-consumable text; Raw preserves structured output for hooks and UI.
type ToolResult struct {
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	Content    string    `json:"content"`
	Raw        any       `json:"raw,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// FunctionSpec is the OpenAI-style function-calling description of a tool,
// consumed by native-function-calling providers.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
