// Package toolserver connects to external tool servers over a JSON-RPC 2.0
// protocol and surfaces their tools to the assistant.
package toolserver

import (
	"encoding/json"
)

// ProtocolVersion is the protocol revision spoken during the handshake.
const ProtocolVersion = "2024-11-05"

// ToolDef describes one tool advertised by a server.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallResult is the payload of a tools/call response. IsError marks a
// tool-level failure, distinct from a transport or protocol error.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type     string            `json:"type"` // text | image | resource
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents is the payload of a resource block.
type ResourceContents struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the textual blocks of a result: text blocks verbatim and
// resource blocks via their embedded text.
func (r *CallResult) Text() string {
	var out string
	add := func(s string) {
		if s == "" {
			return
		}
		if out != "" {
			out += "\n"
		}
		out += s
	}
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			add(c.Text)
		case "resource":
			if c.Resource != nil {
				add(c.Resource.Text)
			}
		}
	}
	return out
}

// JSON-RPC 2.0 framing.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolDef `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
