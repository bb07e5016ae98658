package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/config"
)

func TestSSETransport_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/message":
			var req rpcRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Method != "tools/list" {
				t.Errorf("unexpected method %q", req.Method)
			}
			resp := rpcResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(`{"tools":[{"name":"echo","inputSchema":{"type":"object"}}]}`),
			}
			json.NewEncoder(w).Encode(resp)
		case "/sse":
			// Keep the stream open briefly, then end it.
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewSSETransport(config.ToolServerConfig{
		Name:      "test",
		Transport: config.TransportSSE,
		URL:       srv.URL,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	result, err := tr.Call(ctx, "tools/list", nil)
	if err != nil {
		t.Fatal(err)
	}
	var list listToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", list.Tools)
	}
}

func TestSSETransport_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32601, Message: "method not found"},
		})
	}))
	defer srv.Close()

	tr := NewSSETransport(config.ToolServerConfig{Name: "test", URL: srv.URL})
	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if _, err := tr.Call(ctx, "nope", nil); err == nil {
		t.Fatal("expected rpc error")
	}
}

func TestSSETransport_EndpointDiscovery(t *testing.T) {
	tr := NewSSETransport(config.ToolServerConfig{Name: "test", URL: "http://example.com/srv"})

	// Default POST target is the /message fallback.
	if got := tr.postURL.Load().(string); got != "http://example.com/srv/message" {
		t.Errorf("fallback endpoint = %q", got)
	}

	tr.handleSSEData("endpoint", "/srv/rpc?session=abc")
	if got := tr.postURL.Load().(string); got != "http://example.com/srv/rpc?session=abc" {
		t.Errorf("discovered endpoint = %q", got)
	}
}

// The server here serves JSON-RPC only at the endpoint it announces over the
// stream; a call racing ahead of discovery would 404 on /message.
func TestSSETransport_ConnectWaitsForEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sse":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: endpoint\ndata: /rpc\n\n")
		case "/rpc":
			var req rpcRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
				return
			}
			json.NewEncoder(w).Encode(rpcResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(`{"tools":[]}`),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewSSETransport(config.ToolServerConfig{
		Name:      "test",
		Transport: config.TransportSSE,
		URL:       srv.URL,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if got := tr.postURL.Load().(string); got != srv.URL+"/rpc" {
		t.Fatalf("endpoint not discovered before Connect returned: %q", got)
	}
	if _, err := tr.Call(ctx, "tools/list", nil); err != nil {
		t.Fatalf("call after connect: %v", err)
	}
}

func TestCallResult_Text(t *testing.T) {
	res := CallResult{Content: []ContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "base64..."},
		{Type: "resource", Resource: &ResourceContents{URI: "file:///notes.md", Text: "from the resource"}},
		{Type: "resource", Resource: nil},
		{Type: "text", Text: "line two"},
	}}
	if got := res.Text(); got != "line one\nfrom the resource\nline two" {
		t.Errorf("got %q", got)
	}
}
