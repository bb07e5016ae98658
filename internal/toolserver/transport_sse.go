package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/earchibald/home-brain-sub000/internal/config"
)

// SSETransport talks to a remote tool server over HTTP. Requests are POSTed
// as JSON-RPC; a long-lived GET to {url}/sse announces the server's message
// endpoint and carries notifications.
type SSETransport struct {
	cfg    config.ToolServerConfig
	logger *slog.Logger
	client *http.Client

	// postURL is learned from the SSE "endpoint" event; until then the
	// fallback {url}/message is used.
	postURL   atomic.Value // string
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// endpointCh closes when the server has announced its message endpoint;
	// firstStream closes when the first stream attempt ends either way.
	endpointCh   chan struct{}
	endpointOnce sync.Once
	firstStream  chan struct{}
	firstOnce    sync.Once
}

// connectTimeout bounds how long Connect waits for the endpoint event.
const connectTimeout = 30 * time.Second

// NewSSETransport creates an HTTP/SSE transport for the given server config.
func NewSSETransport(cfg config.ToolServerConfig) *SSETransport {
	t := &SSETransport{
		cfg:         cfg,
		logger:      slog.Default().With("tool_server", cfg.Name, "transport", "http-sse"),
		client:      &http.Client{Timeout: 30 * time.Second},
		stopChan:    make(chan struct{}),
		endpointCh:  make(chan struct{}),
		firstStream: make(chan struct{}),
	}
	t.postURL.Store(strings.TrimSuffix(cfg.URL, "/") + "/message")
	return t
}

// Connect starts the SSE listener and waits for the server to announce its
// message endpoint. The {url}/message fallback is used only when the stream
// fails or no endpoint event arrives within the connect window.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("url is required for http-sse transport")
	}

	t.connected.Store(true)

	t.wg.Add(1)
	go t.sseLoop(ctx)

	select {
	case <-t.endpointCh:
	case <-t.firstStream:
		t.logger.Warn("SSE stream ended without endpoint event, using message fallback")
	case <-time.After(connectTimeout):
		t.logger.Warn("no endpoint event within connect window, using message fallback")
	case <-t.stopChan:
		return fmt.Errorf("transport closed")
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}

	t.logger.Info("http-sse transport ready", "url", t.cfg.URL)
	return nil
}

// Close stops the SSE listener.
func (t *SSETransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	close(t.stopChan)
	t.wg.Wait()
	return nil
}

// Call POSTs a request and decodes the response body.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	req := rpcRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Notify POSTs a notification and discards the response.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := rpcNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	_, err := t.post(ctx, notif)
	return err
}

// Connected reports whether the transport accepts calls.
func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

func (t *SSETransport) post(ctx context.Context, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL.Load().(string), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sseLoop maintains the SSE stream, reconnecting with a fixed backoff.
func (t *SSETransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()

	sseURL := strings.TrimSuffix(t.cfg.URL, "/") + "/sse"
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		t.streamSSE(ctx, sseURL)
		t.firstOnce.Do(func() { close(t.firstStream) })

		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *SSETransport) streamSSE(ctx context.Context, sseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		t.logger.Debug("failed to create SSE request", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	// The stream stays open indefinitely; the default client timeout would
	// cut it off.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		t.logger.Debug("SSE connection failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("SSE returned non-200", "status", resp.StatusCode)
		return
	}
	t.logger.Debug("SSE connected", "url", sseURL)

	var eventName string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			t.handleSSEData(eventName, strings.TrimPrefix(line, "data: "))
		case line == "":
			eventName = ""
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE scanner error", "error", err)
	}
}

// handleSSEData processes one SSE data payload. An "endpoint" event rebinds
// the POST target; everything else is a server notification, which this
// client logs and drops.
func (t *SSETransport) handleSSEData(event, data string) {
	if event == "endpoint" {
		resolved := t.resolveEndpoint(strings.TrimSpace(data))
		if resolved != "" {
			t.postURL.Store(resolved)
			t.endpointOnce.Do(func() { close(t.endpointCh) })
			t.logger.Debug("server announced message endpoint", "url", resolved)
		}
		return
	}

	var notif rpcNotification
	if err := json.Unmarshal([]byte(data), &notif); err == nil && notif.Method != "" {
		t.logger.Debug("server notification", "method", notif.Method)
	}
}

func (t *SSETransport) resolveEndpoint(raw string) string {
	if raw == "" {
		return ""
	}
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
