// Package notify delivers operator notifications through an ntfy-style
// publish endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Priority maps to ntfy priority levels.
type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityUrgent  Priority = "urgent"
)

// Notifier sends operator-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string, priority Priority) error
}

// Nop discards notifications. Used when NOTIFY_TOPIC is unset.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, Priority) error { return nil }

// HTTPNotifier publishes to an ntfy topic URL.
type HTTPNotifier struct {
	topicURL string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPNotifier creates a notifier for the given topic URL.
func NewHTTPNotifier(topicURL string, logger *slog.Logger) *HTTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPNotifier{
		topicURL: topicURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "notify"),
	}
}

// Notify publishes one notification. Failures are returned but callers are
// expected to log and continue; notifications are best effort.
func (n *HTTPNotifier) Notify(ctx context.Context, title, message string, priority Priority) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Title", title)
	if priority != "" {
		req.Header.Set("Priority", string(priority))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify HTTP %d", resp.StatusCode)
	}
	return nil
}
