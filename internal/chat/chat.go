// Package chat abstracts the messaging platform the assistant talks over.
package chat

import (
	"context"
	"time"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// Incoming is one inbound direct message from the platform.
type Incoming struct {
	// EventID is the platform's identifier for the event, used for
	// duplicate-delivery suppression.
	EventID     string
	UserID      string
	ChannelID   string
	ThreadID    string
	Text        string
	Attachments []models.Attachment
	Timestamp   time.Time
}

// Client is the platform surface the pipeline needs. Implementations filter
// to direct messages before emitting on Events.
type Client interface {
	// Start connects and begins delivering events. It returns once the
	// connection is established; delivery happens on background goroutines.
	Start(ctx context.Context) error

	// Stop disconnects and closes the events channel.
	Stop(ctx context.Context) error

	// Events yields inbound direct messages.
	Events() <-chan Incoming

	// PostMessage sends text to a channel (threaded when threadID is
	// non-empty) and returns the platform message ID.
	PostMessage(ctx context.Context, channelID, threadID, text string) (string, error)

	// DeleteMessage removes a previously posted message.
	DeleteMessage(ctx context.Context, channelID, msgID string) error

	// DownloadFile fetches the content of an inbound attachment.
	DownloadFile(ctx context.Context, att models.Attachment) ([]byte, error)
}
