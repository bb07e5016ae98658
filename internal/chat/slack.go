package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// maxDownloadBytes bounds attachment downloads.
const maxDownloadBytes = 50 * 1024 * 1024

// SlackConfig holds the Socket Mode credentials.
type SlackConfig struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
}

// SlackClient implements Client over Slack Socket Mode, restricted to direct
// messages.
type SlackClient struct {
	cfg          SlackConfig
	api          *slack.Client
	socketClient *socketmode.Client
	httpClient   *http.Client
	logger       *slog.Logger

	events chan Incoming
	cancel context.CancelFunc
	wg     sync.WaitGroup

	botUserID   string
	botUserIDMu sync.RWMutex
}

// NewSlackClient builds a Slack client; it does not connect until Start.
func NewSlackClient(cfg SlackConfig, logger *slog.Logger) *SlackClient {
	if logger == nil {
		logger = slog.Default()
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackClient{
		cfg:          cfg,
		api:          api,
		socketClient: socketmode.New(api),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger.With("component", "slack"),
		events:       make(chan Incoming, 100),
	}
}

// Start authenticates, then runs the Socket Mode loop in the background.
func (c *SlackClient) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("slack auth: %w", err)
	}
	c.botUserIDMu.Lock()
	c.botUserID = auth.UserID
	c.botUserIDMu.Unlock()
	c.logger.Info("authenticated", "bot_user_id", auth.UserID, "team", auth.Team)

	c.wg.Add(1)
	go c.handleEvents(runCtx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			c.logger.Error("socket mode loop exited", "error", err)
		}
	}()

	return nil
}

// Stop tears down the Socket Mode connection and closes the events channel.
func (c *SlackClient) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		close(c.events)
		return ctx.Err()
	}
	close(c.events)
	return nil
}

// Events yields inbound direct messages.
func (c *SlackClient) Events() <-chan Incoming {
	return c.events
}

// PostMessage sends markdown text, threaded when threadID is non-empty.
func (c *SlackClient) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" && threadID != channelID {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return ts, nil
}

// DeleteMessage removes a message the bot posted.
func (c *SlackClient) DeleteMessage(ctx context.Context, channelID, msgID string) error {
	if _, _, err := c.api.DeleteMessageContext(ctx, channelID, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DownloadFile fetches an attachment's private download URL with the bot
// token.
func (c *SlackClient) DownloadFile(ctx context.Context, att models.Attachment) ([]byte, error) {
	if att.URL == "" {
		return nil, fmt.Errorf("attachment %s has no download url", att.ID)
	}
	if att.Size > maxDownloadBytes {
		return nil, fmt.Errorf("attachment too large: %d bytes", att.Size)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("attachment too large: %d bytes", len(data))
	}
	return data, nil
}

func (c *SlackClient) handleEvents(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.socketClient.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnecting:
				c.logger.Debug("connecting to socket mode")
			case socketmode.EventTypeConnectionError:
				c.logger.Warn("socket mode connection error", "data", event.Data)
			case socketmode.EventTypeConnected:
				c.logger.Info("connected to socket mode")
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				// Acknowledged but unused.
				c.socketClient.Ack(*event.Request)
			}
		}
	}
}

func (c *SlackClient) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		c.socketClient.Ack(*event.Request)
		return
	}
	// Ack immediately; Slack redelivers unacked events.
	c.socketClient.Ack(*event.Request)

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	c.botUserIDMu.RLock()
	botUserID := c.botUserID
	c.botUserIDMu.RUnlock()

	in, ok := convertMessageEvent(ev, botUserID)
	if !ok {
		return
	}

	select {
	case c.events <- in:
	case <-ctx.Done():
	default:
		c.logger.Warn("events channel full, dropping message", "user", in.UserID)
	}
}

// convertMessageEvent filters and maps a Slack message event. Only human
// direct messages pass: bot messages, channel traffic, and non-file_share
// subtypes are dropped.
func convertMessageEvent(ev *slackevents.MessageEvent, botUserID string) (Incoming, bool) {
	if ev.BotID != "" || (botUserID != "" && ev.User == botUserID) {
		return Incoming{}, false
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return Incoming{}, false
	}
	if !strings.HasPrefix(ev.Channel, "D") {
		return Incoming{}, false
	}

	text := stripMentions(ev.Text)
	if text == "" && (ev.Message == nil || len(ev.Message.Files) == 0) {
		return Incoming{}, false
	}

	threadID := ev.ThreadTimeStamp
	if threadID == "" {
		threadID = ev.Channel
	}

	in := Incoming{
		EventID:   fmt.Sprintf("%s:%s", ev.Channel, ev.TimeStamp),
		UserID:    ev.User,
		ChannelID: ev.Channel,
		ThreadID:  threadID,
		Text:      text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	if ev.Message != nil {
		for _, f := range ev.Message.Files {
			in.Attachments = append(in.Attachments, models.Attachment{
				ID:       f.ID,
				URL:      f.URLPrivateDownload,
				Filename: f.Name,
				MimeType: f.Mimetype,
				Size:     int64(f.Size),
			})
		}
	}
	return in, true
}

// stripMentions removes <@USERID> tokens from the text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// parseSlackTimestamp converts "1700000000.000100" to a time, falling back
// to now.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, ok := strings.Cut(ts, ".")
	if !ok {
		sec = ts
	}
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}
