// Package pipeline orchestrates one inbound chat message into one reply:
// dedupe, hooks, attachment extraction, context composition, generation with
// tool use, and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/chat"
	"github.com/earchibald/home-brain-sub000/internal/composer"
	"github.com/earchibald/home-brain-sub000/internal/conversation"
	"github.com/earchibald/home-brain-sub000/internal/extract"
	"github.com/earchibald/home-brain-sub000/internal/hooks"
	"github.com/earchibald/home-brain-sub000/internal/provider"
	"github.com/earchibald/home-brain-sub000/internal/tools"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// User-facing messages for failure modes. Detail goes to logs, never to chat.
const (
	workingIndicator = "_thinking…_"

	friendlyBackendDown = "Sorry, my backend is temporarily unavailable. Please try again in a moment."
	friendlyTimeout     = "This is taking longer than expected — please try again."
	friendlyEmptyReply  = "I couldn't come up with an answer for that one. Mind rephrasing?"
)

// saveablePatterns flag exchanges worth offering to keep in the notes inbox.
var saveablePatterns = []string{
	"i use ", "i always ", "i prefer ", "my strategy", "my approach",
	"my workflow", "my setup",
}

const saveableHint = "\n\n_💾 Sounds worth keeping — say \"note to self: …\" and I'll file it in your notes._"

// Config wires the pipeline's collaborators.
type Config struct {
	Chat     chat.Client
	Hooks    *hooks.Pipeline
	Composer *composer.Composer
	Router   *provider.Router
	Executor *tools.Executor
	Registry *tools.Registry
	Conv     *conversation.Manager
	Metrics  *Metrics
	Logger   *slog.Logger

	// ReplyTimeout bounds generation (including tool rounds); zero means
	// no bound.
	ReplyTimeout time.Duration
}

// Pipeline processes inbound messages. Safe for concurrent use; work is
// serialized per (user, thread) so turns persist in receive order.
type Pipeline struct {
	cfg    Config
	dedupe *Deduper
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a pipeline. Hooks, Composer, Router, Executor, Registry, Conv,
// and Chat must be non-nil; Metrics may be nil.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		dedupe: NewDeduper(0),
		logger: logger.With("component", "pipeline"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Run consumes the chat client's event stream until ctx is cancelled or the
// stream closes. Each message is processed on its own goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-p.cfg.Chat.Events():
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Process(ctx, in)
			}()
		}
	}
}

// Process runs one inbound message through the full pipeline. It never
// returns an error: every failure mode ends in either a friendly chat reply
// or a logged drop.
func (p *Pipeline) Process(ctx context.Context, in chat.Incoming) {
	if p.dedupe.Seen(in.EventID) {
		p.logger.Debug("duplicate event dropped", "event_id", in.EventID)
		p.count("", "dropped")
		return
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		p.count("", "dropped")
		return
	}

	unlock := p.lockConversation(in.UserID, in.ThreadID)
	defer unlock()

	start := time.Now()
	logger := p.logger.With("user", in.UserID, "thread", in.ThreadID)

	indicatorID, err := p.cfg.Chat.PostMessage(ctx, in.ChannelID, in.ThreadID, workingIndicator)
	if err != nil {
		logger.Warn("failed to post working indicator", "error", err)
	}
	// The indicator is deleted exactly once, success or failure.
	deleteIndicator := func() {
		if indicatorID == "" {
			return
		}
		if err := p.cfg.Chat.DeleteMessage(ctx, in.ChannelID, indicatorID); err != nil {
			logger.Warn("failed to delete working indicator", "error", err)
		}
		indicatorID = ""
	}
	defer deleteIndicator()

	ev := &hooks.Event{
		UserID:         in.UserID,
		ThreadID:       in.ThreadID,
		Text:           in.Text,
		HasAttachments: len(in.Attachments) > 0,
		Attachments:    in.Attachments,
		Timestamp:      in.Timestamp,
		Data:           map[string]any{},
	}

	ctx, _ = hooks.WithTracker(ctx)
	p.cfg.Hooks.RunPre(ctx, ev)

	intent := models.IntentGeneral
	if ev.Intent != nil {
		intent = ev.Intent.Intent
	}

	attachmentText := p.extractAttachments(ctx, logger, in.Attachments)

	reply, genMeta, err := p.generate(ctx, ev, attachmentText)
	if err != nil {
		logger.Error("generation failed", "error", err)
		deleteIndicator()
		p.post(ctx, in, friendlyMessage(err))
		p.count(string(intent), "error")
		return
	}

	reply = p.cfg.Hooks.RunPost(ctx, ev, reply)
	if strings.TrimSpace(reply) == "" {
		reply = friendlyEmptyReply
	}
	if looksSaveable(in.Text) {
		reply += saveableHint
	}

	deleteIndicator()
	if err := p.post(ctx, in, reply); err != nil {
		logger.Error("failed to post reply", "error", err)
		// Persist anyway so the exchange is not lost.
	}

	p.persist(in, ev, reply, genMeta, time.Since(start))
	p.count(string(intent), "success")
	logger.Info("message processed",
		"intent", intent,
		"latency_ms", time.Since(start).Milliseconds(),
		"model", genMeta.model,
	)
}

type generateMeta struct {
	providerName string
	model        string
	inputTokens  int
	outputTokens int
	fellBack     bool
	toolCalls    int
}

// generate runs the provider with tool support: the native function-calling
// loop when the provider has it, the in-prompt marker shim otherwise.
func (p *Pipeline) generate(ctx context.Context, ev *hooks.Event, attachmentText string) (string, generateMeta, error) {
	if p.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ReplyTimeout)
		defer cancel()
	}

	prov, model := p.cfg.Router.For(ev.UserID)
	meta := generateMeta{providerName: prov.Name(), model: model}

	shimPrelude := ""
	if !prov.SupportsTools() {
		shimPrelude = p.cfg.Registry.PromptDescriptions(ev.UserID)
	}

	out := p.cfg.Composer.Compose(ctx, composer.Input{
		Event:           ev,
		AttachmentText:  attachmentText,
		ShimToolPrelude: shimPrelude,
	})

	if prov.SupportsTools() {
		return p.generateNative(ctx, ev.UserID, out, &meta)
	}
	return p.generateShim(ctx, ev.UserID, out, &meta)
}

func (p *Pipeline) generateNative(ctx context.Context, userID string, out composer.Output, meta *generateMeta) (string, generateMeta, error) {
	msgs := out.Messages
	specs := p.cfg.Registry.FunctionSpecs(userID)

	for round := 0; round <= tools.MaxRounds; round++ {
		req := &provider.Request{
			Model:     meta.model,
			System:    out.System,
			Messages:  msgs,
			Functions: specs,
		}

		resp, prov, fellBack, err := p.observeGenerate(ctx, userID, req)
		if err != nil {
			return "", *meta, err
		}
		meta.providerName = prov.Name()
		meta.model = resp.Model
		meta.inputTokens += resp.InputTokens
		meta.outputTokens += resp.OutputTokens
		meta.fellBack = meta.fellBack || fellBack

		if len(resp.ToolCalls) == 0 || round == tools.MaxRounds {
			return resp.Text, *meta, nil
		}

		if resp.Text != "" {
			msgs = append(msgs, models.Message{
				Role: models.RoleAssistant, Content: resp.Text, Timestamp: time.Now(),
			})
		}
		for _, call := range resp.ToolCalls {
			result := p.cfg.Executor.Execute(ctx, userID, &call)
			meta.toolCalls++
			p.countTool(result)

			content := result.Content
			if !result.Success {
				content = "Error: " + result.Error
			}
			msgs = append(msgs, models.Message{
				Role:      models.RoleSystem,
				Content:   fmt.Sprintf("[Tool result] %s: %s", call.Name, content),
				Timestamp: time.Now(),
			})
		}
	}
	return "", *meta, errors.New("tool loop exited without a reply")
}

func (p *Pipeline) generateShim(ctx context.Context, userID string, out composer.Output, meta *generateMeta) (string, generateMeta, error) {
	gen := func(ctx context.Context, msgs []models.Message) (string, error) {
		req := &provider.Request{Model: meta.model, System: out.System, Messages: msgs}
		resp, prov, fellBack, err := p.observeGenerate(ctx, userID, req)
		if err != nil {
			return "", err
		}
		meta.providerName = prov.Name()
		meta.model = resp.Model
		meta.inputTokens += resp.InputTokens
		meta.outputTokens += resp.OutputTokens
		meta.fellBack = meta.fellBack || fellBack
		return resp.Text, nil
	}

	text, results, err := p.cfg.Executor.RunShimLoop(ctx, userID, out.Messages, gen)
	if err != nil {
		return "", *meta, err
	}
	meta.toolCalls = len(results)
	for _, r := range results {
		p.countTool(r)
	}
	return text, *meta, nil
}

func (p *Pipeline) observeGenerate(ctx context.Context, userID string, req *provider.Request) (*provider.Response, provider.Provider, bool, error) {
	start := time.Now()
	resp, prov, fellBack, err := p.cfg.Router.Generate(ctx, userID, req)
	if p.cfg.Metrics != nil && prov != nil {
		p.cfg.Metrics.GenerateDuration.WithLabelValues(prov.Name(), req.Model).
			Observe(time.Since(start).Seconds())
		if resp != nil {
			p.cfg.Metrics.TokensTotal.WithLabelValues(prov.Name(), resp.Model, "input").
				Add(float64(resp.InputTokens))
			p.cfg.Metrics.TokensTotal.WithLabelValues(prov.Name(), resp.Model, "output").
				Add(float64(resp.OutputTokens))
		}
	}
	return resp, prov, fellBack, err
}

// extractAttachments downloads and extracts every supported attachment,
// concatenating the results. Failures are logged and skipped.
func (p *Pipeline) extractAttachments(ctx context.Context, logger *slog.Logger, atts []models.Attachment) string {
	var parts []string
	for _, att := range atts {
		if !extract.Supported(att.Filename, att.MimeType) {
			logger.Info("skipping unsupported attachment", "filename", att.Filename, "mime", att.MimeType)
			continue
		}
		data, err := p.cfg.Chat.DownloadFile(ctx, att)
		if err != nil {
			logger.Warn("attachment download failed", "filename", att.Filename, "error", err)
			continue
		}
		text, err := extract.Extract(att.Filename, att.MimeType, data)
		if err != nil {
			logger.Warn("attachment extraction failed", "filename", att.Filename, "error", err)
			continue
		}
		if len(atts) > 1 {
			parts = append(parts, fmt.Sprintf("--- %s ---\n%s", att.Filename, text))
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// persist records both turns with generation metadata. Persistence failures
// are logged; the reply was already delivered.
func (p *Pipeline) persist(in chat.Incoming, ev *hooks.Event, reply string, meta generateMeta, latency time.Duration) {
	userMeta := map[string]any{}
	if ev.Intent != nil {
		userMeta["intent"] = string(ev.Intent.Intent)
	}
	if ev.HasAttachments {
		userMeta["attachments"] = len(ev.Attachments)
	}
	if err := p.cfg.Conv.Save(in.UserID, in.ThreadID, models.RoleUser, in.Text, userMeta); err != nil {
		p.logger.Error("failed to persist user turn", "error", err)
	}

	asstMeta := map[string]any{
		"provider":      meta.providerName,
		"model":         meta.model,
		"input_tokens":  meta.inputTokens,
		"output_tokens": meta.outputTokens,
		"latency_ms":    latency.Milliseconds(),
	}
	if meta.fellBack {
		asstMeta["provider_fallback"] = true
	}
	if meta.toolCalls > 0 {
		asstMeta["tool_calls"] = meta.toolCalls
	}
	if ev.Intent != nil {
		asstMeta["context_flags"] = map[string]any{
			"brain": ev.Intent.EnableBrain,
			"web":   ev.Intent.EnableWeb,
			"facts": ev.Intent.EnableFacts,
		}
	}
	if err := p.cfg.Conv.Save(in.UserID, in.ThreadID, models.RoleAssistant, reply, asstMeta); err != nil {
		p.logger.Error("failed to persist assistant turn", "error", err)
	}
}

func (p *Pipeline) post(ctx context.Context, in chat.Incoming, text string) error {
	_, err := p.cfg.Chat.PostMessage(ctx, in.ChannelID, in.ThreadID, text)
	return err
}

func (p *Pipeline) lockConversation(userID, threadID string) func() {
	key := userID + "\x00" + threadID
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (p *Pipeline) count(intent, status string) {
	if p.cfg.Metrics == nil {
		return
	}
	if intent == "" {
		intent = "unknown"
	}
	p.cfg.Metrics.MessagesTotal.WithLabelValues(intent, status).Inc()
}

func (p *Pipeline) countTool(r models.ToolResult) {
	if p.cfg.Metrics == nil {
		return
	}
	status := "success"
	if !r.Success {
		status = "error"
	}
	p.cfg.Metrics.ToolExecutionsTotal.WithLabelValues(r.ToolName, status).Inc()
}

func friendlyMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return friendlyTimeout
	}
	return friendlyBackendDown
}

func looksSaveable(text string) bool {
	lower := strings.ToLower(text)
	for _, pat := range saveablePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}
