// Package composer assembles the message list handed to the provider from
// identity, facts, history, and retrieved context, under a token budget.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/earchibald/home-brain-sub000/internal/brain"
	"github.com/earchibald/home-brain-sub000/internal/conversation"
	"github.com/earchibald/home-brain-sub000/internal/facts"
	"github.com/earchibald/home-brain-sub000/internal/hooks"
	"github.com/earchibald/home-brain-sub000/internal/websearch"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

const (
	// DefaultBudget is the overall prompt token budget.
	DefaultBudget = 6000

	// minQueryLen gates brain search: shorter messages rarely retrieve
	// anything useful.
	minQueryLen = 10

	// brainScoreThreshold filters low-relevance hits; if filtering would
	// empty the list the single top hit is kept.
	brainScoreThreshold = 0.7

	// contextReserve is held back from the history budget for the
	// retrieved-context turn.
	contextReserve = 1500

	factsLimit = 20
)

// BrainSearcher is the slice of the notes client the composer needs.
type BrainSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]brain.Result, error)
}

// Composer builds provider requests. Any of the retrieval backends may be
// nil; the corresponding context source is simply skipped.
type Composer struct {
	facts      *facts.Store
	conv       *conversation.Manager
	summarizer *conversation.Summarizer
	brain      BrainSearcher
	web        websearch.Provider
	budget     int
	logger     *slog.Logger
}

// New creates a composer with the given budget (DefaultBudget when <= 0).
func New(factsStore *facts.Store, conv *conversation.Manager, summarizer *conversation.Summarizer,
	brainClient BrainSearcher, webProvider websearch.Provider, budget int, logger *slog.Logger) *Composer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		facts:      factsStore,
		conv:       conv,
		summarizer: summarizer,
		brain:      brainClient,
		web:        webProvider,
		budget:     budget,
		logger:     logger.With("component", "composer"),
	}
}

// Input is everything Compose needs for one turn.
type Input struct {
	Event *hooks.Event
	// AttachmentText is the extracted content of any attachments, already
	// concatenated.
	AttachmentText string
	// ShimToolPrelude is the in-prompt tool description block for providers
	// without native function calling; empty otherwise.
	ShimToolPrelude string
}

// Output is the composed request material.
type Output struct {
	System   string
	Messages []models.Message
}

// Compose builds the system prompt and message list for one inbound turn.
func (c *Composer) Compose(ctx context.Context, in Input) Output {
	ev := in.Event
	intent := ev.Intent
	if intent == nil {
		cls := hooks.ClassifyIntent(ev.Text)
		intent = &cls
	}

	system := c.buildSystem(ev, intent, in.ShimToolPrelude)

	history := c.conv.Load(ev.UserID, ev.ThreadID)
	historyBudget := c.budget - conversation.EstimateTokens(system) - contextReserve
	history = c.summarizer.Summarize(ctx, history, historyBudget, conversation.DefaultKeepRecent)

	msgs := make([]models.Message, 0, len(history)+2)
	msgs = append(msgs, history...)

	if aux := c.retrievedContext(ctx, ev, intent); aux != "" {
		msgs = append(msgs, models.Message{
			Role:      models.RoleSystem,
			Content:   aux,
			Timestamp: time.Now(),
		})
	}

	userText := ev.Text
	if in.AttachmentText != "" {
		userText = fmt.Sprintf("[Attached file content]\n%s\n\n%s", in.AttachmentText, ev.Text)
	}
	msgs = append(msgs, models.Message{
		Role:      models.RoleUser,
		Content:   userText,
		Timestamp: ev.Timestamp,
	})

	return Output{System: system, Messages: msgs}
}

func (c *Composer) buildSystem(ev *hooks.Event, intent *models.IntentClassification, shimPrelude string) string {
	var b strings.Builder

	b.WriteString("You are a personal assistant chatting with ")
	b.WriteString(ev.UserID)
	b.WriteString(" over direct messages. Be concise and helpful.\n")

	if c.facts != nil && intent.EnableFacts && hooks.MentionsPersonalContext(ev.Text) {
		if factCtx := c.facts.ContextString(ev.UserID, factsLimit); factCtx != "" {
			b.WriteString("\n")
			b.WriteString(factCtx)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nToday is ")
	b.WriteString(time.Now().Format("2006-01-02"))
	b.WriteString(".\n")

	if shimPrelude != "" {
		b.WriteString("\n")
		b.WriteString(shimPrelude)
		b.WriteString("\n\nTo use a tool, reply with exactly one marker:\n")
		b.WriteString(`<tool_call>{"tool": "<name>", "arguments": {...}}</tool_call>`)
		b.WriteString("\nAfter the tool result arrives, answer the user in plain text.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// retrievedContext gathers brain, web, and past-conversation context into one
// auxiliary block placed just before the user turn.
func (c *Composer) retrievedContext(ctx context.Context, ev *hooks.Event, intent *models.IntentClassification) string {
	var sections []string

	if c.brain != nil && intent.EnableBrain && len(ev.Text) >= minQueryLen && !ev.HasAttachments {
		if s := c.brainContext(ctx, ev.Text); s != "" {
			sections = append(sections, s)
		}
	}
	if c.web != nil && intent.EnableWeb && !ev.HasAttachments {
		if s := c.webContext(ctx, ev.Text); s != "" {
			sections = append(sections, s)
		}
	}
	if s := c.pastContext(ev.Text, ev.UserID, ev.ThreadID); s != "" {
		sections = append(sections, s)
	}

	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}

func (c *Composer) brainContext(ctx context.Context, query string) string {
	results, err := c.brain.Search(ctx, query, 5)
	if err != nil {
		c.logger.Warn("brain search failed, composing without it", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	kept := results[:0:0]
	for _, r := range results {
		if r.Score >= brainScoreThreshold {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		kept = results[:1]
	}

	var b strings.Builder
	b.WriteString("Relevant notes from the user's knowledge base:\n")
	var files []string
	for _, r := range kept {
		fmt.Fprintf(&b, "- [%s] %s\n", r.File, r.Entry)
		files = append(files, r.File)
	}

	if tracker := hooks.TrackerFrom(ctx); tracker != nil {
		tracker.Record(models.SourceRecord{
			ToolName: "brain_search",
			Success:  true,
			Sources:  files,
		})
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Composer) webContext(ctx context.Context, query string) string {
	results, err := c.web.Search(ctx, query, 5)
	if err != nil {
		c.logger.Warn("web search failed, composing without it", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Fresh web results:\n")
	var hosts []string
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
		hosts = append(hosts, r.SourceDomain)
	}

	if tracker := hooks.TrackerFrom(ctx); tracker != nil {
		tracker.Record(models.SourceRecord{
			ToolName: "web_search",
			Success:  true,
			Sources:  hosts,
		})
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Composer) pastContext(query, userID, threadID string) string {
	hits := c.conv.SearchPast(query, userID, 2)
	if len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("From past conversations:\n")
	for _, h := range hits {
		if h.ThreadID == threadID {
			continue
		}
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", clipText(h.Question, 200), clipText(h.Answer, 300))
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "From past conversations:" {
		return ""
	}
	return out
}

// clipText truncates on a rune boundary at or before max bytes.
func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
