package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// EstimateTokens approximates token count as len(text)/4. Every token-budget
// decision in the service uses this same estimate.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateMessageTokens sums the estimate over a message slice.
func EstimateMessageTokens(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}

// SummarizeFunc asks an LLM for a completion of the given prompt. Injected so
// the summarizer has no provider dependency.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// DefaultKeepRecent is the number of trailing messages preserved verbatim.
const DefaultKeepRecent = 10

const summaryPrompt = `Summarize the following conversation in at most 500 words.
Preserve key decisions, facts the user shared, preferences, and any open tasks.

Conversation:
%s

Summary:`

// Summarizer folds old history into a system summary when the stored context
// exceeds a token budget.
type Summarizer struct {
	generate SummarizeFunc
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer backed by the given LLM call.
func NewSummarizer(generate SummarizeFunc, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{generate: generate, logger: logger.With("component", "summarizer")}
}

// Summarize returns messages reduced to fit maxTokens. The last keepRecent
// messages are always returned unchanged. Older history is replaced with a
// single system summary carrying metadata.type = "summary". A failed LLM call
// degrades to the recent messages alone; Summarize never returns an error.
func (s *Summarizer) Summarize(ctx context.Context, msgs []models.Message, maxTokens, keepRecent int) []models.Message {
	if maxTokens <= 0 || EstimateMessageTokens(msgs) <= maxTokens {
		return msgs
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}

	if len(msgs) <= keepRecent {
		return truncateHead(msgs, maxTokens)
	}

	old := msgs[:len(msgs)-keepRecent]
	recent := msgs[len(msgs)-keepRecent:]

	summary, err := s.summarizeOld(ctx, old)
	if err != nil {
		s.logger.Warn("summarization failed, dropping old history", "error", err, "dropped", len(old))
		return recent
	}

	head := models.Message{
		Role:      models.RoleSystem,
		Content:   "Summary of earlier conversation: " + summary,
		Timestamp: old[len(old)-1].Timestamp,
		Metadata: map[string]any{
			"type":                "summary",
			"summarized_messages": len(old),
		},
	}
	return append([]models.Message{head}, recent...)
}

func (s *Summarizer) summarizeOld(ctx context.Context, old []models.Message) (string, error) {
	if s.generate == nil {
		return "", fmt.Errorf("no summarize backend configured")
	}

	var b strings.Builder
	for _, m := range old {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	out, err := s.generate(ctx, fmt.Sprintf(summaryPrompt, b.String()))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty summary")
	}
	return out, nil
}

// truncateHead drops oldest messages until the estimate fits the budget.
// The newest message is always kept even if it alone exceeds the budget.
func truncateHead(msgs []models.Message, maxTokens int) []models.Message {
	total := EstimateMessageTokens(msgs)
	i := 0
	for i < len(msgs)-1 && total > maxTokens {
		total -= EstimateTokens(msgs[i].Content)
		i++
	}
	return msgs[i:]
}
