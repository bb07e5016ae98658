package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

func msgOfTokens(role models.Role, tokens int) models.Message {
	return models.Message{Role: role, Content: strings.Repeat("x", tokens*4)}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestSummarize_UnderBudgetUntouched(t *testing.T) {
	s := NewSummarizer(nil, nil)
	msgs := []models.Message{msgOfTokens(models.RoleUser, 10)}

	out := s.Summarize(context.Background(), msgs, 100, 5)
	if len(out) != 1 || out[0].Content != msgs[0].Content {
		t.Errorf("expected untouched messages, got %+v", out)
	}
}

func TestSummarize_OldHistoryFoldedIntoSummary(t *testing.T) {
	called := false
	s := NewSummarizer(func(ctx context.Context, prompt string) (string, error) {
		called = true
		if !strings.Contains(prompt, "old turn 0") {
			t.Error("expected old history in summary prompt")
		}
		return "they discussed old turns", nil
	}, nil)

	var msgs []models.Message
	for i := 0; i < 20; i++ {
		m := msgOfTokens(models.RoleUser, 50)
		m.Content = fmt.Sprintf("old turn %d %s", i, m.Content)
		msgs = append(msgs, m)
	}

	out := s.Summarize(context.Background(), msgs, 100, 5)
	if !called {
		t.Fatal("expected LLM summary call")
	}
	if len(out) != 6 {
		t.Fatalf("expected summary + 5 recent, got %d", len(out))
	}
	if out[0].Role != models.RoleSystem {
		t.Errorf("expected system summary head, got %v", out[0].Role)
	}
	if out[0].Metadata["type"] != "summary" {
		t.Errorf("expected summary metadata, got %+v", out[0].Metadata)
	}
	if out[0].Metadata["summarized_messages"] != 15 {
		t.Errorf("expected 15 summarized, got %v", out[0].Metadata["summarized_messages"])
	}

	// The recent tail is preserved verbatim.
	for i, m := range out[1:] {
		if m.Content != msgs[15+i].Content {
			t.Errorf("recent message %d altered", i)
		}
	}
}

func TestSummarize_LLMFailureDegradesToRecent(t *testing.T) {
	s := NewSummarizer(func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("model offline")
	}, nil)

	var msgs []models.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, msgOfTokens(models.RoleUser, 50))
	}

	out := s.Summarize(context.Background(), msgs, 100, 5)
	if len(out) != 5 {
		t.Fatalf("expected 5 recent messages on failure, got %d", len(out))
	}
	for _, m := range out {
		if m.Role == models.RoleSystem {
			t.Error("unexpected summary message after LLM failure")
		}
	}
}

func TestSummarize_FewMessagesTruncatesHead(t *testing.T) {
	s := NewSummarizer(func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("LLM must not be called when count <= keepRecent")
		return "", nil
	}, nil)

	msgs := []models.Message{
		msgOfTokens(models.RoleUser, 80),
		msgOfTokens(models.RoleAssistant, 80),
		msgOfTokens(models.RoleUser, 80),
	}

	out := s.Summarize(context.Background(), msgs, 100, 5)
	if len(out) != 1 {
		t.Fatalf("expected head truncation down to 1 message, got %d", len(out))
	}
	if out[0].Content != msgs[2].Content {
		t.Error("expected the newest message to survive")
	}
}
