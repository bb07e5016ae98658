package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/chat"
	"github.com/earchibald/home-brain-sub000/internal/composer"
	"github.com/earchibald/home-brain-sub000/internal/conversation"
	"github.com/earchibald/home-brain-sub000/internal/facts"
	"github.com/earchibald/home-brain-sub000/internal/hooks"
	"github.com/earchibald/home-brain-sub000/internal/provider"
	"github.com/earchibald/home-brain-sub000/internal/tools"
	"github.com/earchibald/home-brain-sub000/internal/websearch"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

type postedMessage struct {
	ChannelID string
	ThreadID  string
	Text      string
	ID        string
}

type fakeChat struct {
	mu       sync.Mutex
	posted   []postedMessage
	deleted  []string
	files    map[string][]byte
	events  chan chat.Incoming
	postErr error
	nextID  int
}

func newFakeChat() *fakeChat {
	return &fakeChat{events: make(chan chat.Incoming, 10), files: map[string][]byte{}}
}

func (f *fakeChat) Start(ctx context.Context) error { return nil }
func (f *fakeChat) Stop(ctx context.Context) error  { close(f.events); return nil }
func (f *fakeChat) Events() <-chan chat.Incoming    { return f.events }

func (f *fakeChat) PostMessage(ctx context.Context, channelID, threadID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.posted = append(f.posted, postedMessage{channelID, threadID, text, id})
	return id, nil
}

func (f *fakeChat) DeleteMessage(ctx context.Context, channelID, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msgID)
	return nil
}

func (f *fakeChat) DownloadFile(ctx context.Context, att models.Attachment) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[att.ID]
	if !ok {
		return nil, fmt.Errorf("no such file %s", att.ID)
	}
	return data, nil
}

// replies returns posted messages that are not the working indicator.
func (f *fakeChat) replies() []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []postedMessage
	for _, m := range f.posted {
		if m.Text != workingIndicator {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeChat) indicatorDeleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.posted {
		if m.Text != workingIndicator {
			continue
		}
		found := false
		for _, d := range f.deleted {
			if d == m.ID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type stubProvider struct {
	name     string
	tools    bool
	generate func(ctx context.Context, req *provider.Request) (*provider.Response, error)

	mu       sync.Mutex
	requests []*provider.Request
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) SupportsTools() bool { return s.tools }

func (s *stubProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.generate(ctx, req)
}

func (s *stubProvider) HealthCheck(ctx context.Context) error { return nil }
func (s *stubProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"stub"}, nil
}

type stubWeb struct {
	mu      sync.Mutex
	calls   int
	results []websearch.Result
}

func (s *stubWeb) Search(ctx context.Context, query string, limit int) ([]websearch.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.results, nil
}

func (s *stubWeb) Name() string { return "stub" }

type fixture struct {
	chat     *fakeChat
	pipeline *Pipeline
	conv     *conversation.Manager
	facts    *facts.Store
	registry *tools.Registry
	web      *stubWeb
	dir      string
}

func newFixture(t *testing.T, prov *stubProvider) *fixture {
	t.Helper()
	dir := t.TempDir()

	fc := newFakeChat()
	fs := facts.NewStore(dir, nil)
	conv := conversation.NewManager(dir, nil, nil)
	sum := conversation.NewSummarizer(nil, nil)
	web := &stubWeb{results: []websearch.Result{
		{Title: "AI news", URL: "https://news.example.com/ai", Snippet: "much happened", SourceDomain: "news.example.com"},
	}}

	registry := tools.NewRegistry(tools.NewUserState(dir, nil), nil)
	tools.RegisterWebSearchTool(registry, web)
	executor := tools.NewExecutor(registry, nil)

	comp := composer.New(fs, conv, sum, nil, web, 0, nil)

	hp := hooks.NewPipeline(nil)
	hp.RegisterPre("intent", hooks.IntentClassifier())
	hp.RegisterPost("citations", hooks.CitationDecorator())

	router := provider.NewRouter(prov, nil, nil, nil)

	p := New(Config{
		Chat:     fc,
		Hooks:    hp,
		Composer: comp,
		Router:   router,
		Executor: executor,
		Registry: registry,
		Conv:     conv,
	})

	return &fixture{chat: fc, pipeline: p, conv: conv, facts: fs, registry: registry, web: web, dir: dir}
}

func incoming(eventID, text string) chat.Incoming {
	return chat.Incoming{
		EventID:   eventID,
		UserID:    "u1",
		ChannelID: "D1",
		ThreadID:  "t1",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestProcess_Greeting(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: "Hey there!", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("e1", "Hello"))

	replies := f.chat.replies()
	if len(replies) != 1 || replies[0].Text == "" {
		t.Fatalf("expected one non-empty reply, got %+v", replies)
	}
	if f.web.calls != 0 {
		t.Error("greeting must not trigger web search")
	}
	if !f.chat.indicatorDeleted() {
		t.Error("working indicator must be deleted")
	}

	msgs := f.conv.Load("u1", "t1")
	if len(msgs) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(msgs))
	}
	if msgs[1].Metadata["model"] != "stub" {
		t.Errorf("assistant metadata missing model: %+v", msgs[1].Metadata)
	}
}

func TestProcess_FactsInjected(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		if strings.Contains(req.System, "oat milk flat white") {
			return &provider.Response{Text: "You like an oat milk flat white.", Model: "stub"}, nil
		}
		return &provider.Response{Text: "I don't know.", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)
	f.facts.Store("u1", "coffee", "oat milk flat white", "preferences")

	f.pipeline.Process(context.Background(), incoming("e1", "what do you know about my coffee?"))

	replies := f.chat.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "oat milk flat white") {
		t.Fatalf("facts not injected into system prompt: %+v", replies)
	}
}

func TestProcess_ResearchGetsWebCitations(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: "Lots happened in AI.", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("e1", "what's the latest news about AI today?"))

	replies := f.chat.replies()
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replies))
	}
	if f.web.calls == 0 {
		t.Error("research intent must trigger web search")
	}
	if !strings.Contains(replies[0].Text, "🌐 Web: news.example.com") {
		t.Errorf("missing web citation footer:\n%s", replies[0].Text)
	}
}

func TestProcess_ShimToolLoop(t *testing.T) {
	var round int
	prov := &stubProvider{name: "stub", tools: false, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		round++
		if round == 1 {
			return &provider.Response{
				Text:  `<tool_call>{"tool":"web_search","arguments":{"query":"cat"}}</tool_call>`,
				Model: "stub",
			}, nil
		}
		return &provider.Response{Text: "Cats are great.", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("e1", "tell me about cats please"))

	if f.web.calls == 0 {
		t.Error("shim loop must execute web_search")
	}
	replies := f.chat.replies()
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replies))
	}
	if strings.Contains(replies[0].Text, "<tool_call>") {
		t.Errorf("raw marker leaked into reply:\n%s", replies[0].Text)
	}
	if !strings.Contains(replies[0].Text, "Cats are great.") {
		t.Errorf("final text missing:\n%s", replies[0].Text)
	}
}

func TestProcess_NativeToolLoop(t *testing.T) {
	var reg = func(f *fixture) {
		f.registry.Register(tools.Tool{
			Name:        "lookup",
			Description: "look things up",
			Category:    models.ToolBuiltin,
			Execute: func(ctx context.Context, userID string, args map[string]any) (string, error) {
				return "42", nil
			},
		})
	}

	var calls int
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		calls++
		if calls == 1 {
			return &provider.Response{
				ToolCalls: []models.ToolCall{{Name: "lookup", Arguments: map[string]any{}}},
				Model:     "stub",
			}, nil
		}
		return &provider.Response{Text: "The answer is 42.", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)
	reg(f)

	f.pipeline.Process(context.Background(), incoming("e1", "run the lookup for me please"))

	if calls != 2 {
		t.Fatalf("expected 2 generation rounds, got %d", calls)
	}
	second := prov.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "[Tool result] lookup: 42") {
			found = true
		}
	}
	if !found {
		t.Error("tool result must be folded into the next round")
	}

	msgs := f.conv.Load("u1", "t1")
	if len(msgs) != 2 {
		t.Fatalf("expected persisted turns, got %d", len(msgs))
	}
	if msgs[1].Metadata["tool_calls"] != float64(1) && msgs[1].Metadata["tool_calls"] != 1 {
		t.Errorf("tool_calls metadata = %v", msgs[1].Metadata["tool_calls"])
	}
}

func TestProcess_DuplicateEventDropped(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: "once", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("same-event", "hello"))
	f.pipeline.Process(context.Background(), incoming("same-event", "hello"))

	if got := len(f.chat.replies()); got != 1 {
		t.Errorf("duplicate event must be dropped, got %d replies", got)
	}
}

func TestProcess_ProviderFailureIsFriendly(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("e1", "hello"))

	replies := f.chat.replies()
	if len(replies) != 1 || replies[0].Text != friendlyBackendDown {
		t.Fatalf("expected friendly backend message, got %+v", replies)
	}
	if !f.chat.indicatorDeleted() {
		t.Error("indicator must be deleted on failure too")
	}
}

func TestProcess_CorruptConversationFileRecovers(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: "fresh start", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	path := filepath.Join(f.dir, "users", "u1", "conversations", "t1.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.pipeline.Process(context.Background(), incoming("e1", "hello"))

	if got := len(f.chat.replies()); got != 1 {
		t.Fatalf("expected a reply despite corrupt history, got %d", got)
	}
	msgs := f.conv.Load("u1", "t1")
	if len(msgs) != 2 {
		t.Errorf("expected fresh turns after corruption, got %d", len(msgs))
	}
}

func TestProcess_AttachmentExtracted(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		if strings.Contains(last.Content, "quarterly numbers") {
			return &provider.Response{Text: "Summarized the report.", Model: "stub"}, nil
		}
		return &provider.Response{Text: "no attachment seen", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)
	f.chat.files["F1"] = []byte("quarterly numbers look strong")

	in := incoming("e1", "summarize this")
	in.Attachments = []models.Attachment{{ID: "F1", Filename: "report.txt", MimeType: "text/plain"}}
	f.pipeline.Process(context.Background(), in)

	replies := f.chat.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "Summarized the report.") {
		t.Fatalf("attachment content did not reach the provider: %+v", replies)
	}
}

func TestProcess_SaveableHint(t *testing.T) {
	prov := &stubProvider{name: "stub", tools: true, generate: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: "Nice workflow.", Model: "stub"}, nil
	}}
	f := newFixture(t, prov)

	f.pipeline.Process(context.Background(), incoming("e1", "I use spaced repetition for language learning"))

	replies := f.chat.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "note to self") {
		t.Errorf("expected save affordance on saveable exchange:\n%+v", replies)
	}
}

func TestDeduper_TTLExpiry(t *testing.T) {
	d := NewDeduper(time.Minute)
	base := time.Now()
	d.now = func() time.Time { return base }

	if d.Seen("e1") {
		t.Error("first sighting must not be a duplicate")
	}
	if !d.Seen("e1") {
		t.Error("second sighting must be a duplicate")
	}

	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	if d.Seen("e1") {
		t.Error("expired entry must be forgotten")
	}
}

func TestLooksSaveable(t *testing.T) {
	cases := map[string]bool{
		"I use vim for everything":      true,
		"my strategy is to buy and hold": true,
		"what's the weather like":        false,
	}
	for text, want := range cases {
		if got := looksSaveable(text); got != want {
			t.Errorf("looksSaveable(%q) = %v, want %v", text, got, want)
		}
	}
}
