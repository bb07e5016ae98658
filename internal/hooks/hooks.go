// Package hooks runs ordered pre- and post-processing over inbound messages
// and outbound replies.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// Event is the mutable envelope pre-hooks operate on.
type Event struct {
	UserID         string
	ThreadID       string
	Text           string
	HasAttachments bool
	Attachments    []models.Attachment
	Timestamp      time.Time

	// Intent is filled in by the intent classifier hook.
	Intent *models.IntentClassification

	// Data carries anything else hooks want to hand downstream.
	Data map[string]any
}

// PreFunc may mutate the event in place.
type PreFunc func(ctx context.Context, ev *Event) error

// PostFunc transforms a candidate reply. Returning ok=false keeps the input.
type PostFunc func(ctx context.Context, ev *Event, reply string) (string, bool, error)

type preHook struct {
	name string
	fn   PreFunc
}

type postHook struct {
	name string
	fn   PostFunc
}

// Pipeline holds registered hooks and runs them in registration order. A
// hook that errors or panics is logged and skipped; for post-hooks the reply
// from the previous stage is preserved.
type Pipeline struct {
	logger *slog.Logger

	mu   sync.RWMutex
	pre  []preHook
	post []postHook
}

// NewPipeline creates an empty hook pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger.With("component", "hooks")}
}

// RegisterPre appends a pre-process hook.
func (p *Pipeline) RegisterPre(name string, fn PreFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pre = append(p.pre, preHook{name: name, fn: fn})
}

// RegisterPost appends a post-process hook.
func (p *Pipeline) RegisterPost(name string, fn PostFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.post = append(p.post, postHook{name: name, fn: fn})
}

// RunPre executes every pre-hook against the event.
func (p *Pipeline) RunPre(ctx context.Context, ev *Event) {
	p.mu.RLock()
	pre := p.pre
	p.mu.RUnlock()

	for _, h := range pre {
		if err := p.safePre(ctx, h, ev); err != nil {
			p.logger.Warn("pre-hook failed, skipping", "hook", h.name, "error", err)
		}
	}
}

// RunPost chains every post-hook over the reply and returns the final text.
func (p *Pipeline) RunPost(ctx context.Context, ev *Event, reply string) string {
	p.mu.RLock()
	post := p.post
	p.mu.RUnlock()

	for _, h := range post {
		out, ok, err := p.safePost(ctx, h, ev, reply)
		if err != nil {
			p.logger.Warn("post-hook failed, keeping previous reply", "hook", h.name, "error", err)
			continue
		}
		if ok {
			reply = out
		}
	}
	return reply
}

func (p *Pipeline) safePre(ctx context.Context, h preHook, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.fn(ctx, ev)
}

func (p *Pipeline) safePost(ctx context.Context, h postHook, ev *Event, reply string) (out string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = "", false
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.fn(ctx, ev, reply)
}
