package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/notify"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, title, message string, p notify.Priority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, title+": "+message)
	return nil
}

func newTestSupervisor(n notify.Notifier) *Supervisor {
	s := New(n, nil)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func TestRun_CleanExit(t *testing.T) {
	s := newTestSupervisor(nil)
	var ran atomic.Int32
	s.Add("worker", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("clean exit must not error: %v", err)
	}
	if ran.Load() != 1 {
		t.Errorf("component ran %d times", ran.Load())
	}
}

func TestRun_RestartsThenPermanentFailure(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSupervisor(n)

	var runs atomic.Int32
	s.Add("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return fmt.Errorf("boom")
	})

	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "permanently failed") {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	// Initial run plus maxRestarts retries.
	if got := runs.Load(); got != int32(maxRestarts)+1 {
		t.Errorf("runs = %d, want %d", got, maxRestarts+1)
	}
	if len(n.messages) != 1 || !strings.Contains(n.messages[0], "flaky") {
		t.Errorf("expected one notification naming the component: %v", n.messages)
	}
}

func TestRun_PanicIsRestarted(t *testing.T) {
	s := newTestSupervisor(&recordingNotifier{})
	var runs atomic.Int32
	s.Add("panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("unexpected state")
		}
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("recovered component must finish cleanly: %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestRun_CancellationStopsComponents(t *testing.T) {
	s := newTestSupervisor(nil)
	started := make(chan struct{})
	s.Add("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancelled run must return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}

func TestRun_OneFailureCancelsSiblings(t *testing.T) {
	s := newTestSupervisor(&recordingNotifier{})

	siblingStopped := make(chan struct{})
	s.Add("healthy", func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingStopped)
		return ctx.Err()
	})
	s.Add("doomed", func(ctx context.Context) error {
		return fmt.Errorf("fatal")
	})

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error from doomed component")
	}
	select {
	case <-siblingStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling was not cancelled")
	}
}
