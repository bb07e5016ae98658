// Package supervisor keeps long-running components alive, restarting them
// with linear backoff and notifying the operator when one fails permanently.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/notify"
)

const (
	// baseDelay is multiplied by the restart count for linear backoff.
	baseDelay = 5 * time.Second

	// maxRestarts before a component is declared permanently failed.
	maxRestarts = 5
)

// RunFunc is one supervised component. It should block until ctx is
// cancelled (clean exit) or an unrecoverable error occurs.
type RunFunc func(ctx context.Context) error

type component struct {
	name string
	run  RunFunc
}

// Supervisor restarts crashed components up to maxRestarts times, sleeping
// baseDelay * restart_count between attempts.
type Supervisor struct {
	logger   *slog.Logger
	notifier notify.Notifier

	base time.Duration
	max  int

	mu         sync.Mutex
	components []component
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a supervisor. A nil notifier disables notifications.
func New(notifier notify.Notifier, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Supervisor{
		logger:   logger.With("component", "supervisor"),
		notifier: notifier,
		base:     baseDelay,
		max:      maxRestarts,
		sleep:    sleepCtx,
	}
}

// Add registers a component to supervise. Must be called before Run.
func (s *Supervisor) Add(name string, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, component{name: name, run: run})
}

// Run supervises all registered components until ctx is cancelled or any
// component fails permanently. Returns nil on clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	comps := make([]component, len(s.components))
	copy(comps, s.components)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(comps))
	var wg sync.WaitGroup
	for _, c := range comps {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			errCh <- s.supervise(ctx, c)
		}(c)
	}

	var firstErr error
	for range comps {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	wg.Wait()
	return firstErr
}

// supervise runs one component's restart loop.
func (s *Supervisor) supervise(ctx context.Context, c component) error {
	logger := s.logger.With("supervised", c.name)

	for restarts := 0; ; restarts++ {
		err := s.runOnce(ctx, c, logger)
		if ctx.Err() != nil {
			logger.Info("stopped")
			return nil
		}
		if err == nil {
			logger.Info("exited cleanly")
			return nil
		}

		if restarts >= s.max {
			logger.Error("permanently failed", "restarts", restarts, "error", err)
			if nerr := s.notifier.Notify(context.WithoutCancel(ctx),
				"homebrain component down",
				fmt.Sprintf("%s failed permanently after %d restarts: %v", c.name, restarts, err),
				notify.PriorityUrgent); nerr != nil {
				logger.Warn("failed to send notification", "error", nerr)
			}
			return fmt.Errorf("%s: permanently failed: %w", c.name, err)
		}

		delay := s.base * time.Duration(restarts+1)
		logger.Warn("crashed, restarting", "error", err, "restart", restarts+1, "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// runOnce runs the component, converting panics into errors so a panicking
// component is restarted like a crashed one.
func (s *Supervisor) runOnce(ctx context.Context, c component, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.run(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
