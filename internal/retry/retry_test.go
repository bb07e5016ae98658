package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterFailure(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(res.Err, sentinel) {
		t.Errorf("error chain lost sentinel: %v", res.Err)
	}
	if !IsPermanent(res.Err) {
		t.Error("IsPermanent should hold for the returned error")
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errors.New("still down")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Err == nil {
		t.Error("expected final error")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	res := Do(ctx, Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errors.New("never reached")
	})
	if calls != 0 {
		t.Errorf("op ran %d times under cancelled context", calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
