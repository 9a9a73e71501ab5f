package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, fastConfig(3))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	wantErr := errors.New("persistent failure")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	}, fastConfig(3))

	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	cfg := fastConfig(5)
	cfg.RetryIf = func(err error) bool {
		return !IsPermanent(err)
	}

	calls := 0
	permanent := Permanent(errors.New("bad request"))
	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, cfg)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		t.Fatal("operation must not run with cancelled context")
		return nil
	}, fastConfig(3))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo_ContextCancelledMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig(0) // без лимита попыток
	cfg.InitialDelay = 50 * time.Millisecond

	wantErr := errors.New("transient")
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, func() error { return wantErr }, cfg)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected last operation error, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	Do(context.Background(), func() error {
		return errors.New("fail")
	}, cfg)

	// 3 попытки = 2 retry callback'а
	if len(attempts) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected attempt numbers: %v", attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond}, // capped by MaxDelay
		{10, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}

	inner := errors.New("boom")
	perm := Permanent(inner)

	if !IsPermanent(perm) {
		t.Error("wrapped error must be permanent")
	}
	if IsPermanent(inner) {
		t.Error("plain error must not be permanent")
	}
	if !errors.Is(perm, inner) {
		t.Error("Unwrap must expose inner error")
	}
	if perm.Error() != "boom" {
		t.Errorf("Error() = %q, want boom", perm.Error())
	}
}

func TestRetryIfNotContext(t *testing.T) {
	if RetryIfNotContext(context.Canceled) {
		t.Error("context.Canceled must not be retried")
	}
	if RetryIfNotContext(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded must not be retried")
	}
	if !RetryIfNotContext(errors.New("io error")) {
		t.Error("ordinary error must be retried")
	}
}
