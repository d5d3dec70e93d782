package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockBus struct {
	publishFunc func(ctx context.Context, key string) error
	*InMemoryBus
}

func (m *mockBus) Publish(ctx context.Context, key string) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, key)
	}
	return m.InMemoryBus.Publish(ctx, key)
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	threshold := 2
	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(mb, threshold, timeout)

	ctx := context.Background()
	failErr := errors.New("fail")

	if !cb.IsHealthy() {
		t.Fatal("expected healthy initially")
	}

	mb.publishFunc = func(ctx context.Context, key string) error { return failErr }
	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after 1 failure (threshold 2)")
	}

	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected unhealthy/open after threshold reached")
	}
	if cb.State() != "open" {
		t.Fatalf("expected open state, got %s", cb.State())
	}
	if err := cb.Publish(ctx, "key"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(timeout + 10*time.Millisecond)

	if !cb.IsHealthy() {
		t.Fatal("expected healthy (time passed)")
	}

	mb.publishFunc = func(ctx context.Context, key string) error { return nil }
	if err := cb.Publish(ctx, "key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after success")
	}
	if cb.State() != "closed" {
		t.Fatalf("expected closed state, got %s", cb.State())
	}
	if cb.failures != 0 {
		t.Fatalf("expected failures=0, got %d", cb.failures)
	}

	mb.publishFunc = func(ctx context.Context, key string) error { return failErr }
	_ = cb.Publish(ctx, "key")
	_ = cb.Publish(ctx, "key")
	if cb.IsHealthy() {
		t.Fatal("expected open")
	}

	time.Sleep(timeout + 10*time.Millisecond)
	if err := cb.Publish(ctx, "key"); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected open after half-open failure")
	}
	if err := cb.Publish(ctx, "key"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_Passthrough(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	cb := NewCircuitBreaker(mb, 5, time.Minute)

	ctx := context.Background()
	if err := cb.Publish(ctx, "foo"); err != nil {
		t.Fatal(err)
	}

	sub, _ := mb.InMemoryBus.Subscribe(ctx, UnlockTopic("foo"))
	go func() {
		_ = cb.Publish(ctx, UnlockTopic("foo"))
	}()
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on underlying bus")
	}
}

func TestCircuitBreaker_ReleaseNotificationSkippedWhileOpen(t *testing.T) {
	calls := 0
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	mb.publishFunc = func(ctx context.Context, key string) error {
		calls++
		return errors.New("broker down")
	}
	cb := NewCircuitBreaker(mb, 1, time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = cb.Publish(ctx, UnlockTopic("k"))
	}
	if calls != 1 {
		t.Fatalf("expected the underlying bus to be called once, got %d", calls)
	}
}
