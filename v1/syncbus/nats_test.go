package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

// natsURL returns WARD_TEST_NATS_ADDR or the address of an embedded server
// that lives for the duration of the test.
func natsURL(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("WARD_TEST_NATS_ADDR"); addr != "" {
		return addr
	}
	s := natsserver.RunRandClientPortServer()
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func dialNATS(t *testing.T, url string) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect %s: %v", url, err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSBusWakesWaiterOnAnotherInstance(t *testing.T) {
	url := natsURL(t)
	releaser := NewNATSBus(dialNATS(t, url))
	waiter := NewNATSBus(dialNATS(t, url))
	ctx := context.Background()

	ch, err := waiter.Subscribe(ctx, UnlockTopic("report:build:3"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := releaser.Publish(ctx, UnlockTopic("report:build:3")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !woken(ch, time.Second) {
		t.Fatal("waiter on the other connection was not woken")
	}
	if got := releaser.Metrics().Published; got != 1 {
		t.Fatalf("releaser published %d, want 1", got)
	}
	if got := waiter.Metrics().Delivered; got != 1 {
		t.Fatalf("waiter delivered %d, want 1", got)
	}
}

func TestNATSBusSharesOneSubjectPerTopic(t *testing.T) {
	bus := NewNATSBus(dialNATS(t, natsURL(t)))
	topic := UnlockTopic("k")

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	a, err := bus.Subscribe(ctxA, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe(ctxB, topic); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.mu.Lock()
	subs, waiters := len(bus.subs), len(bus.subs[topic].chans)
	bus.mu.Unlock()
	if subs != 1 || waiters != 2 {
		t.Fatalf("expected 1 subject with 2 waiters, got %d/%d", subs, waiters)
	}

	cancelA()
	if _, ok := <-a; ok {
		t.Fatal("cancelled waiter received a notification")
	}
	bus.mu.Lock()
	_, kept := bus.subs[topic]
	bus.mu.Unlock()
	if !kept {
		t.Fatal("subject dropped while a waiter is still subscribed")
	}

	cancelB()
	deadline := time.Now().Add(time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subject not released after the last waiter left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNATSBusSkipsNotificationInFlight(t *testing.T) {
	bus := NewNATSBus(dialNATS(t, natsURL(t)))
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, UnlockTopic("k"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.mu.Lock()
	bus.pending[UnlockTopic("k")] = struct{}{}
	bus.mu.Unlock()

	if err := bus.Publish(ctx, UnlockTopic("k")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if woken(ch, 100*time.Millisecond) {
		t.Fatal("duplicate notification delivered")
	}
	if got := bus.Metrics().Published; got != 0 {
		t.Fatalf("published %d, want 0", got)
	}
}

func TestNATSBusSubjectPrefix(t *testing.T) {
	conn := dialNATS(t, natsURL(t))
	bus := NewNATSBus(conn, WithSubjectPrefix("admissions."))

	raw := make(chan *nats.Msg, 1)
	sub, err := conn.ChanSubscribe("admissions.unlock:k", raw)
	if err != nil {
		t.Fatalf("raw subscribe: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	if err := conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := bus.Publish(context.Background(), UnlockTopic("k")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-raw:
	case <-time.After(time.Second):
		t.Fatal("message not published on the prefixed subject")
	}
}
