package event

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"audiobrowser/internal/metrics"
)

func receiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receiving")
		}
		return value
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	sub := bus.Subscribe()
	defer sub.Cancel()

	if err := bus.Publish(42); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := receiveWithTimeout(t, sub.C, 100*time.Millisecond); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	sub.Cancel()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus[string](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	first := bus.Subscribe()
	second := bus.Subscribe()
	defer first.Cancel()
	defer second.Cancel()

	if err := bus.Publish("ep1.mp3"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := receiveWithTimeout(t, first.C, 100*time.Millisecond); got != "ep1.mp3" {
		t.Fatalf("first subscriber got %q", got)
	}
	if got := receiveWithTimeout(t, second.C, 100*time.Millisecond); got != "ep1.mp3" {
		t.Fatalf("second subscriber got %q", got)
	}
}

func TestBusDoesNotReplayToLateSubscribers(t *testing.T) {
	bus := NewBus[string](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	early := bus.Subscribe()
	defer early.Cancel()
	if err := bus.Publish("before"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	late := bus.Subscribe()
	defer late.Cancel()
	if err := bus.Publish("after"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := receiveWithTimeout(t, late.C, 100*time.Millisecond); got != "after" {
		t.Fatalf("late subscriber expected after, got %q", got)
	}
	select {
	case got := <-late.C:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	if err := bus.Publish(1); !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("expected ErrNoSubscribers, got %v", err)
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	sub := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
	sub.Cancel()

	if err := bus.Publish(1); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Fatal("expected subscription on closed bus to be closed")
	}
}

func TestBusClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})
	sub := bus.Subscribe()

	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to close after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusDropOnFullReportsMissed(t *testing.T) {
	registry := metrics.NewRegistry()
	bus := NewBus[string](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	sub := bus.Subscribe()
	defer sub.Cancel()

	_ = bus.Publish("first")

	done := make(chan struct{})
	go func() {
		_ = bus.Publish("second")
		_ = bus.Publish("third")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on a full subscriber")
	}

	if got := receiveWithTimeout(t, sub.C, 100*time.Millisecond); got != "first" {
		t.Fatalf("expected first event, got %q", got)
	}
	if missed := sub.Missed(); missed != 2 {
		t.Fatalf("expected 2 missed events, got %d", missed)
	}
	if missed := sub.Missed(); missed != 0 {
		t.Fatalf("expected missed counter to reset, got %d", missed)
	}

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()
	if !strings.Contains(body, `audiobrowser_events_published_total{bus="drop"} 3`) {
		t.Fatalf("expected published metrics, got %q", body)
	}
	if !strings.Contains(body, `audiobrowser_events_dropped_total{bus="drop"} 2`) {
		t.Fatalf("expected dropped metrics, got %q", body)
	}
}

func TestBusSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{SubscriberBufferSize: 1})
	t.Cleanup(bus.Close)

	slow := bus.Subscribe()
	defer slow.Cancel()
	fast := bus.Subscribe()
	defer fast.Cancel()

	for i := 1; i <= 3; i++ {
		_ = bus.Publish(i)
		if got := receiveWithTimeout(t, fast.C, 100*time.Millisecond); got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
	if missed := fast.Missed(); missed != 0 {
		t.Fatalf("fast subscriber missed %d events", missed)
	}
	if missed := slow.Missed(); missed != 2 {
		t.Fatalf("expected slow subscriber to miss 2, got %d", missed)
	}
}

func TestBusConcurrentCancelAndPublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{SubscriberBufferSize: 4})
	t.Cleanup(bus.Close)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe()
			for j := 0; j < 10; j++ {
				_ = bus.Publish(j)
			}
			sub.Cancel()
			sub.Cancel()
		}()
	}
	wg.Wait()

	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected all subscribers removed, got %d", bus.SubscriberCount())
	}
}
