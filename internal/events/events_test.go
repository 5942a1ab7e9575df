package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEventJSON(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Log(CategoryFlow, "invoking ego"), `{"type":"log","content":"invoking ego","category":"flow"}`},
		{Response("hello"), `{"type":"response","content":"hello"}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tt.event, b, tt.want)
		}
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(Response("ignored"))
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := NewBus()
	const n = 3
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	want := Log(CategoryConversation, "observed")
	b.Publish(want)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got != want {
				t.Errorf("subscriber %d: got %+v, want %+v", i, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Response("first"))
	b.Publish(Response("second"))

	if got := <-ch; got.Content != "first" {
		t.Errorf("got %q, want %q", got.Content, "first")
	}
	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got %+v", evt)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(8)
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", b.SubscriberCount())
	}

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

// sliceSource is a goroutine-safe Source for pump tests.
type sliceSource struct {
	mu     sync.Mutex
	events []Event
}

func (s *sliceSource) Push(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *sliceSource) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func TestPump(t *testing.T) {
	src := &sliceSource{}
	bus := NewBus()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Pump(ctx, src, bus, 5*time.Millisecond)
		close(done)
	}()

	src.Push(Log(CategoryFlow, "one"))
	src.Push(Response("two"))

	var got []string
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e.Content)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if diff := cmp.Diff([]string{"one", "two"}, got); diff != "" {
		t.Errorf("pump order mismatch (-want +got):\n%s", diff)
	}

	src.Push(Response("late"))
	cancel()
	<-done

	select {
	case e := <-ch:
		if e.Content != "late" {
			t.Errorf("final drain published %q, want %q", e.Content, "late")
		}
	default:
		t.Error("Pump should flush queued events before returning")
	}
}

func TestSinkInterface(t *testing.T) {
	var _ Sink = (*sliceSource)(nil)
}
