package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/go-cmp/cmp"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"neoc", []string{"neoc/events", "neoc/availability", "neoc/input"}},
		{"home/neoc/", []string{"home/neoc/events", "home/neoc/availability", "home/neoc/input"}},
		{"", []string{"events", "availability", "input"}},
	}
	for _, tt := range tests {
		got := []string{EventsTopic(tt.prefix), AvailabilityTopic(tt.prefix), InputTopic(tt.prefix)}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("topics for %q mismatch (-want +got):\n%s", tt.prefix, diff)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := encodeEvent(events.Log(events.CategoryFlow, "thinking"), now)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]string{
		"type":      "log",
		"content":   "thinking",
		"category":  "flow",
		"timestamp": "2026-03-01T12:00:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	data, err = encodeEvent(events.Response("hi"), now)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if strings.Contains(string(data), "category") {
		t.Errorf("response payload %s carries a category", data)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		base, instance, want string
	}{
		{"neoc", "", "neoc"},
		{"neoc", "0190a4b2-7c1e-7def-8a12-3456789abcde", "neoc-789abcde"},
		{"neoc", "abc", "neoc-abc"},
	}
	for _, tt := range tests {
		if got := clientID(tt.base, tt.instance); got != tt.want {
			t.Errorf("clientID(%q, %q) = %q, want %q", tt.base, tt.instance, got, tt.want)
		}
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first != second {
		t.Errorf("instance id changed across loads: %q then %q", first, second)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("persisted %q, want %q", data, first)
	}
}

type recordingInput struct {
	mu    sync.Mutex
	items []string
}

func (r *recordingInput) Push(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, s)
}

func TestInputHandler(t *testing.T) {
	in := &recordingInput{}
	limiter := newMessageRateLimiter(2, time.Hour, discardLogger())
	h := inputHandler(in, limiter, discardLogger())

	h("neoc/input", []byte("  hello  "))
	h("neoc/input", []byte("   "))
	h("neoc/input", []byte("second"))
	h("neoc/input", []byte("over the limit"))

	if diff := cmp.Diff([]string{"hello", "second"}, in.items); diff != "" {
		t.Errorf("forwarded input mismatch (-want +got):\n%s", diff)
	}
	if limiter.dropped != 1 {
		t.Errorf("dropped = %d, want 1", limiter.dropped)
	}
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	limiter := newMessageRateLimiter(2, 10*time.Second, discardLogger())
	limiter.now = func() time.Time { return now }

	got := []bool{limiter.allow(), limiter.allow(), limiter.allow()}
	if diff := cmp.Diff([]bool{true, true, false}, got); diff != "" {
		t.Errorf("first window mismatch (-want +got):\n%s", diff)
	}

	now = now.Add(10 * time.Second)
	if !limiter.allow() {
		t.Error("first message of a new window rejected")
	}
	if limiter.dropped != 0 {
		t.Errorf("dropped = %d after rollover, want 0", limiter.dropped)
	}
}

type fakeClient struct {
	mu   sync.Mutex
	pubs []*paho.Publish
	err  error
}

func (f *fakeClient) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, p)
	return &paho.PublishResponse{}, f.err
}

func testPublisher() *Publisher {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: "neoc", ClientID: "neoc"}, "", nil, discardLogger())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return p
}

func TestMirror(t *testing.T) {
	p := testPublisher()
	client := &fakeClient{}
	sub := make(chan events.Event, 3)
	sub <- events.Log(events.CategoryConversation, "observed")
	sub <- events.Response("hello")
	close(sub)

	p.mirror(context.Background(), client, sub)

	if len(client.pubs) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.pubs))
	}
	for _, pub := range client.pubs {
		if pub.Topic != "neoc/events" {
			t.Errorf("topic = %q, want neoc/events", pub.Topic)
		}
		if pub.Retain {
			t.Error("event published as retained")
		}
	}
	var second events.Event
	if err := json.Unmarshal(client.pubs[1].Payload, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(events.Response("hello"), second); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestMirror_PublishErrorContinues(t *testing.T) {
	p := testPublisher()
	client := &fakeClient{err: errors.New("not connected")}
	sub := make(chan events.Event, 2)
	sub <- events.Response("one")
	sub <- events.Response("two")
	close(sub)

	p.mirror(context.Background(), client, sub)

	if len(client.pubs) != 2 {
		t.Errorf("attempted %d publishes, want 2", len(client.pubs))
	}
}

func TestMirror_StopsOnCancel(t *testing.T) {
	p := testPublisher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.mirror(ctx, &fakeClient{}, make(chan events.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not return after cancel")
	}
}

func TestPublishAvailability(t *testing.T) {
	p := testPublisher()
	client := &fakeClient{}
	p.publishAvailability(context.Background(), client, StatusOnline)

	if len(client.pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.pubs))
	}
	pub := client.pubs[0]
	if pub.Topic != "neoc/availability" || string(pub.Payload) != "online" || !pub.Retain || pub.QoS != 1 {
		t.Errorf("availability publish = %+v", pub)
	}
}

func TestStop_NotStarted(t *testing.T) {
	if err := testPublisher().Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
	if err := testPublisher().AwaitConnection(context.Background()); err == nil {
		t.Error("AwaitConnection() on unstarted publisher returned nil")
	}
}
