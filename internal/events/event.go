// Package events carries the observations and replies the thinking
// loop emits. The loop pushes [Event] values into a [Sink] (normally a
// mailbox queue); the host drains that queue with [Pump] and fans the
// events out through a [Bus] to its subscribers: the console printer,
// WebSocket clients, and the MQTT mirror.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	// TypeLog is an internal observation: flow tracing, prompts, or a
	// note about the conversation.
	TypeLog = "log"
	// TypeResponse is a conversational reply meant for the user.
	TypeResponse = "response"
)

// Log categories. Each is switched on and off at runtime by the
// set_logging command.
const (
	CategoryFlow         = "flow"
	CategoryPrompts      = "prompts"
	CategoryConversation = "conversation"
)

// Event is a single output event. Category is empty for responses.
type Event struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// Log returns a log event in category.
func Log(category, content string) Event {
	return Event{Type: TypeLog, Content: content, Category: category}
}

// Response returns a response event.
func Response(content string) Event {
	return Event{Type: TypeResponse, Content: content}
}

// Sink receives events from the loop. Push must not block.
type Sink interface {
	Push(Event)
}

// Source is the drained side of a Sink.
type Source interface {
	Drain() []Event
}

// DefaultPumpInterval is how often hosts drain the output queue.
const DefaultPumpInterval = 100 * time.Millisecond

// Pump drains src every interval and publishes each event to bus,
// in order, until ctx is done. A final drain runs before returning so
// events pushed just before shutdown are not lost.
func Pump(ctx context.Context, src Source, bus *Bus, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPumpInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() {
		for _, e := range src.Drain() {
			bus.Publish(e)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}
