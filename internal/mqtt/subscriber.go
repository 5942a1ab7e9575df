package mqtt

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Input receives stimuli read from the input topic.
type Input interface {
	Push(string)
}

// MessageHandler is called for each MQTT message received on a
// subscribed topic. Implementations must be safe for concurrent use.
type MessageHandler func(topic string, payload []byte)

// inputHandler returns a [MessageHandler] that forwards each payload
// to in as a stimulus. Blank payloads and messages over the rate limit
// are dropped.
func inputHandler(in Input, limiter *messageRateLimiter, logger *slog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		text := strings.TrimSpace(string(payload))
		if text == "" {
			logger.Debug("mqtt blank input ignored", "topic", topic)
			return
		}
		if limiter != nil && !limiter.allow() {
			return
		}
		logger.Debug("mqtt input received",
			"topic", topic,
			"payload_size", len(payload),
		)
		in.Push(text)
	}
}

// messageRateLimiter admits at most limit messages per fixed window.
// Drops are counted and reported once when the window rolls over.
type messageRateLimiter struct {
	limit  int
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	start   time.Time
	count   int
	dropped int
}

func newMessageRateLimiter(limit int, window time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// allow reports whether one more message fits in the current window.
func (r *messageRateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.start) >= r.window {
		if r.dropped > 0 {
			r.logger.Warn("mqtt input dropped due to rate limit",
				"received", r.count,
				"dropped", r.dropped,
				"window", r.window.String(),
				"limit", r.limit,
			)
		}
		r.start, r.count, r.dropped = now, 0, 0
	}

	r.count++
	if r.count > r.limit {
		r.dropped++
		return false
	}
	return true
}
