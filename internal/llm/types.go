package llm

import (
	"log/slog"
	"time"
)

// LevelTrace matches config.LevelTrace; provider payloads log at this level.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is one provider reply, already converted from the
// provider's wire format. Token counts feed the usage store.
type ChatResponse struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int

	// Duration is the provider-reported generation time, when known.
	Duration time.Duration
}
