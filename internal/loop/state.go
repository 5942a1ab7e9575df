package loop

import (
	"sort"
	"strings"

	"github.com/nugget/neoc/internal/events"
)

// State is the loop's run state.
type State int

const (
	// Thinking runs a think-step whenever the input queue is empty.
	Thinking State = iota
	// Paused handles input but runs no think-steps.
	Paused
	// Shutdown is terminal.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Thinking:
		return "thinking"
	case Paused:
		return "paused"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// LogSettings selects which log event categories reach the output
// channel. Responses are never filtered.
type LogSettings struct {
	Flow         bool `json:"flow"`
	Prompts      bool `json:"prompts"`
	Conversation bool `json:"conversation"`
}

// DefaultLogSettings returns flow and conversation on, prompts off.
func DefaultLogSettings() LogSettings {
	return LogSettings{Flow: true, Prompts: false, Conversation: true}
}

// Enabled reports whether events in category should be emitted.
func (s LogSettings) Enabled(category string) bool {
	switch category {
	case events.CategoryFlow:
		return s.Flow
	case events.CategoryPrompts:
		return s.Prompts
	case events.CategoryConversation:
		return s.Conversation
	}
	return false
}

// Merge applies the named entries of update and returns the names it
// did not recognize. Categories not named in update keep their value.
func (s *LogSettings) Merge(update map[string]bool) []string {
	var unknown []string
	for name, on := range update {
		switch name {
		case events.CategoryFlow:
			s.Flow = on
		case events.CategoryPrompts:
			s.Prompts = on
		case events.CategoryConversation:
			s.Conversation = on
		default:
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// String renders the settings as "flow=on prompts=off conversation=on".
func (s LogSettings) String() string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return strings.Join([]string{
		"flow=" + onOff(s.Flow),
		"prompts=" + onOff(s.Prompts),
		"conversation=" + onOff(s.Conversation),
	}, " ")
}

// Status is a point-in-time snapshot of the loop for hosts.
type Status struct {
	State       State       `json:"-"`
	StateName   string      `json:"state"`
	Thought     string      `json:"thought"`
	Ideas       int         `json:"ideas"`
	Transcript  int         `json:"transcript"`
	LogSettings LogSettings `json:"log_settings"`
}
