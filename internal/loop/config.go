package loop

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/neoc/internal/config"
)

// Config holds the parsed loop configuration with time.Duration fields
// (as opposed to the YAML string representation in [config.LoopConfig]).
type Config struct {
	InitialThought  string
	ThinkInterval   time.Duration
	PausePoll       time.Duration
	ShutdownKeyword string
	Logging         LogSettings
}

// ParseConfig converts a [config.LoopConfig] into a [Config]. Call after
// config validation has passed; unset logging flags take their
// defaults.
func ParseConfig(raw config.LoopConfig) (Config, error) {
	think, err := time.ParseDuration(raw.ThinkInterval)
	if err != nil {
		return Config{}, fmt.Errorf("think_interval %q: %w", raw.ThinkInterval, err)
	}
	poll, err := time.ParseDuration(raw.PausePoll)
	if err != nil {
		return Config{}, fmt.Errorf("pause_poll %q: %w", raw.PausePoll, err)
	}

	logging := DefaultLogSettings()
	if raw.Logging.Flow != nil {
		logging.Flow = *raw.Logging.Flow
	}
	if raw.Logging.Prompts != nil {
		logging.Prompts = *raw.Logging.Prompts
	}
	if raw.Logging.Conversation != nil {
		logging.Conversation = *raw.Logging.Conversation
	}

	return Config{
		InitialThought:  raw.InitialThought,
		ThinkInterval:   think,
		PausePoll:       poll,
		ShutdownKeyword: strings.TrimSpace(raw.ShutdownKeyword),
		Logging:         logging,
	}, nil
}
