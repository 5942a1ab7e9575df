// Package command classifies inbound channel messages as control
// commands or conversational stimuli.
package command

import "encoding/json"

// Command names understood by the loop.
const (
	TogglePause = "toggle_pause"
	SetLogging  = "set_logging"
)

// Command is a decoded control message.
type Command struct {
	Name string
	// Config holds the boolean entries of the message's "config" object.
	// Non-boolean entries are dropped.
	Config map[string]bool
}

// Classify reports whether message is a control command. A message is a
// command only if it decodes as a JSON object with a "command" key;
// anything else is a stimulus and should be handled as literal text.
func Classify(message string) (Command, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(message), &obj); err != nil || obj == nil {
		return Command{}, false
	}
	raw, ok := obj["command"]
	if !ok {
		return Command{}, false
	}

	var cmd Command
	// A non-string command value still marks the message as a command;
	// it simply has no recognizable name.
	_ = json.Unmarshal(raw, &cmd.Name)

	if rawCfg, ok := obj["config"]; ok {
		var cfg map[string]any
		if err := json.Unmarshal(rawCfg, &cfg); err == nil {
			for k, v := range cfg {
				if b, ok := v.(bool); ok {
					if cmd.Config == nil {
						cmd.Config = make(map[string]bool)
					}
					cmd.Config[k] = b
				}
			}
		}
	}
	return cmd, true
}
