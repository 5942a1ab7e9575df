// Package config handles NeoC configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/neoc/config.yaml, /etc/neoc/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "neoc", "config.yaml"))
	}

	paths = append(paths, "/etc/neoc/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Role names. These are also the directive file stems.
const (
	RoleEgo          = "ego"
	RoleConscious    = "conscious"
	RoleSubconscious = "subconscious"
)

// Roles lists the three reasoning roles in invocation order.
var Roles = []string{RoleEgo, RoleConscious, RoleSubconscious}

// Config holds all NeoC configuration.
type Config struct {
	Listen        ListenConfig          `yaml:"listen"`
	Models        ModelsConfig          `yaml:"models"`
	Anthropic     AnthropicConfig       `yaml:"anthropic"`
	Gemini        GeminiConfig          `yaml:"gemini"`
	Roles         map[string]RoleConfig `yaml:"roles"`
	Loop          LoopConfig            `yaml:"loop"`
	MQTT          MQTTConfig            `yaml:"mqtt"`
	DataDir       string                `yaml:"data_dir"`
	DirectivesDir string                `yaml:"directives_dir"`
	LogLevel      string                `yaml:"log_level"`
	LogFormat     string                `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the WebSocket host settings used by "neoc serve".
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines provider endpoints shared by all roles.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an Anthropic API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Gemini API key is present.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// RoleConfig holds per-role generation settings. Each role may run on a
// different model and provider.
type RoleConfig struct {
	Model       string   `yaml:"model"`
	Provider    string   `yaml:"provider"` // ollama, anthropic, gemini
	Temperature *float64 `yaml:"temperature"` // nil uses the role default
	MaxTokens   int      `yaml:"max_tokens"`
}

// LoopConfig holds the thinking loop settings. Durations are strings
// parsed by loop.ParseConfig.
type LoopConfig struct {
	InitialThought  string        `yaml:"initial_thought"`
	ThinkInterval   string        `yaml:"think_interval"`
	PausePoll       string        `yaml:"pause_poll"`
	ShutdownKeyword string        `yaml:"shutdown_keyword"`
	Logging         LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds the initial emission categories for log events
// sent to the output channel. Pointers distinguish "unset" from false.
type LoggingConfig struct {
	Flow         *bool `yaml:"flow"`
	Prompts      *bool `yaml:"prompts"`
	Conversation *bool `yaml:"conversation"`
}

// MQTTConfig defines the optional MQTT event mirror.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker URL is present.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and defaults are applied to
// any field left empty.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration: all three roles on a local
// Ollama model, a ten second think interval, and the WebSocket host on
// port 8090.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills every unset field with its default value.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8090
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.Roles == nil {
		c.Roles = make(map[string]RoleConfig)
	}
	roleDefaults := map[string]RoleConfig{
		RoleEgo:          {Model: "qwen3:4b", Provider: "ollama", Temperature: floatPtr(0.4), MaxTokens: 512},
		RoleConscious:    {Model: "qwen3:4b", Provider: "ollama", Temperature: floatPtr(0.8), MaxTokens: 1024},
		RoleSubconscious: {Model: "qwen3:4b", Provider: "ollama", Temperature: floatPtr(1.0), MaxTokens: 512},
	}
	for _, name := range Roles {
		rc := c.Roles[name]
		def := roleDefaults[name]
		if rc.Model == "" {
			rc.Model = def.Model
		}
		if rc.Provider == "" {
			rc.Provider = def.Provider
		}
		if rc.Temperature == nil {
			rc.Temperature = def.Temperature
		}
		if rc.MaxTokens == 0 {
			rc.MaxTokens = def.MaxTokens
		}
		c.Roles[name] = rc
	}

	if c.Loop.InitialThought == "" {
		c.Loop.InitialThought = "What is the best way to work out the sides of an equilateral triangle?"
	}
	if c.Loop.ThinkInterval == "" {
		c.Loop.ThinkInterval = "10s"
	}
	if c.Loop.PausePoll == "" {
		c.Loop.PausePoll = "500ms"
	}
	if c.Loop.ShutdownKeyword == "" {
		c.Loop.ShutdownKeyword = "shutdown"
	}
	if c.Loop.Logging.Flow == nil {
		c.Loop.Logging.Flow = boolPtr(true)
	}
	if c.Loop.Logging.Prompts == nil {
		c.Loop.Logging.Prompts = boolPtr(false)
	}
	if c.Loop.Logging.Conversation == nil {
		c.Loop.Logging.Conversation = boolPtr(true)
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "neoc"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "neoc"
	}
}

// Validate checks the configuration for values that would fail at
// runtime. Call after applyDefaults.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q: expected text or json", c.LogFormat)
	}
	for _, field := range []struct{ name, value string }{
		{"loop.think_interval", c.Loop.ThinkInterval},
		{"loop.pause_poll", c.Loop.PausePoll},
	} {
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return fmt.Errorf("%s %q: %w", field.name, field.value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s %q: must not be negative", field.name, field.value)
		}
	}
	if strings.TrimSpace(c.Loop.ShutdownKeyword) == "" {
		return fmt.Errorf("loop.shutdown_keyword must not be blank")
	}
	for name, rc := range c.Roles {
		switch rc.Provider {
		case "ollama":
		case "anthropic":
			if !c.Anthropic.Configured() {
				return fmt.Errorf("roles.%s uses provider anthropic but anthropic.api_key is empty", name)
			}
		case "gemini":
			if !c.Gemini.Configured() {
				return fmt.Errorf("roles.%s uses provider gemini but gemini.api_key is empty", name)
			}
		default:
			return fmt.Errorf("roles.%s: unknown provider %q (valid: ollama, anthropic, gemini)", name, rc.Provider)
		}
		if rc.MaxTokens < 0 {
			return fmt.Errorf("roles.%s: max_tokens must not be negative", name)
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }
