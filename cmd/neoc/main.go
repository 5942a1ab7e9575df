// NeoC is an autonomous thinking loop. Three reasoning roles (ego,
// conscious, subconscious) take turns on a shared thought, and messages
// from a console or network client interrupt the loop as stimuli.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	neoc chat               Run the loop with a console host on stdin/stdout
//	neoc serve              Run the loop behind the WebSocket and MQTT hosts
//	neoc init [dir]         Initialize a working directory with defaults
//	neoc version            Print version and build information
//	neoc -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/neoc/internal/buildinfo"
	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/directives"
	"github.com/nugget/neoc/internal/events"
	"github.com/nugget/neoc/internal/llm"
	"github.com/nugget/neoc/internal/loop"
	"github.com/nugget/neoc/internal/mailbox"
	"github.com/nugget/neoc/internal/memory"
	"github.com/nugget/neoc/internal/opstate"
	"github.com/nugget/neoc/internal/roles"
	"github.com/nugget/neoc/internal/usage"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and the process
// globals out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the neoc command. Arguments are
// parsed by hand so that tests can call run concurrently without the
// flag package's global state.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "NeoC - Autonomous Thinking Loop")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: neoc [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Run the loop with a console host")
	fmt.Fprintln(w, "  serve        Run the loop behind the WebSocket and MQTT hosts")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/neoc/config.yaml, /etc/neoc/config.yaml")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// configuredLogger returns a logger at the config's level and format.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// Already checked by config.Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}

// createLLMClient builds a multi-provider client. Each role's model is
// mapped to its provider; models not mapped fall through to Ollama.
// The second result holds the providers some role actually uses, keyed
// by provider name, for health watching.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, map[string]llm.Client, error) {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	providers := map[string]llm.Client{"ollama": ollamaClient}

	if cfg.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
		logger.Info("Anthropic provider configured")
	}
	if cfg.Gemini.Configured() {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Gemini.APIKey, logger)
		if err != nil {
			return nil, nil, err
		}
		providers["gemini"] = gemini
		logger.Info("Gemini provider configured")
	}
	for name, c := range providers {
		multi.AddProvider(name, c)
	}

	used := make(map[string]llm.Client)
	for _, name := range config.Roles {
		rc := cfg.Roles[name]
		multi.AddModel(rc.Model, rc.Provider)
		if c, ok := providers[rc.Provider]; ok {
			used[rc.Provider] = c
		}
		logger.Info("role model configured", "role", name, "model", rc.Model, "provider", rc.Provider)
	}

	return multi, used, nil
}

// runtime is a fully wired thinking loop with its queues, stores, and
// output bus. Hosts attach to it.
type runtime struct {
	loop       *loop.Loop
	input      *mailbox.Queue[string]
	output     *mailbox.Queue[events.Event]
	bus        *events.Bus
	memory     *memory.SQLiteStore
	state      *opstate.Store
	usage      *usage.Store
	directives *directives.Loader
	providers  map[string]llm.Client
	keyword    string
}

// Close releases the stores.
func (rt *runtime) Close() error {
	var errs []error
	for _, c := range []io.Closer{rt.memory, rt.state, rt.usage} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildRuntime wires the loop from configuration. All persistent state
// lives under cfg.DataDir.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	loopCfg, err := loop.ParseConfig(cfg.Loop)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	client, providers, err := createLLMClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	memPath := filepath.Join(cfg.DataDir, "memory.db")
	mem, err := memory.NewSQLiteStore(memPath)
	if err != nil {
		return nil, fmt.Errorf("open memory database %s: %w", memPath, err)
	}
	logger.Info("memory database opened", "path", memPath)

	statePath := filepath.Join(cfg.DataDir, "state.db")
	state, err := opstate.NewStore(statePath)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("open state database %s: %w", statePath, err)
	}

	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	usageStore, err := usage.NewStore(usagePath)
	if err != nil {
		mem.Close()
		state.Close()
		return nil, fmt.Errorf("open usage database %s: %w", usagePath, err)
	}

	invoker := roles.NewInvoker(client, cfg.Roles, logger)
	invoker.SetRecorder(usageStore)

	rt := &runtime{
		input:      mailbox.New[string](),
		output:     mailbox.New[events.Event](),
		bus:        events.NewBus(),
		memory:     mem,
		state:      state,
		usage:      usageStore,
		directives: directives.NewLoader(cfg.DirectivesDir, logger),
		providers:  providers,
		keyword:    loopCfg.ShutdownKeyword,
	}
	rt.loop = loop.New(loopCfg, loop.Deps{
		Invoker:    invoker,
		Directives: rt.directives,
		Input:      rt.input,
		Output:     rt.output,
		Memory:     mem,
		State:      state,
		Logger:     logger,
	})
	return rt, nil
}

// start launches the directive watcher, the output pump, and the loop.
// The returned channel closes once the pump has made its final flush
// after ctx ends.
func (rt *runtime) start(ctx context.Context, logger *slog.Logger) <-chan struct{} {
	go func() {
		if err := rt.directives.Watch(ctx); err != nil {
			logger.Warn("directive watcher stopped", "error", err)
		}
	}()

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		events.Pump(ctx, rt.output, rt.bus, events.DefaultPumpInterval)
	}()

	// A second Start is a no-op.
	_ = rt.loop.Start(ctx)
	return pumped
}
