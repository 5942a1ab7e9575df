package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/nugget/neoc/internal/command"
	"github.com/nugget/neoc/internal/events"
)

const consoleHelp = `Type a message to talk to NeoC. Console commands:
  /pause                        toggle pause
  /log flow=on prompts=off ...  switch log categories (flow, prompts, conversation)
  /quit                         stop the loop
  /help                         show this help`

// errConsoleHelp is returned by translateLine for /help.
var errConsoleHelp = errors.New("help requested")

// translateLine maps one console line to the message pushed onto the
// loop's input queue. Lines that do not start with "/" pass through
// untouched.
func translateLine(line, keyword string) (string, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return line, nil
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/pause":
		return encodeCommand(command.TogglePause, nil)
	case "/log":
		if len(fields) == 1 {
			return "", fmt.Errorf("usage: /log flow=on prompts=off conversation=on")
		}
		cfg := make(map[string]bool, len(fields)-1)
		for _, f := range fields[1:] {
			name, value, ok := strings.Cut(f, "=")
			if !ok || name == "" {
				return "", fmt.Errorf("expected name=on|off, got %q", f)
			}
			b, err := parseSwitch(value)
			if err != nil {
				return "", fmt.Errorf("%s: %w", name, err)
			}
			cfg[name] = b
		}
		return encodeCommand(command.SetLogging, cfg)
	case "/quit", "/exit":
		return keyword, nil
	case "/help":
		return "", errConsoleHelp
	default:
		return "", fmt.Errorf("unknown console command %s (try /help)", fields[0])
	}
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func encodeCommand(name string, cfg map[string]bool) (string, error) {
	msg := map[string]any{"command": name}
	if cfg != nil {
		msg["config"] = cfg
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// formatEvent renders an output event for the console.
func formatEvent(e events.Event) string {
	if e.Type == events.TypeResponse {
		return "NeoC: " + e.Content
	}
	return "[" + e.Category + "] " + e.Content
}

// runChat runs the loop with stdin as the input channel and stdout as
// the output channel. Logs go to stderr so they do not interleave with
// the conversation. The command returns after the shutdown keyword,
// end of input, or a signal.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	logger.Info("config loaded", "path", cfgPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	return chat(ctx, rt, stdin, stdout, logger)
}

// chat attaches the console host to rt and blocks until the loop exits.
func chat(ctx context.Context, rt *runtime, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	var outMu sync.Mutex
	say := func(s string) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(stdout, s)
	}

	sub := rt.bus.Subscribe(256)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sub {
			say(formatEvent(e))
		}
	}()

	hostCtx, stopHost := context.WithCancel(ctx)
	defer stopHost()

	pumped := rt.start(hostCtx, logger)

	say(consoleHelp)

	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			msg, err := translateLine(scanner.Text(), rt.keyword)
			switch {
			case errors.Is(err, errConsoleHelp):
				say(consoleHelp)
				continue
			case err != nil:
				say("! " + err.Error())
				continue
			}
			rt.input.Push(msg)
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("console read failed", "error", err)
		}
		// End of input stops the loop the same way /quit does.
		rt.input.Push(rt.keyword)
	}()

	select {
	case <-rt.loop.Done():
	case <-ctx.Done():
		rt.loop.Stop()
	}

	stopHost()
	<-pumped
	rt.bus.Unsubscribe(sub)
	<-printed
	return nil
}
