// Package loop implements NeoC's thinking loop: a single goroutine that
// cycles the ego, conscious, and subconscious roles to evolve a current
// thought, while staying responsive to control commands and
// conversational stimuli arriving on its input queue.
//
// All loop-owned state (thought, pause flag, log settings, idea queue,
// transcript) is touched only by the loop goroutine. The input and
// output queues are the only synchronized boundary with the host.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/neoc/internal/command"
	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/events"
	"github.com/nugget/neoc/internal/extract"
	"github.com/nugget/neoc/internal/memory"
	"github.com/nugget/neoc/internal/prompts"
	"github.com/nugget/neoc/internal/roles"
)

// Opstate namespace and keys used to persist loop state.
const (
	stateNamespace    = "loop"
	keyThought        = "thought"
	keyLogSettings    = "log_settings"
	maxLoggedRawBytes = 512
)

// ErrAlreadyStarted is returned by [Loop.Run] when the loop has already
// been started.
var ErrAlreadyStarted = errors.New("loop already started")

// Invoker sends a composed prompt to a role. Satisfied by *roles.Invoker.
type Invoker interface {
	Invoke(ctx context.Context, role, prompt string) (string, error)
}

// DirectiveSource returns the directive text for a role. Satisfied by
// *directives.Loader.
type DirectiveSource interface {
	Load(role string) string
}

// Input is the loop's side of the input queue. Satisfied by
// *mailbox.Queue[string].
type Input interface {
	TryPop() (string, bool)
}

// MemoryStore records long-term memories. Satisfied by
// *memory.SQLiteStore.
type MemoryStore interface {
	Append(ctx context.Context, content, kind string) (memory.Record, error)
}

// StateStore persists loop state across restarts. Satisfied by
// *opstate.Store.
type StateStore interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
	GetJSON(ctx context.Context, namespace, key string, v any) (bool, error)
	SetJSON(ctx context.Context, namespace, key string, v any) error
}

// Deps holds injected dependencies for the loop. Memory and State are
// optional.
type Deps struct {
	Invoker    Invoker
	Directives DirectiveSource
	Input      Input
	Output     events.Sink
	Memory     MemoryStore
	State      StateStore
	Logger     *slog.Logger
}

// Loop is the thinking loop. Create with [New], then either call
// [Loop.Run] on a goroutine of your choosing or [Loop.Start] to have it
// spawn one.
type Loop struct {
	config Config
	deps   Deps
	logger *slog.Logger

	// Owned by the loop goroutine.
	thought     string
	paused      bool
	logSettings LogSettings
	ideas       memory.IdeaQueue
	transcript  memory.Transcript

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
}

// New creates a loop. Nothing runs until [Loop.Run] or [Loop.Start].
func New(cfg Config, deps Deps) *Loop {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Output == nil {
		deps.Output = discardSink{}
	}
	if cfg.ShutdownKeyword == "" {
		cfg.ShutdownKeyword = "shutdown"
	}
	l := &Loop{
		config:      cfg,
		deps:        deps,
		logger:      deps.Logger.With("component", "loop"),
		thought:     cfg.InitialThought,
		logSettings: cfg.Logging,
		done:        make(chan struct{}),
	}
	l.status = Status{State: Thinking, StateName: Thinking.String(), Thought: l.thought, LogSettings: l.logSettings}
	return l
}

// Start launches the loop on its own goroutine. Calling Start on a loop
// that is running or has already shut down is a no-op. The goroutine
// runs until the shutdown keyword arrives, ctx is cancelled, or
// [Loop.Stop] is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}
	l.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		if err := l.run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("thinking loop exited", "error", err)
		}
	}()
	return nil
}

// Run runs the loop on the calling goroutine and returns nil when the
// shutdown keyword is received, or the context error if ctx ends first.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	return l.run(ctx)
}

// Stop cancels a loop launched with [Loop.Start] and waits for it to
// exit. Safe to call multiple times or before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	started := l.started
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-l.done
	}
}

// Done returns a channel closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Status returns a snapshot of the loop. Safe to call from any
// goroutine.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// run is the main loop body.
func (l *Loop) run(ctx context.Context) error {
	defer close(l.done)

	l.restore(ctx)
	l.logger.Info("thinking loop started",
		"think_interval", l.config.ThinkInterval,
		"pause_poll", l.config.PausePoll,
		"log_settings", l.logSettings.String(),
	)
	l.emit(events.CategoryFlow, "Thinking loop started.")

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("thinking loop stopped")
			return err
		}

		if msg, ok := l.deps.Input.TryPop(); ok {
			if l.handleMessage(ctx, msg) {
				return nil
			}
			continue
		}

		if l.paused {
			if !sleepCtx(ctx, l.config.PausePoll) {
				l.logger.Info("thinking loop stopped")
				return ctx.Err()
			}
			continue
		}

		start := time.Now()
		l.thinkStep(ctx)
		l.logger.Debug("think-step complete",
			"elapsed", time.Since(start).Round(time.Millisecond),
			"ideas", l.ideas.Len(),
		)

		if !sleepCtx(ctx, l.config.ThinkInterval) {
			l.logger.Info("thinking loop stopped")
			return ctx.Err()
		}
	}
}

// handleMessage routes one input message. It reports true when the
// message was the shutdown keyword.
func (l *Loop) handleMessage(ctx context.Context, msg string) bool {
	if cmd, ok := command.Classify(msg); ok {
		l.apply(ctx, cmd)
		return false
	}

	text := strings.TrimSpace(msg)
	if strings.EqualFold(text, l.config.ShutdownKeyword) {
		l.setState(Shutdown)
		l.logger.Info("shutdown keyword received")
		l.deps.Output.Push(events.Log(events.CategoryFlow, "Shutdown requested. The thinking loop has stopped."))
		return true
	}
	if text == "" {
		l.logger.Debug("ignoring blank message")
		return false
	}

	l.converse(ctx, text)
	l.setThought(ctx, prompts.ResumeThought)
	return false
}

// apply executes a control command.
func (l *Loop) apply(ctx context.Context, cmd command.Command) {
	switch cmd.Name {
	case command.TogglePause:
		l.paused = !l.paused
		if l.paused {
			l.setState(Paused)
			l.logger.Info("thinking loop paused")
			l.emit(events.CategoryFlow, "Thinking paused.")
		} else {
			l.setState(Thinking)
			l.logger.Info("thinking loop resumed")
			l.emit(events.CategoryFlow, "Thinking resumed.")
		}

	case command.SetLogging:
		unknown := l.logSettings.Merge(cmd.Config)
		if len(unknown) > 0 {
			l.logger.Warn("ignoring unknown log categories", "categories", unknown)
		}
		l.mu.Lock()
		l.status.LogSettings = l.logSettings
		l.mu.Unlock()
		if l.deps.State != nil {
			if err := l.deps.State.SetJSON(ctx, stateNamespace, keyLogSettings, l.logSettings); err != nil {
				l.logger.Warn("failed to persist log settings", "error", err)
			}
		}
		l.logger.Info("log settings updated", "log_settings", l.logSettings.String())
		l.emit(events.CategoryFlow, "Log settings: "+l.logSettings.String())

	default:
		l.logger.Warn("ignoring unknown command", "command", cmd.Name)
	}
}

// thinkStep runs one ego → conscious → subconscious cycle.
func (l *Loop) thinkStep(ctx context.Context) {
	mission := prompts.FallbackMission
	if res, ok := l.ask(ctx, config.RoleEgo, "", prompts.NextStepMission(l.thought), false); ok {
		mission = res.Content()
		if mission == "" {
			mission = prompts.DefaultNextMission
		}
	}

	if res, ok := l.ask(ctx, config.RoleConscious, l.thought, mission, true); ok && res.Content() != "" {
		l.setThought(ctx, res.Content())
		l.emit(events.CategoryFlow, "New thought: "+l.thought)
	} else {
		l.emit(events.CategoryFlow, "The conscious role produced no new thought; keeping the previous one.")
	}

	res, ok := l.ask(ctx, config.RoleSubconscious, "", prompts.AnalyzeMission(l.thought), false)
	if ok && res.Action() == prompts.ActionGenerateIdea && res.Content() != "" {
		idea := res.Content()
		l.ideas.Push(idea)
		l.mu.Lock()
		l.status.Ideas = l.ideas.Len()
		l.mu.Unlock()
		l.remember(ctx, idea, memory.KindIdea)
		l.emit(events.CategoryFlow, "Idea queued: "+idea)
	}
}

// ask builds the prompt for role, invokes it, and decodes the reply.
// When consumesIdea is set, at most one queued idea is popped into the
// prompt. It reports false on invocation or extraction failure; the
// returned Response is never nil.
func (l *Loop) ask(ctx context.Context, role, promptContext, mission string, consumesIdea bool) (extract.Response, bool) {
	var idea string
	var withIdea bool
	if consumesIdea {
		if idea, withIdea = l.ideas.Pop(); withIdea {
			l.mu.Lock()
			l.status.Ideas = l.ideas.Len()
			l.mu.Unlock()
			l.emit(events.CategoryFlow, "Injecting idea: "+idea)
		}
	}

	prompt := prompts.Compose(l.deps.Directives.Load(role), promptContext, idea, mission, withIdea)
	l.logger.Log(ctx, config.LevelTrace, "prompt", "role", role, "prompt", prompt)
	l.emit(events.CategoryPrompts, fmt.Sprintf("Prompt for %s:\n%s", role, prompt))
	l.emit(events.CategoryFlow, fmt.Sprintf("Invoking %s.", role))

	raw, err := l.deps.Invoker.Invoke(ctx, role, prompt)
	if err != nil {
		l.logger.Warn("role invocation failed", "role", role, "error", err)
		l.emit(events.CategoryFlow, roles.Text("", err))
		return extract.Response{}, false
	}

	res := extract.Parse(raw)
	if !res.OK {
		l.logger.Warn("no JSON object in role output", "role", role, "output", truncate(raw, maxLoggedRawBytes))
		l.emit(events.CategoryFlow, fmt.Sprintf("Could not extract JSON from %s output.", role))
		return res.Response, false
	}
	l.emit(events.CategoryFlow, fmt.Sprintf("Extracted JSON from %s: %s", role, res.Extracted))
	return res.Response, true
}

// emit pushes a log event if its category is enabled.
func (l *Loop) emit(category, content string) {
	if !l.logSettings.Enabled(category) {
		return
	}
	l.deps.Output.Push(events.Log(category, content))
}

// remember appends to long-term memory. Failures are logged and
// otherwise ignored.
func (l *Loop) remember(ctx context.Context, content, kind string) {
	if l.deps.Memory == nil {
		return
	}
	if _, err := l.deps.Memory.Append(ctx, content, kind); err != nil {
		l.logger.Warn("failed to record memory", "kind", kind, "error", err)
	}
}

func (l *Loop) setThought(ctx context.Context, thought string) {
	l.thought = thought
	l.mu.Lock()
	l.status.Thought = thought
	l.mu.Unlock()

	if l.deps.State != nil {
		if err := l.deps.State.Set(ctx, stateNamespace, keyThought, thought); err != nil {
			l.logger.Warn("failed to persist thought", "error", err)
		}
	}
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.status.State = s
	l.status.StateName = s.String()
	l.mu.Unlock()
}

// restore loads the thought and log settings saved by a previous run.
func (l *Loop) restore(ctx context.Context) {
	if l.deps.State == nil {
		return
	}

	if thought, err := l.deps.State.Get(ctx, stateNamespace, keyThought); err != nil {
		l.logger.Warn("failed to restore thought", "error", err)
	} else if thought != "" {
		l.thought = thought
		l.logger.Info("restored thought from previous run")
	}

	var saved LogSettings
	if found, err := l.deps.State.GetJSON(ctx, stateNamespace, keyLogSettings, &saved); err != nil {
		l.logger.Warn("failed to restore log settings", "error", err)
	} else if found {
		l.logSettings = saved
	}

	l.mu.Lock()
	l.status.Thought = l.thought
	l.status.LogSettings = l.logSettings
	l.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

type discardSink struct{}

func (discardSink) Push(events.Event) {}
