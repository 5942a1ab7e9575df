package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/events"
	"github.com/nugget/neoc/internal/mailbox"
	"github.com/nugget/neoc/internal/memory"
	"github.com/nugget/neoc/internal/opstate"
	"github.com/nugget/neoc/internal/prompts"
)

func TestMain(m *testing.M) {
	// The genai client pulls in opencensus, whose view worker starts at
	// init and never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// --- Test helpers ---

type call struct {
	role   string
	prompt string
}

// scriptedInvoker answers each invocation by calling respond.
type scriptedInvoker struct {
	mu      sync.Mutex
	calls   []call
	respond func(role, prompt string, n int) (string, error)
}

func (s *scriptedInvoker) Invoke(_ context.Context, role, prompt string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{role: role, prompt: prompt})
	n := len(s.calls)
	s.mu.Unlock()
	return s.respond(role, prompt, n)
}

func (s *scriptedInvoker) getCalls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *scriptedInvoker) roles() []string {
	var out []string
	for _, c := range s.getCalls() {
		out = append(out, c.role)
	}
	return out
}

func (s *scriptedInvoker) promptsFor(role string) []string {
	var out []string
	for _, c := range s.getCalls() {
		if c.role == role {
			out = append(out, c.prompt)
		}
	}
	return out
}

// byRole returns a responder with a fixed reply per role.
func byRole(replies map[string]string) func(string, string, int) (string, error) {
	return func(role, _ string, _ int) (string, error) {
		return replies[role], nil
	}
}

type staticDirectives struct{}

func (staticDirectives) Load(role string) string { return "[" + role + "]" }

type harness struct {
	loop    *Loop
	invoker *scriptedInvoker
	input   *mailbox.Queue[string]
	output  *mailbox.Queue[events.Event]
}

func testConfig() Config {
	return Config{
		InitialThought:  "initial thought",
		ThinkInterval:   0,
		PausePoll:       5 * time.Millisecond,
		ShutdownKeyword: "shutdown",
		Logging:         DefaultLogSettings(),
	}
}

func newHarness(t *testing.T, cfg Config, respond func(string, string, int) (string, error), mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		invoker: &scriptedInvoker{respond: respond},
		input:   mailbox.New[string](),
		output:  mailbox.New[events.Event](),
	}
	deps := Deps{
		Invoker:    h.invoker,
		Directives: staticDirectives{},
		Input:      h.input,
		Output:     h.output,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&deps)
	}
	h.loop = New(cfg, deps)
	return h
}

// run runs the loop synchronously and fails the test if it does not
// reach shutdown.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil (shutdown keyword)", err)
	}
}

func (h *harness) responses() []string {
	var out []string
	for _, e := range h.output.Drain() {
		if e.Type == events.TypeResponse {
			out = append(out, e.Content)
		}
	}
	return out
}

// --- ParseConfig / LogSettings ---

func TestParseConfig(t *testing.T) {
	off := false
	raw := config.LoopConfig{
		InitialThought:  "hello",
		ThinkInterval:   "2s",
		PausePoll:       "250ms",
		ShutdownKeyword: " stop ",
		Logging:         config.LoggingConfig{Flow: &off},
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	want := Config{
		InitialThought:  "hello",
		ThinkInterval:   2 * time.Second,
		PausePoll:       250 * time.Millisecond,
		ShutdownKeyword: "stop",
		Logging:         LogSettings{Flow: false, Prompts: false, Conversation: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ParseConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfig_InvalidDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  config.LoopConfig
	}{
		{"bad think interval", config.LoopConfig{ThinkInterval: "bogus", PausePoll: "1s"}},
		{"bad pause poll", config.LoopConfig{ThinkInterval: "1s", PausePoll: "bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig(tt.raw); err == nil {
				t.Error("ParseConfig should fail")
			}
		})
	}
}

func TestLogSettingsMerge(t *testing.T) {
	s := DefaultLogSettings()
	unknown := s.Merge(map[string]bool{"prompts": true, "flow": false, "colour": true})

	want := LogSettings{Flow: false, Prompts: true, Conversation: true}
	if s != want {
		t.Errorf("Merge() = %+v, want %+v", s, want)
	}
	if diff := cmp.Diff([]string{"colour"}, unknown); diff != "" {
		t.Errorf("unknown mismatch (-want +got):\n%s", diff)
	}
	if got := s.String(); got != "flow=off prompts=on conversation=on" {
		t.Errorf("String() = %q", got)
	}
}

// --- Loop control ---

func TestRun_ShutdownKeyword(t *testing.T) {
	for _, msg := range []string{"shutdown", "  SHUTDOWN\n", "ShutDown"} {
		h := newHarness(t, testConfig(), byRole(nil))
		h.input.Push(msg)
		h.run(t)

		if n := len(h.invoker.getCalls()); n != 0 {
			t.Errorf("%q: %d invocations before shutdown, want 0", msg, n)
		}
		if got := h.loop.Status().State; got != Shutdown {
			t.Errorf("%q: state = %v, want shutdown", msg, got)
		}

		evts := h.output.Drain()
		last := evts[len(evts)-1]
		if last.Type != events.TypeLog || !strings.Contains(last.Content, "Shutdown") {
			t.Errorf("%q: final event = %+v, want shutdown log", msg, last)
		}
	}
}

func TestRun_ShutdownLogIgnoresSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Logging = LogSettings{}
	h := newHarness(t, cfg, byRole(nil))
	h.input.Push("shutdown")
	h.run(t)

	evts := h.output.Drain()
	if len(evts) != 1 || evts[0].Type != events.TypeLog {
		t.Errorf("events = %+v, want only the shutdown log", evts)
	}
}

func TestRun_CustomShutdownKeyword(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownKeyword = "apagar"
	h := newHarness(t, cfg, byRole(map[string]string{config.RoleEgo: `{"action":"OBSERVE"}`}))
	h.input.Push("shutdown")
	h.input.Push("apagar")
	h.run(t)

	// "shutdown" is an ordinary stimulus here.
	if got := h.invoker.roles(); !cmp.Equal(got, []string{config.RoleEgo}) {
		t.Errorf("invocations = %v, want one triage call", got)
	}
}

func TestRun_BlankMessageIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(nil))
	h.input.Push("   ")
	h.input.Push("")
	h.input.Push("shutdown")
	h.run(t)

	if n := len(h.invoker.getCalls()); n != 0 {
		t.Errorf("%d invocations for blank input, want 0", n)
	}
}

func TestRun_DoubleToggleResumesThinking(t *testing.T) {
	var h *harness
	h = newHarness(t, testConfig(), func(role, _ string, _ int) (string, error) {
		if role == config.RoleSubconscious {
			h.input.Push("shutdown")
		}
		return `{"content":"x"}`, nil
	})
	h.input.Push(`{"command":"toggle_pause"}`)
	h.input.Push(`{"command":"toggle_pause"}`)
	h.run(t)

	want := []string{config.RoleEgo, config.RoleConscious, config.RoleSubconscious}
	if diff := cmp.Diff(want, h.invoker.roles()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if h.loop.paused {
		t.Error("paused = true after two toggles, want false")
	}
}

func TestRun_PausedSkipsThinking(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(map[string]string{}))
	h.input.Push(`{"command":"toggle_pause"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.loop.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.loop.Status().State != Paused {
		if time.Now().After(deadline) {
			t.Fatal("loop never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	h.input.Push("shutdown")

	select {
	case <-h.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on shutdown keyword")
	}
	if n := len(h.invoker.getCalls()); n != 0 {
		t.Errorf("%d invocations while paused, want 0", n)
	}
}

func TestRun_UnknownCommandIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(nil))
	h.input.Push(`{"command":"dance"}`)
	h.input.Push("shutdown")
	h.run(t)

	if n := len(h.invoker.getCalls()); n != 0 {
		t.Errorf("unknown command triggered %d invocations", n)
	}
	if h.loop.paused {
		t.Error("unknown command changed the pause flag")
	}
}

func TestRun_SetLoggingMerges(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(nil))
	h.input.Push(`{"command":"set_logging","config":{"prompts":true}}`)
	h.input.Push("shutdown")
	h.run(t)

	want := LogSettings{Flow: true, Prompts: true, Conversation: true}
	if got := h.loop.Status().LogSettings; got != want {
		t.Errorf("log settings = %+v, want %+v", got, want)
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(map[string]string{}))
	h.input.Push(`{"command":"toggle_pause"}`)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(map[string]string{}))
	h.input.Push(`{"command":"toggle_pause"}`)

	ctx := context.Background()
	if err := h.loop.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := h.loop.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	h.loop.Stop()
	h.loop.Stop()

	if err := h.loop.Run(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Run after Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(nil))
	h.loop.Stop()
}

func TestStartAfterShutdownIsNoop(t *testing.T) {
	h := newHarness(t, testConfig(), byRole(nil))
	h.input.Push("shutdown")
	h.run(t)

	if err := h.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start after shutdown: %v", err)
	}
	if got := h.loop.Status().State; got != Shutdown {
		t.Errorf("state = %v after Start, want shutdown", got)
	}
}

// --- Think-step ---

func TestThinkStep_UpdatesThought(t *testing.T) {
	var h *harness
	h = newHarness(t, testConfig(), func(role, _ string, _ int) (string, error) {
		switch role {
		case config.RoleEgo:
			return "Sure! ```json\n{\"content\": \"consider the angles\"}\n```", nil
		case config.RoleConscious:
			return `{"content": "all angles are 60 degrees"}`, nil
		default:
			h.input.Push("shutdown")
			return `{"content": "analysis only"}`, nil
		}
	})
	h.run(t)

	if got := h.loop.Status().Thought; got != "all angles are 60 degrees" {
		t.Errorf("thought = %q, want conscious content", got)
	}

	ego := h.invoker.promptsFor(config.RoleEgo)[0]
	if !strings.Contains(ego, "<MISSION>"+prompts.NextStepMission("initial thought")+"</MISSION>") {
		t.Errorf("ego prompt = %q, want next-step mission on the initial thought", ego)
	}
	if !strings.Contains(ego, "<CONTEXT></CONTEXT>") {
		t.Errorf("ego prompt should carry an empty context: %q", ego)
	}

	conscious := h.invoker.promptsFor(config.RoleConscious)[0]
	want := "[conscious]\n<CONTEXT>initial thought</CONTEXT>\n<MISSION>consider the angles</MISSION>"
	if conscious != want {
		t.Errorf("conscious prompt = %q, want %q", conscious, want)
	}

	sub := h.invoker.promptsFor(config.RoleSubconscious)[0]
	if !strings.Contains(sub, prompts.AnalyzeMission("all angles are 60 degrees")) {
		t.Errorf("subconscious prompt = %q, want analysis of the new thought", sub)
	}
	if h.loop.ideas.Len() != 0 {
		t.Errorf("ideas = %d, want 0 without GENERATE_IDEA", h.loop.ideas.Len())
	}
}

func TestThinkStep_FailuresKeepThought(t *testing.T) {
	var h *harness
	h = newHarness(t, testConfig(), func(role, _ string, _ int) (string, error) {
		if role == config.RoleSubconscious {
			h.input.Push("shutdown")
		}
		if role == config.RoleConscious {
			return "no json at all", nil
		}
		return "", errors.New("model unavailable")
	})
	h.run(t)

	if got := h.loop.Status().Thought; got != "initial thought" {
		t.Errorf("thought = %q, want it retained", got)
	}
	conscious := h.invoker.promptsFor(config.RoleConscious)[0]
	if !strings.Contains(conscious, "<MISSION>"+prompts.FallbackMission+"</MISSION>") {
		t.Errorf("conscious prompt = %q, want fallback mission", conscious)
	}
}

func TestThinkStep_EmptyEgoContentUsesDefaultMission(t *testing.T) {
	var h *harness
	h = newHarness(t, testConfig(), func(role, _ string, _ int) (string, error) {
		if role == config.RoleSubconscious {
			h.input.Push("shutdown")
		}
		return `{"action": ""}`, nil
	})
	h.run(t)

	conscious := h.invoker.promptsFor(config.RoleConscious)[0]
	if !strings.Contains(conscious, "<MISSION>"+prompts.DefaultNextMission+"</MISSION>") {
		t.Errorf("conscious prompt = %q, want default mission", conscious)
	}
}

func TestThinkStep_IdeasConsumedFIFO(t *testing.T) {
	var h *harness
	subCalls := 0
	h = newHarness(t, testConfig(), func(role, _ string, _ int) (string, error) {
		switch role {
		case config.RoleSubconscious:
			subCalls++
			if subCalls == 3 {
				h.input.Push("shutdown")
			}
			return `{"action":"GENERATE_IDEA","content":"idea-` + string(rune('0'+subCalls)) + `"}`, nil
		default:
			return `{"content":"thinking"}`, nil
		}
	})
	h.loop.ideas.Push("a")
	h.loop.ideas.Push("b")
	h.run(t)

	var injected []string
	for _, p := range h.invoker.promptsFor(config.RoleConscious) {
		start := strings.Index(p, "<IDEA>")
		end := strings.Index(p, "</IDEA>")
		if start < 0 || end < 0 {
			t.Fatalf("conscious prompt without idea block: %q", p)
		}
		injected = append(injected, p[start+len("<IDEA>"):end])
	}
	if diff := cmp.Diff([]string{"a", "b", "idea-1"}, injected); diff != "" {
		t.Errorf("idea order mismatch (-want +got):\n%s", diff)
	}

	for _, role := range []string{config.RoleEgo, config.RoleSubconscious} {
		for _, p := range h.invoker.promptsFor(role) {
			if strings.Contains(p, "<IDEA>") {
				t.Errorf("%s prompt should never carry an idea: %q", role, p)
			}
		}
	}
	if h.loop.ideas.Len() != 2 {
		t.Errorf("ideas left = %d, want 2", h.loop.ideas.Len())
	}
}

func TestThinkStep_PromptEventsGated(t *testing.T) {
	cfg := testConfig()
	cfg.Logging = LogSettings{Prompts: true}

	var h *harness
	h = newHarness(t, cfg, func(role, _ string, _ int) (string, error) {
		if role == config.RoleSubconscious {
			h.input.Push("shutdown")
		}
		return `{"content":"x"}`, nil
	})
	h.run(t)

	var categories []string
	for _, e := range h.output.Drain() {
		if e.Type == events.TypeLog && !strings.Contains(e.Content, "Shutdown") {
			categories = append(categories, e.Category)
		}
	}
	want := []string{events.CategoryPrompts, events.CategoryPrompts, events.CategoryPrompts}
	if diff := cmp.Diff(want, categories); diff != "" {
		t.Errorf("emitted categories mismatch (-want +got):\n%s", diff)
	}
}

// --- Persistence ---

func TestRun_PersistsAndRestoresState(t *testing.T) {
	dir := t.TempDir()
	state, err := opstate.NewStore(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("opstate: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	mem, err := memory.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	withStores := func(d *Deps) {
		d.State = state
		d.Memory = mem
	}

	h := newHarness(t, testConfig(), byRole(map[string]string{
		config.RoleEgo:       `{"action":"REPLY","content":"greet back"}`,
		config.RoleConscious: `{"content":"Hello!"}`,
	}), withStores)
	h.input.Push(`{"command":"set_logging","config":{"flow":false}}`)
	h.input.Push("hi")
	h.input.Push("shutdown")
	h.run(t)

	ctx := context.Background()
	replies, err := mem.Recent(ctx, memory.KindReply, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(replies) != 1 || replies[0].Content != "greet back" {
		t.Errorf("reply memories = %+v, want the ego's final content", replies)
	}

	// A fresh loop picks up where the last one left off.
	h2 := newHarness(t, testConfig(), byRole(nil), withStores)
	h2.input.Push("shutdown")
	h2.run(t)

	st := h2.loop.Status()
	if st.Thought != prompts.ResumeThought {
		t.Errorf("restored thought = %q, want %q", st.Thought, prompts.ResumeThought)
	}
	if st.LogSettings.Flow {
		t.Error("restored log settings should keep flow=false")
	}
}
