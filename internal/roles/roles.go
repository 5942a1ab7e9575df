// Package roles invokes NeoC's three reasoning roles against their
// configured models.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/llm"
	"github.com/nugget/neoc/internal/usage"
)

// ErrUnknownRole is returned by Invoke for a role with no settings.
var ErrUnknownRole = errors.New("unknown role")

// UsageRecorder persists the token usage of each invocation. Satisfied
// by *usage.Store.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Invoker sends composed prompts to the model configured for each role.
type Invoker struct {
	client   llm.Client
	settings map[string]config.RoleConfig
	logger   *slog.Logger
	recorder UsageRecorder
}

// NewInvoker creates an invoker over client using the per-role model,
// temperature, and token limits in settings.
func NewInvoker(client llm.Client, settings map[string]config.RoleConfig, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		client:   client,
		settings: settings,
		logger:   logger.With("component", "roles"),
	}
}

// SetRecorder attaches a usage recorder. Call before the first Invoke.
func (inv *Invoker) SetRecorder(r UsageRecorder) {
	inv.recorder = r
}

// Invoke sends prompt as a single user message to role's model and
// returns the raw text of the reply. Errors name the role and model.
// There is no retry.
func (inv *Invoker) Invoke(ctx context.Context, role, prompt string) (string, error) {
	rc, ok := inv.settings[role]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	start := time.Now()
	resp, err := inv.client.Chat(ctx, rc.Model,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.Options{Temperature: rc.Temperature, MaxTokens: rc.MaxTokens})
	if err != nil {
		return "", fmt.Errorf("invoke %s (%s): %w", role, rc.Model, err)
	}

	elapsed := time.Since(start)
	inv.logger.Debug("role invoked",
		"role", role,
		"model", rc.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if inv.recorder != nil {
		rec := usage.Record{
			Role:         role,
			Model:        rc.Model,
			Provider:     rc.Provider,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Elapsed:      elapsed,
		}
		if err := inv.recorder.Record(ctx, rec); err != nil {
			inv.logger.Warn("usage record failed", "role", role, "error", err)
		}
	}
	return resp.Message.Content, nil
}

// Text renders an invocation result the way a user-facing transcript
// shows it: the reply itself, or a readable note naming the failure.
func Text(reply string, err error) string {
	if err == nil {
		return reply
	}
	return fmt.Sprintf("Error while invoking the model: %v", err)
}
