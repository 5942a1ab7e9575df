package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// MultiClient lets each role run on a different provider. Models are
// mapped to provider names; a model with no mapping, or one mapped to
// a provider that was never registered, goes to the fallback.
type MultiClient struct {
	providers map[string]Client
	routes    map[string]string // model → provider
	fallback  Client
}

// NewMultiClient creates a router. fallback may be nil, in which case
// unrouted models fail.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		providers: make(map[string]Client),
		routes:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers client under name ("ollama", "anthropic", ...).
func (m *MultiClient) AddProvider(name string, client Client) {
	m.providers[name] = client
}

// AddModel routes model to the named provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.routes[model] = provider
}

func (m *MultiClient) route(model string) Client {
	if c, ok := m.providers[m.routes[model]]; ok {
		return c
	}
	return m.fallback
}

// Chat forwards the request to model's provider.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error) {
	c := m.route(model)
	if c == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return c.Chat(ctx, model, messages, opts)
}

// Ping checks every registered provider, or the fallback when none are
// registered. Failures are joined and name their provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.providers) == 0 {
		if m.fallback == nil {
			return errors.New("no providers configured")
		}
		return m.fallback.Ping(ctx)
	}

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.providers[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
