package agent

import (
	"context"
	"fmt"
	"strings"

	"agent-dispatch/internal/domain/ports/adapter"
)

var _ adapter.AgentInvoker = (*MultiInvoker)(nil)

// MultiInvoker routes each invocation to a provider by model name. Each
// provider invoker carries its own default model.
type MultiInvoker struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.AgentInvoker
}

func NewMultiInvoker(defaultProvider string, byProvider map[string]adapter.AgentInvoker) *MultiInvoker {
	return &MultiInvoker{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
	}
}

func (m *MultiInvoker) Name() string { return "multi" }

func (m *MultiInvoker) resolveProvider(mdl string) string {
	l := strings.ToLower(mdl)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	prov := m.resolveProvider(inv.Model)
	inner := m.byProvider[prov]
	if inner == nil {
		inner = m.byProvider[m.defaultProvider]
	}
	if inner == nil {
		return nil, fmt.Errorf("no invoker for provider %q", prov)
	}
	return inner.Invoke(ctx, inv)
}
