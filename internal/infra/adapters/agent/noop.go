package agent

import (
	"context"
	"time"

	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/adapter"
)

var _ adapter.AgentInvoker = (*NoopInvoker)(nil)

// NoopInvoker implements adapter.AgentInvoker for local/dev runs. It
// echoes the prompt instead of calling a real provider.
type NoopInvoker struct {
	Delay time.Duration
}

func NewNoopInvoker() *NoopInvoker {
	return &NoopInvoker{Delay: 100 * time.Millisecond}
}

func (a *NoopInvoker) Name() string { return "noop" }

func (a *NoopInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	// Simulate slight processing time and respect ctx
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &adapter.Result{
		Content: "echo: " + inv.Text,
		Usage:   &model.Usage{PromptTokens: len(inv.Text) / 4, CompletionTokens: len(inv.Text) / 4, TotalTokens: len(inv.Text) / 2},
	}, nil
}
