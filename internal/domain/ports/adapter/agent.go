package adapter

import (
	"context"

	"agent-dispatch/internal/domain/model"
)

// Invocation carries everything the agent collaborator needs for one call:
// routing identity plus the fully rendered prompt text.
type Invocation struct {
	Model          string
	ConversationID string
	UserID         string
	UserRole       string
	Text           string
	Attachments    []model.Attachment
}

// Result is the agent's buffered reply. There is no token-level streaming
// from the collaborator; the worker chunks Content after the fact.
type Result struct {
	Content  string
	Metadata map[string]string
	Usage    *model.Usage
}

// AgentInvoker is the port for the external agent call. It is the worker's
// only outward collaborator and may be swapped freely.
type AgentInvoker interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) (*Result, error)
}
