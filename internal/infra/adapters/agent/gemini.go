package agent

import (
	"context"
	"errors"

	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/adapter"

	"google.golang.org/genai"
)

var _ adapter.AgentInvoker = (*GeminiInvoker)(nil)

// GeminiInvoker implements adapter.AgentInvoker using the official SDK.
type GeminiInvoker struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

func NewGeminiInvoker(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiInvoker, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiInvoker{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiInvoker) Name() string { return "gemini" }

func (g *GeminiInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	mdl := inv.Model
	if mdl == "" {
		mdl = g.defaultModel
	}

	chat, err := g.client.Chats.Create(
		ctx,
		mdl,
		&genai.GenerateContentConfig{
			MaxOutputTokens: int32(g.maxOut),
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: inv.Text})
	if err != nil {
		return nil, err
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		if t := resp.Candidates[0].Content.Parts[0].Text; t != "" {
			text = t
		}
	}
	var usage *model.Usage
	if resp != nil && resp.UsageMetadata != nil {
		usage = &model.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return &adapter.Result{Content: text, Usage: usage}, nil
}
