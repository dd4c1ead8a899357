package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/adapter"

	"github.com/pkoukk/tiktoken-go"
)

// Compile-time assurance this invoker satisfies the port
var _ adapter.AgentInvoker = (*OpenAICompatInvoker)(nil)

// OpenAICompatInvoker implements adapter.AgentInvoker against any
// Chat-Completions-compatible endpoint.
type OpenAICompatInvoker struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
}

func NewOpenAICompatInvoker(apiKey, base, model string) (*OpenAICompatInvoker, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompatInvoker{
		apiKey: apiKey,
		base:   base,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (o *OpenAICompatInvoker) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAICompatInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	mdl := inv.Model
	if mdl == "" {
		mdl = o.model
	}
	role := inv.UserRole
	if role == "" {
		role = "user"
	}

	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{Model: mdl, Messages: []chatMessage{{Role: role, Content: inv.Text}}}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}

	content := out.Choices[0].Message.Content
	usage := &model.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// Some compatible gateways omit usage; estimate locally so the
		// terminal event still carries accounting.
		usage = estimateUsage(mdl, inv.Text, content)
	}
	return &adapter.Result{Content: content, Usage: usage}, nil
}

func estimateUsage(mdl, prompt, completion string) *model.Usage {
	enc, err := tiktoken.EncodingForModel(mdl)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	in := len(enc.Encode(prompt, nil, nil))
	out := len(enc.Encode(completion, nil, nil))
	return &model.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}
