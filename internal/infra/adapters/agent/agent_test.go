package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agent-dispatch/internal/domain/ports/adapter"
)

type recordInvoker struct {
	name   string
	called int
}

func (r *recordInvoker) Name() string { return r.name }

func (r *recordInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	r.called++
	return &adapter.Result{Content: r.name}, nil
}

func TestMultiInvokerRouting(t *testing.T) {
	openai := &recordInvoker{name: "openai"}
	gemini := &recordInvoker{name: "gemini"}
	m := NewMultiInvoker("openai", map[string]adapter.AgentInvoker{
		"openai": openai,
		"gemini": gemini,
	})

	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "openai"},
		{"GPT-4.1", "openai"},
		{"gemini-2.0-flash", "gemini"},
		{"claude-3", "openai"}, // falls back to the default provider
		{"", "openai"},
	}
	for _, c := range cases {
		res, err := m.Invoke(context.Background(), adapter.Invocation{Model: c.model, Text: "hi"})
		if err != nil {
			t.Fatalf("Invoke(%q): %v", c.model, err)
		}
		if res.Content != c.want {
			t.Errorf("Invoke(%q) routed to %s, want %s", c.model, res.Content, c.want)
		}
	}
	if openai.called != 4 || gemini.called != 1 {
		t.Errorf("call counts openai=%d gemini=%d", openai.called, gemini.called)
	}
}

func TestMultiInvokerNoProvider(t *testing.T) {
	m := NewMultiInvoker("openai", map[string]adapter.AgentInvoker{})
	if _, err := m.Invoke(context.Background(), adapter.Invocation{Model: "gpt-4"}); err == nil {
		t.Fatal("expected error when no provider is registered")
	}
}

func TestNoopInvokerEchoes(t *testing.T) {
	inv := NewNoopInvoker()
	inv.Delay = time.Millisecond

	res, err := inv.Invoke(context.Background(), adapter.Invocation{Text: "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "echo: hello" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage == nil {
		t.Error("usage missing")
	}
}

func TestNoopInvokerHonorsContext(t *testing.T) {
	inv := NewNoopInvoker()
	inv.Delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inv.Invoke(ctx, adapter.Invocation{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOpenAICompatInvoke(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi there"}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer ts.Close()

	inv, err := NewOpenAICompatInvoker("sk-test", ts.URL, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}

	res, err := inv.Invoke(context.Background(), adapter.Invocation{Model: "gpt-4o", UserRole: "user", Text: "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "hi there" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Errorf("request model = %v", gotBody["model"])
	}
}

func TestOpenAICompatDefaultsModel(t *testing.T) {
	var gotModel string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer ts.Close()

	inv, _ := NewOpenAICompatInvoker("sk-test", ts.URL, "gpt-4o-mini")
	if _, err := inv.Invoke(context.Background(), adapter.Invocation{Text: "x"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q, want configured default", gotModel)
	}
}

func TestOpenAICompatHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	inv, _ := NewOpenAICompatInvoker("sk-test", ts.URL, "gpt-4o-mini")
	_, err := inv.Invoke(context.Background(), adapter.Invocation{Text: "x"})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestOpenAICompatEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	inv, _ := NewOpenAICompatInvoker("sk-test", ts.URL, "gpt-4o-mini")
	if _, err := inv.Invoke(context.Background(), adapter.Invocation{Text: "x"}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestOpenAICompatRequiresKey(t *testing.T) {
	if _, err := NewOpenAICompatInvoker("", "", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
