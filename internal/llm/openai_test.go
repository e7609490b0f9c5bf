package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"museumguide/internal/config"
	"museumguide/internal/conversation"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOpenAIClient(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/",
		Model:   "gpt-4o-mini",
	}, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func history() []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleSystem, Content: "You are Feynman"},
		{Role: conversation.RoleUser, Content: "Hi"},
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("expected default model, got %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Hi" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello!"}},{"message":{"role":"assistant","content":"ignored"}}]}`))
	})

	reply, err := client.Complete(context.Background(), "", history())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.Role != conversation.RoleAssistant || reply.Content != "Hello!" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestOpenAIClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"second try"}}]}`))
	})

	reply, err := client.Complete(context.Background(), "gpt-4o", history())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.Content != "second try" || calls.Load() != 2 {
		t.Fatalf("unexpected result: %+v after %d calls", reply, calls.Load())
	}
}

func TestOpenAIClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})

	_, err := client.Complete(context.Background(), "", history())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Complete(context.Background(), "", history())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIClient_ModelRequired(t *testing.T) {
	client := NewOpenAIClient(config.OpenAIConfig{}, http.DefaultClient, nil)

	_, err := client.Complete(context.Background(), "", history())
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
}
