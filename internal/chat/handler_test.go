package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"museumguide/internal/conversation"
	"museumguide/internal/session"
)

type echoProvider struct {
	mu    sync.Mutex
	calls [][]conversation.Message
	err   error
}

func (p *echoProvider) Complete(ctx context.Context, model string, messages []conversation.Message) (conversation.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]conversation.Message(nil), messages...))
	if p.err != nil {
		return conversation.Message{}, p.err
	}
	last := messages[len(messages)-1]
	return conversation.Message{Role: conversation.RoleAssistant, Content: "echo: " + last.Content}, nil
}

type stubSpeech struct {
	err error
}

func (s stubSpeech) DataURI(ctx context.Context, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "data:audio/mpeg;base64,QUJD", nil
}

func newTestHandler(t *testing.T, provider *echoProvider, sp Speech) (*Handler, *conversation.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	pre := conversation.Preamble{DefaultExhibit: "Newton"}
	store := conversation.NewStore(conversation.StoreConfig{
		Backend:  conversation.NewMemoryBackend(),
		Provider: provider,
		Preamble: pre,
		Model:    "gpt-4o-mini",
		Logger:   logger,
	})
	h := NewHandler(HandlerDeps{
		Conversations: store,
		Speech:        sp,
		Preamble:      pre,
		Logger:        logger,
	})
	return h, store
}

func postMessage(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, messageResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/assistant/thread/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.PostMessage(rec, req)

	var resp messageResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestPostMessageCreatesConversationWithExhibit(t *testing.T) {
	provider := &echoProvider{}
	h, store := newTestHandler(t, provider, nil)

	rec, resp := postMessage(t, h, `{"thread_id":"t1","content":"What is gravity?","exhibit":"Galileo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.ConversationKey != "t1" {
		t.Fatalf("unexpected key %q", resp.ConversationKey)
	}
	if resp.Reply.Content != "echo: What is gravity?" || resp.Reply.Role != conversation.RoleAssistant {
		t.Fatalf("unexpected reply %+v", resp.Reply)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message != resp.Reply {
		t.Fatalf("unexpected choices %+v", resp.Choices)
	}
	if resp.Audio != "" || resp.AudioError != "" {
		t.Fatalf("speech disabled, got audio fields")
	}

	conv, found, err := store.Load(context.Background(), "t1")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(conv) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv))
	}
	if !strings.Contains(conv[0].Content, "Galileo exhibit") {
		t.Fatalf("preamble missing exhibit: %q", conv[0].Content)
	}
}

func TestPostMessageKeepsExistingPreamble(t *testing.T) {
	provider := &echoProvider{}
	h, store := newTestHandler(t, provider, nil)

	postMessage(t, h, `{"thread_id":"t1","content":"one"}`)
	rec, _ := postMessage(t, h, `{"conversation_key":"t1","content":"two","exhibit":"Curie"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	conv, _, _ := store.Load(context.Background(), "t1")
	if len(conv) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(conv))
	}
	if !strings.Contains(conv[0].Content, "Newton exhibit") {
		t.Fatalf("preamble must not change: %q", conv[0].Content)
	}
	// второй запрос к провайдеру несёт всю историю
	if got := len(provider.calls[1]); got != 4 {
		t.Fatalf("expected 4 messages in request, got %d", got)
	}
}

func TestPostMessageGeneratesKey(t *testing.T) {
	h, _ := newTestHandler(t, &echoProvider{}, nil)

	_, first := postMessage(t, h, `{"content":"hi"}`)
	_, second := postMessage(t, h, `{"content":"hi"}`)
	if first.ConversationKey == "" || first.ConversationKey == second.ConversationKey {
		t.Fatalf("expected distinct generated keys, got %q and %q", first.ConversationKey, second.ConversationKey)
	}
}

func TestPostMessageValidation(t *testing.T) {
	h, _ := newTestHandler(t, &echoProvider{}, nil)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"content":`, "bad_request"},
		{"empty content", `{"thread_id":"t","content":"   "}`, "empty_content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := postMessage(t, h, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, got)
			}
		})
	}
}

func TestPostMessageProviderFailure(t *testing.T) {
	provider := &echoProvider{err: errors.New("upstream 500")}
	h, store := newTestHandler(t, provider, nil)

	rec, _ := postMessage(t, h, `{"thread_id":"t1","content":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "provider_unavailable" {
		t.Fatalf("unexpected code %q", got)
	}

	conv, found, _ := store.Load(context.Background(), "t1")
	if !found || len(conv) != 1 {
		t.Fatalf("expected only the system message after failed turn, got %d", len(conv))
	}
}

func TestPostMessageSpeech(t *testing.T) {
	h, _ := newTestHandler(t, &echoProvider{}, stubSpeech{})
	rec, resp := postMessage(t, h, `{"thread_id":"t1","content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(resp.Audio, "data:audio/mpeg;base64,") {
		t.Fatalf("unexpected audio %q", resp.Audio)
	}
}

func TestPostMessageSpeechFailureKeepsReply(t *testing.T) {
	h, _ := newTestHandler(t, &echoProvider{}, stubSpeech{err: errors.New("tts down")})
	rec, resp := postMessage(t, h, `{"thread_id":"t1","content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.Reply.Content != "echo: hello" {
		t.Fatalf("reply lost: %+v", resp.Reply)
	}
	if resp.Audio != "" || resp.AudioError != "speech_unavailable" {
		t.Fatalf("unexpected audio fields %q %q", resp.Audio, resp.AudioError)
	}
}

type stubConversations struct {
	initErr   error
	appendErr error
	reply     conversation.Message
}

func (s *stubConversations) GetOrInit(ctx context.Context, key, preamble string) (conversation.Conversation, error) {
	return conversation.Conversation{{Role: conversation.RoleSystem, Content: preamble}}, s.initErr
}

func (s *stubConversations) AppendTurn(ctx context.Context, key, text string) (conversation.Message, error) {
	return s.reply, s.appendErr
}

func (s *stubConversations) Load(ctx context.Context, key string) (conversation.Conversation, bool, error) {
	return nil, false, s.appendErr
}

func TestPostMessageStoreErrors(t *testing.T) {
	cases := []struct {
		name   string
		stub   *stubConversations
		status int
		code   string
	}{
		{
			name:   "write failed without reply",
			stub:   &stubConversations{appendErr: fmt.Errorf("save: %w", conversation.ErrPersistenceWriteFailed)},
			status: http.StatusServiceUnavailable,
			code:   "persistence_unavailable",
		},
		{
			name:   "read failed on init",
			stub:   &stubConversations{initErr: fmt.Errorf("load: %w", conversation.ErrPersistenceReadFailed)},
			status: http.StatusServiceUnavailable,
			code:   "persistence_unavailable",
		},
		{
			name:   "unexpected",
			stub:   &stubConversations{appendErr: errors.New("boom")},
			status: http.StatusInternalServerError,
			code:   "internal",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(HandlerDeps{
				Conversations: tc.stub,
				Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
			})
			rec, _ := postMessage(t, h, `{"thread_id":"t","content":"hi"}`)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, got)
			}
		})
	}
}

func TestPostMessageInitWriteFailureStillAnswers(t *testing.T) {
	stub := &stubConversations{
		initErr: conversation.ErrPersistenceWriteFailed,
		reply:   conversation.Message{Role: conversation.RoleAssistant, Content: "hi"},
	}
	h := NewHandler(HandlerDeps{
		Conversations: stub,
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	rec, resp := postMessage(t, h, `{"thread_id":"t","content":"hi"}`)
	if rec.Code != http.StatusOK || resp.Reply.Content != "hi" {
		t.Fatalf("unexpected result %d %+v", rec.Code, resp)
	}
}

func TestGetHistory(t *testing.T) {
	h, _ := newTestHandler(t, &echoProvider{}, nil)
	postMessage(t, h, `{"thread_id":"t1","content":"hello"}`)

	rec := httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/assistant/thread/history?thread_id=t1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 3 || resp.Messages[0].Role != conversation.RoleSystem {
		t.Fatalf("unexpected history %+v", resp.Messages)
	}

	rec = httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/assistant/thread/history?thread_id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/assistant/thread/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionScopedConversation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := session.NewService(0, session.NewMemoryStore())
	pre := conversation.Preamble{}
	store := conversation.NewStore(conversation.StoreConfig{
		Backend:  conversation.NewSessionBackend(),
		Provider: &echoProvider{},
		Preamble: pre,
		Logger:   logger,
	})
	h := NewHandler(HandlerDeps{
		Conversations: store,
		Preamble:      pre,
		SessionScoped: true,
		Logger:        logger,
	})
	mw := session.Middleware(svc, session.CookieConfig{Name: "sid"}, logger)
	post := mw(http.HandlerFunc(h.PostMessage))

	rec := httptest.NewRecorder()
	post.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"thread_id":"ignored","content":"one"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected session cookie")
	}
	var first messageResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &first)
	if first.ConversationKey != cookies[0].Value {
		t.Fatalf("key %q must be the session id %q", first.ConversationKey, cookies[0].Value)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"content":"two"}`))
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	post.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	conv, ok := svc.Conversation(cookies[0].Value)
	if !ok || len(conv) != 5 {
		t.Fatalf("expected 5 messages in session, got %d", len(conv))
	}
}

func TestPostMessageWriteFailureReturnsCommittedReply(t *testing.T) {
	stub := &stubConversations{
		appendErr: fmt.Errorf("save: %w", conversation.ErrPersistenceWriteFailed),
		reply:     conversation.Message{Role: conversation.RoleAssistant, Content: "Hello!"},
	}
	h := NewHandler(HandlerDeps{
		Conversations: stub,
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})

	rec, resp := postMessage(t, h, `{"thread_id":"t","content":"Hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Reply.Content != "Hello!" {
		t.Fatalf("reply lost: %+v", resp.Reply)
	}
	if resp.PersistenceWarning != "not_persisted" {
		t.Fatalf("expected persistence warning, got %q", resp.PersistenceWarning)
	}
}
