package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"museumguide/internal/conversation"
)

type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, model string, messages []conversation.Message) (conversation.Message, error) {
	return conversation.Message{Role: conversation.RoleAssistant, Content: "re: " + messages[len(messages)-1].Content}, nil
}

func TestMiddlewareIssuesCookieAndStoresConversation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(time.Hour, NewMemoryStore())
	store := conversation.NewStore(conversation.StoreConfig{
		Backend:  conversation.NewSessionBackend(),
		Provider: echoProvider{},
		Logger:   logger,
	})

	handler := Middleware(service, CookieConfig{Name: "guide_sid", TTL: time.Hour}, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IDFromContext(r.Context())
			if !ok {
				t.Errorf("session id missing from context")
				return
			}
			if _, err := store.AppendTurn(r.Context(), id, "Hi"); err != nil {
				t.Errorf("AppendTurn failed: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/", nil))
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "guide_sid" || !cookies[0].HttpOnly {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	sid := cookies[0].Value

	second := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookies[0])
	handler.ServeHTTP(second, req)
	if len(second.Result().Cookies()) != 0 {
		t.Fatalf("cookie must not be reissued for a live session")
	}

	conv, ok := service.Conversation(sid)
	if !ok {
		t.Fatalf("conversation not stored in session")
	}
	if len(conv) != 5 || conv.Validate() != nil {
		t.Fatalf("expected two complete turns, got %+v", conv)
	}
}

func TestNewCookieSecureIsCrossSite(t *testing.T) {
	c := newCookie(CookieConfig{Name: "sid", Secure: true}, "abc")
	if !c.Secure || c.SameSite != http.SameSiteNoneMode {
		t.Fatalf("secure cookie must be SameSite=None: %+v", c)
	}
}
