package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"museumguide/internal/conversation"
)

type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

type idKey struct{}

// IDFromContext возвращает id сессии текущего запроса.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}

// Middleware восстанавливает сессию по cookie (или создаёт новую) и кладёт
// в контекст её id и доступ к полю диалога.
func Middleware(svc *Service, cookie CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(cookie.Name); err == nil {
				id = c.Value
			}

			sess, created, err := svc.Resume(r.Context(), id)
			if err != nil {
				logger.Error("session resume failed", slog.String("error", err.Error()))
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				return
			}
			if created || id != sess.ID {
				http.SetCookie(w, newCookie(cookie, sess.ID))
			}

			ctx := context.WithValue(r.Context(), idKey{}, sess.ID)
			ctx = conversation.WithSessionField(ctx, &field{svc: svc, id: sess.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newCookie(cfg CookieConfig, id string) *http.Cookie {
	c := &http.Cookie{
		Name:     cfg.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	// Фронтенд живёт на другом домене: cross-site cookie требует SameSite=None и Secure.
	if cfg.Secure {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	if cfg.TTL > 0 {
		c.MaxAge = int(cfg.TTL.Seconds())
	}
	return c
}

// field реализует conversation.SessionField поверх Service.
type field struct {
	svc *Service
	id  string
}

func (f *field) Conversation() (conversation.Conversation, bool) {
	return f.svc.Conversation(f.id)
}

func (f *field) SetConversation(conv conversation.Conversation) error {
	return f.svc.SetConversation(f.id, conv)
}
