package httpserver

import (
	"net/http"

	"museumguide/internal/middleware"

	"log/slog"

	"github.com/go-chi/chi/v5"
)

// ChatRoutes обработчики API экскурсовода.
type ChatRoutes interface {
	PostMessage(w http.ResponseWriter, r *http.Request)
	GetHistory(w http.ResponseWriter, r *http.Request)
}

type RouterDeps struct {
	Logger *slog.Logger
	Chat   ChatRoutes
	// Session необязательный middleware сессий для /api.
	Session func(http.Handler) http.Handler
}

// NewRouter собирает chi-роутер с общими middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/assistant/thread", func(r chi.Router) {
		if deps.Session != nil {
			r.Use(deps.Session)
		}
		r.Post("/message", deps.Chat.PostMessage)
		r.Get("/history", deps.Chat.GetHistory)
	})

	return r
}
