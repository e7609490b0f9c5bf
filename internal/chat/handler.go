package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"museumguide/internal/conversation"
	"museumguide/internal/httpserver"
	"museumguide/internal/session"
)

const maxBodyBytes = 64 << 10

// Conversations операции хранилища диалогов, нужные обработчику.
type Conversations interface {
	GetOrInit(ctx context.Context, key string, preamble string) (conversation.Conversation, error)
	AppendTurn(ctx context.Context, key string, userText string) (conversation.Message, error)
	Load(ctx context.Context, key string) (conversation.Conversation, bool, error)
}

// Speech озвучивает ответ; nil отключает озвучку.
type Speech interface {
	DataURI(ctx context.Context, text string) (string, error)
}

type HandlerDeps struct {
	Conversations Conversations
	Speech        Speech
	Preamble      conversation.Preamble
	// SessionScoped ключ диалога берётся из сессии, а не из тела запроса.
	SessionScoped bool
	Logger        *slog.Logger
}

type Handler struct {
	conversations Conversations
	speech        Speech
	preamble      conversation.Preamble
	sessionScoped bool
	logger        *slog.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		conversations: deps.Conversations,
		speech:        deps.Speech,
		preamble:      deps.Preamble,
		sessionScoped: deps.SessionScoped,
		logger:        deps.Logger,
	}
}

type messageRequest struct {
	ThreadID        string `json:"thread_id"`
	ConversationKey string `json:"conversation_key"`
	Content         string `json:"content"`
	Exhibit         string `json:"exhibit"`
}

type choice struct {
	Message conversation.Message `json:"message"`
}

type messageResponse struct {
	ConversationKey string               `json:"conversation_key"`
	Reply           conversation.Message `json:"reply"`
	Choices         []choice             `json:"choices"`
	Audio           string               `json:"audio,omitempty"`
	AudioError      string               `json:"audio_error,omitempty"`

	// PersistenceWarning ход принят, но пока хранится только в памяти.
	PersistenceWarning string `json:"persistence_warning,omitempty"`
}

type historyResponse struct {
	ConversationKey string                    `json:"conversation_key"`
	Messages        conversation.Conversation `json:"messages"`
}

// PostMessage обрабатывает один ход диалога.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse message")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}

	ctx := r.Context()
	key, ok := h.resolveKey(ctx, firstNonEmpty(req.ThreadID, req.ConversationKey), true)
	if !ok {
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "no_session", "session is not available")
		return
	}
	logger := h.logger.With(slog.String("conversation_key", key))
	logger.Info("message received", slog.Int("length", len(content)))

	if _, err := h.conversations.GetOrInit(ctx, key, h.preamble.Render(req.Exhibit)); err != nil &&
		!errors.Is(err, conversation.ErrPersistenceWriteFailed) {
		h.writeStoreError(w, logger, err)
		return
	}

	// Если ответ получен, а запись не удалась, ход уже в истории (в памяти)
	// и будет записан следующей успешной операцией. Повтор запроса
	// задублировал бы ход, поэтому отвечаем 200 с предупреждением.
	reply, err := h.conversations.AppendTurn(ctx, key, content)
	committed := errors.Is(err, conversation.ErrPersistenceWriteFailed) && reply.Content != ""
	if err != nil && !committed {
		h.writeStoreError(w, logger, err)
		return
	}

	resp := messageResponse{
		ConversationKey: key,
		Reply:           reply,
		Choices:         []choice{{Message: reply}},
	}
	if committed {
		logger.Warn("turn kept in memory, persistence failed", slog.String("error", err.Error()))
		resp.PersistenceWarning = "not_persisted"
	}
	if h.speech != nil {
		audio, err := h.speech.DataURI(ctx, reply.Content)
		if err != nil {
			logger.Error("speech failed", slog.String("error", err.Error()))
			resp.AudioError = "speech_unavailable"
		} else {
			resp.Audio = audio
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// GetHistory возвращает историю диалога.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.resolveKey(ctx, r.URL.Query().Get("thread_id"), false)
	if !ok {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "thread_id is required")
		return
	}

	conv, found, err := h.conversations.Load(ctx, key)
	if err != nil {
		h.writeStoreError(w, h.logger.With(slog.String("conversation_key", key)), err)
		return
	}
	if !found {
		httpserver.WriteJSONError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, historyResponse{ConversationKey: key, Messages: conv})
}

// resolveKey: в режиме сессий ключом служит id сессии, иначе ключ из запроса.
// generate разрешает выдать новый ключ, если клиент его не прислал.
func (h *Handler) resolveKey(ctx context.Context, requested string, generate bool) (string, bool) {
	if h.sessionScoped {
		return session.IDFromContext(ctx)
	}
	if key := strings.TrimSpace(requested); key != "" {
		return key, true
	}
	if !generate {
		return "", false
	}
	return uuid.NewString(), true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, conversation.ErrProviderUnavailable):
		logger.Error("completion failed", slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusBadGateway, "provider_unavailable", "failed to send message")
	case errors.Is(err, conversation.ErrPersistenceWriteFailed),
		errors.Is(err, conversation.ErrPersistenceReadFailed):
		logger.Error("conversation storage failed", slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusServiceUnavailable, "persistence_unavailable", "conversation storage unavailable, retry later")
	case errors.Is(err, conversation.ErrEmptyContent), errors.Is(err, conversation.ErrEmptyKey):
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request aborted", slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusServiceUnavailable, "aborted", "request aborted")
	default:
		logger.Error("chat turn failed", slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "internal", "failed to send message")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
