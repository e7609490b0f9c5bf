package llm

import (
	"context"

	"museumguide/internal/conversation"
)

// Client минимальный публичный интерфейс LLM клиента:
// полная история на входе, один ответ ассистента на выходе.
type Client interface {
	Complete(ctx context.Context, model string, messages []conversation.Message) (conversation.Message, error)
}
