package conversation

import "context"

// Backend стратегия хранения диалогов.
type Backend interface {
	// Load возвращает историю по ключу.
	// Второй параметр bool указывает, найден ли диалог.
	Load(ctx context.Context, key string) (Conversation, bool, error)
	// Save сохраняет полную историю, заменяя существующую.
	Save(ctx context.Context, key string, conv Conversation) error
}

// Provider внешний сервис, возвращающий следующий ответ ассистента.
type Provider interface {
	Complete(ctx context.Context, model string, messages []Message) (Message, error)
}
