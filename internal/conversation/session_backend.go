package conversation

import "context"

// SessionField узкий доступ к полю диалога внутри сессии запроса.
// Реализуется HTTP-слоем; ядро не знает, как устроена сессия.
type SessionField interface {
	Conversation() (Conversation, bool)
	SetConversation(conv Conversation) error
}

type sessionFieldKey struct{}

// WithSessionField кладёт поле сессии в контекст запроса.
func WithSessionField(ctx context.Context, field SessionField) context.Context {
	return context.WithValue(ctx, sessionFieldKey{}, field)
}

func sessionFieldFrom(ctx context.Context) (SessionField, bool) {
	field, ok := ctx.Value(sessionFieldKey{}).(SessionField)
	return field, ok && field != nil
}

// SessionBackend хранит диалог в сессии текущего запроса.
// Ключом диалога должен быть идентификатор этой сессии.
type SessionBackend struct{}

func NewSessionBackend() *SessionBackend {
	return &SessionBackend{}
}

func (b *SessionBackend) Load(ctx context.Context, key string) (Conversation, bool, error) {
	field, ok := sessionFieldFrom(ctx)
	if !ok {
		return nil, false, ErrNoSession
	}
	conv, found := field.Conversation()
	if !found {
		return nil, false, nil
	}
	return conv.Clone(), true, nil
}

func (b *SessionBackend) Save(ctx context.Context, key string, conv Conversation) error {
	field, ok := sessionFieldFrom(ctx)
	if !ok {
		return ErrNoSession
	}
	return field.SetConversation(conv.Clone())
}
