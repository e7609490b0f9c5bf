package conversation

import "errors"

var (
	// ErrEmptyKey ключ диалога не задан.
	ErrEmptyKey = errors.New("conversation key is required")
	// ErrEmptyContent пустое сообщение пользователя.
	ErrEmptyContent = errors.New("message content is required")

	// ErrProviderUnavailable провайдер completion не ответил; ход не сохранён.
	ErrProviderUnavailable = errors.New("completion provider unavailable")
	// ErrPersistenceCorrupt файл хранилища не читается; хранилище считается пустым.
	ErrPersistenceCorrupt = errors.New("persisted store is corrupt")
	// ErrPersistenceReadFailed бэкенд недоступен на чтение.
	ErrPersistenceReadFailed = errors.New("persistence read failed")
	// ErrPersistenceWriteFailed запись не удалась; изменения остаются в памяти до следующей записи.
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	// ErrInvalidConversationState история ключа имеет неверную форму и будет пересоздана.
	ErrInvalidConversationState = errors.New("invalid conversation state")
	// ErrNoSession в контексте запроса нет сессии.
	ErrNoSession = errors.New("no session in context")
)

// recoverable сообщает, что ошибку чтения можно обработать локально,
// считая диалог отсутствующим.
func recoverable(err error) bool {
	return errors.Is(err, ErrPersistenceCorrupt) || errors.Is(err, ErrInvalidConversationState)
}
