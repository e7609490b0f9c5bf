package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultTurnTimeout = 60 * time.Second

// Store владеет историями диалогов: создаёт их с системным промптом,
// добавляет ходы и сохраняет через Backend.
// Операции над одним ключом выполняются строго последовательно.
type Store struct {
	backend     Backend
	provider    Provider
	preamble    Preamble
	model       string
	turnTimeout time.Duration
	logger      *slog.Logger

	locks *keyLocks

	mu      sync.Mutex
	pending map[string]Conversation
}

// StoreConfig конфигурация для создания Store.
type StoreConfig struct {
	Backend     Backend
	Provider    Provider
	Preamble    Preamble
	Model       string
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// NewStore создаёт хранилище диалогов.
func NewStore(cfg StoreConfig) *Store {
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:     cfg.Backend,
		provider:    cfg.Provider,
		preamble:    cfg.Preamble,
		model:       cfg.Model,
		turnTimeout: timeout,
		logger:      logger,
		locks:       newKeyLocks(),
		pending:     make(map[string]Conversation),
	}
}

// GetOrInit возвращает диалог по ключу, создавая его с системным промптом,
// если ключ встречается впервые. Существующий диалог не перезаписывается.
// Пустой preamble заменяется промптом по умолчанию.
//
// Если создание не удалось записать, возвращается новый диалог вместе с
// ErrPersistenceWriteFailed: он остаётся в памяти до следующей записи.
func (s *Store) GetOrInit(ctx context.Context, key string, preamble string) (Conversation, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.getOrInitLocked(ctx, key, preamble)
	return conv.Clone(), err
}

// AppendTurn добавляет ход пользователя и ответ ассистента.
// Неизвестный ключ создаётся с промптом по умолчанию.
// При ошибке провайдера история не меняется: повтор не задублирует сообщение.
func (s *Store) AppendTurn(ctx context.Context, key string, userText string) (Message, error) {
	if key == "" {
		return Message{}, ErrEmptyKey
	}
	if strings.TrimSpace(userText) == "" {
		return Message{}, ErrEmptyContent
	}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return Message{}, err
	}
	defer unlock()

	conv, err := s.getOrInitLocked(ctx, key, "")
	if err != nil && !errors.Is(err, ErrPersistenceWriteFailed) {
		return Message{}, err
	}

	request := make(Conversation, 0, len(conv)+2)
	request = append(request, conv...)
	request = append(request, Message{Role: RoleUser, Content: userText})

	reply, err := s.complete(ctx, request)
	if err != nil {
		s.logger.Warn("completion failed, turn discarded",
			slog.String("conversation_key", key),
			slog.String("error", err.Error()))
		return Message{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	updated := append(request, reply)
	if err := s.saveLocked(ctx, key, updated); err != nil {
		return reply, err
	}

	s.logger.Debug("turn appended",
		slog.String("conversation_key", key),
		slog.Int("turns", updated.Turns()))
	return reply, nil
}

// Load возвращает сохранённый диалог. Повреждённые данные считаются отсутствующими.
func (s *Store) Load(ctx context.Context, key string) (Conversation, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	conv, ok, err := s.loadLocked(ctx, key)
	return conv.Clone(), ok, err
}

// Save заменяет историю диалога целиком.
func (s *Store) Save(ctx context.Context, key string, conv Conversation) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := conv.Validate(); err != nil {
		return err
	}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return s.saveLocked(ctx, key, conv.Clone())
}

func (s *Store) getOrInitLocked(ctx context.Context, key string, preamble string) (Conversation, error) {
	conv, ok, err := s.loadLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return conv, nil
	}

	if preamble == "" {
		preamble = s.preamble.Render("")
	}
	conv = Conversation{{Role: RoleSystem, Content: preamble}}
	if err := s.saveLocked(ctx, key, conv); err != nil {
		return conv, err
	}
	s.logger.Info("conversation created", slog.String("conversation_key", key))
	return conv, nil
}

func (s *Store) loadLocked(ctx context.Context, key string) (Conversation, bool, error) {
	if conv, ok := s.pendingFor(key); ok {
		return conv, true, nil
	}

	conv, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		if recoverable(err) {
			s.logger.Warn("stored conversation unreadable, starting over",
				slog.String("conversation_key", key),
				slog.String("error", err.Error()))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrPersistenceReadFailed, err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := conv.Validate(); err != nil {
		s.logger.Warn("stored conversation invalid, starting over",
			slog.String("conversation_key", key),
			slog.String("error", err.Error()))
		return nil, false, nil
	}
	return conv, true, nil
}

// saveLocked пишет историю в бэкенд. При ошибке история сохраняется
// в pending и будет записана следующей успешной операцией.
func (s *Store) saveLocked(ctx context.Context, key string, conv Conversation) error {
	if err := s.backend.Save(ctx, key, conv); err != nil {
		s.mu.Lock()
		s.pending[key] = conv.Clone()
		s.mu.Unlock()

		s.logger.Error("failed to persist conversation",
			slog.String("conversation_key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPersistenceWriteFailed, err)
	}

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) pendingFor(key string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

func (s *Store) complete(ctx context.Context, request Conversation) (Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	reply, err := s.provider.Complete(callCtx, s.model, request.Clone())
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(reply.Content) == "" {
		return Message{}, errors.New("empty reply from provider")
	}
	return Message{Role: RoleAssistant, Content: reply.Content}, nil
}
