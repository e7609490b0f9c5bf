package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"museumguide/internal/conversation"
)

var ErrNotFound = errors.New("session not found")

// Session сессия посетителя. Диалог с экскурсоводом хранится внутри неё.
type Session struct {
	ID           string                    `json:"id"`
	Conversation conversation.Conversation `json:"conversation,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	ExpiresAt    time.Time                 `json:"expires_at"`
}

type Store interface {
	Save(session Session) error
	Get(id string) (Session, bool)
	Delete(id string)
}

// Service управляет сессиями. Чтение-изменение-запись сессии выполняется
// под mu, иначе продление сессии может затереть только что записанный диалог.
type Service struct {
	mu    sync.Mutex
	ttl   time.Duration
	store Store
	now   func() time.Time
}

func NewService(ttl time.Duration, store Store) *Service {
	return &Service{
		ttl:   ttl,
		store: store,
		now:   time.Now,
	}
}

// Resume возвращает живую сессию по id, продлевая её, либо создаёт новую.
// Второй параметр сообщает, что сессия создана заново.
func (s *Service) Resume(ctx context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if session, ok := s.live(id); ok {
			session.ExpiresAt = s.expiry()
			if err := s.store.Save(session); err != nil {
				return Session{}, false, fmt.Errorf("save session: %w", err)
			}
			return session, false, nil
		}
	}

	now := s.now()
	session := Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: s.expiry(),
	}
	if err := s.store.Save(session); err != nil {
		return Session{}, false, fmt.Errorf("save session: %w", err)
	}
	return session, true, nil
}

// Conversation возвращает диалог, сохранённый в сессии.
func (s *Service) Conversation(id string) (conversation.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.live(id)
	if !ok || len(session.Conversation) == 0 {
		return nil, false
	}
	return session.Conversation.Clone(), true
}

// SetConversation заменяет диалог в сессии.
func (s *Service) SetConversation(id string, conv conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	session.Conversation = conv.Clone()
	if err := s.store.Save(session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// live возвращает неистёкшую сессию; истёкшая удаляется. Вызывается под mu.
func (s *Service) live(id string) (Session, bool) {
	session, ok := s.store.Get(id)
	if !ok {
		return Session{}, false
	}

	// TTL == 0 означает, что сессии вечные и не истекают по времени.
	if s.ttl <= 0 {
		return session, true
	}
	if session.ExpiresAt.IsZero() || s.now().After(session.ExpiresAt) {
		s.store.Delete(id)
		return Session{}, false
	}
	return session, true
}

func (s *Service) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}
