package session

import "sync"

// MemoryStore хранит сессии в памяти процесса.
// Диалог копируется при записи и чтении: вызывающий не держит ссылку на
// срез внутри хранилища.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Session)}
}

func (s *MemoryStore) Save(session Session) error {
	session.Conversation = session.Conversation.Clone()

	s.mu.Lock()
	s.byID[session.ID] = session
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	session, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	session.Conversation = session.Conversation.Clone()
	return session, true
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// Len количество сессий, включая ещё не удалённые истёкшие.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
