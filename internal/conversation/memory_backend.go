package conversation

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	conv      Conversation
	createdAt time.Time
	updatedAt time.Time
}

// MemoryBackend потокобезопасное in-memory хранилище диалогов.
// Данные живут до перезапуска процесса.
type MemoryBackend struct {
	mu    sync.RWMutex
	convs map[string]memoryEntry
}

// NewMemoryBackend создаёт пустое in-memory хранилище.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{convs: make(map[string]memoryEntry)}
}

// Load возвращает копию истории, чтобы избежать изменений снаружи.
func (b *MemoryBackend) Load(ctx context.Context, key string) (Conversation, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.convs[key]
	if !ok {
		return nil, false, nil
	}
	return entry.conv.Clone(), true, nil
}

// Save заменяет историю копией переданной.
func (b *MemoryBackend) Save(ctx context.Context, key string, conv Conversation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	entry, ok := b.convs[key]
	if !ok {
		entry.createdAt = now
	}
	entry.conv = conv.Clone()
	entry.updatedAt = now
	b.convs[key] = entry
	return nil
}

// Len количество хранимых диалогов.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.convs)
}
