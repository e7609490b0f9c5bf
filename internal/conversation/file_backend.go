package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileBackend хранит все диалоги одним JSON-объектом на диске.
// Формат файла: {"<key>": [{"role": ..., "content": ...}, ...]}.
//
// Каждая запись перечитывает файл и заменяет его атомарно (temp + rename).
// Внутри процесса записи сериализует mu, между процессами flock на <path>.lock.
type FileBackend struct {
	mu     sync.Mutex
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewFileBackend создаёт файловое хранилище. Сам файл может отсутствовать.
func NewFileBackend(path string, logger *slog.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("conversation file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBackend{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// Load читает файл целиком и возвращает историю ключа.
// Отсутствующий файл означает пустое хранилище.
func (b *FileBackend) Load(ctx context.Context, key string) (Conversation, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.lock.RLock(); err != nil {
		return nil, false, fmt.Errorf("lock store file: %w", err)
	}
	defer b.unlockFile()

	doc, err := b.readDocument()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return nil, false, nil
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, fmt.Errorf("%w: key %q: %v", ErrInvalidConversationState, key, err)
	}
	return conv, true, nil
}

// Save перечитывает файл, обновляет ключ и записывает состояние на диск.
// Повреждённый файл заменяется новым содержимым.
func (b *FileBackend) Save(ctx context.Context, key string, conv Conversation) error {
	encoded, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("lock store file: %w", err)
	}
	defer b.unlockFile()

	doc, err := b.readDocument()
	if err != nil {
		if !errors.Is(err, ErrPersistenceCorrupt) {
			return err
		}
		b.logger.Warn("discarding unreadable conversation file",
			slog.String("path", b.path),
			slog.String("error", err.Error()))
		doc = make(map[string]json.RawMessage)
	}
	doc[key] = encoded

	return b.writeDocument(doc)
}

func (b *FileBackend) unlockFile() {
	if err := b.lock.Unlock(); err != nil {
		b.logger.Error("unlock store file", slog.String("path", b.path), slog.String("error", err.Error()))
	}
}

func (b *FileBackend) readDocument() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistenceCorrupt, b.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrPersistenceCorrupt, b.path, err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	return doc, nil
}

func (b *FileBackend) writeDocument(doc map[string]json.RawMessage) error {
	dir := filepath.Dir(b.path)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
