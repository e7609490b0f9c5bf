package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore хранит сессии в памяти и синхронизирует их с JSON-файлом на диске.
// Формат файла: JSON-объект map[string]Session, где ключом служит id сессии.
type FileStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	path     string
	logger   *slog.Logger
}

// NewFileStore создает FileStore и загружает данные из указанного файла.
// При ошибке чтения файла логирует предупреждение и стартует с пустой картой.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session store path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fs := &FileStore{
		sessions: make(map[string]Session),
		path:     path,
		logger:   logger,
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Save сохраняет/обновляет сессию и атомарно записывает состояние на диск.
// При ошибке записи в памяти остаётся новое состояние.
func (s *FileStore) Save(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	return s.persistLocked()
}

// Get возвращает сессию, если она существует.
func (s *FileStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Delete удаляет сессию и записывает новое состояние на диск.
// Ошибка записи логируется, но не возвращается (интерфейс совместим с MemoryStore).
func (s *FileStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	if err := s.persistLocked(); err != nil {
		s.logger.Error("session store: persist after delete failed", slog.String("error", err.Error()))
	}
}

func (s *FileStore) load() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.logger.Warn("session store: read file failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]Session
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("session store: unmarshal failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range raw {
		if id == "" || session.ID != id {
			s.logger.Warn("session store: skip malformed session", slog.String("id", id))
			continue
		}
		s.sessions[id] = session
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	dir := filepath.Dir(s.path)
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	if err := os.Chmod(tmpName, 0o600); err != nil && !errors.Is(err, os.ErrPermission) {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
