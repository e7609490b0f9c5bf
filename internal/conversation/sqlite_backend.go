package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend хранит каждый диалог отдельной строкой во встроенной БД.
// Запись одного ключа не затрагивает остальные.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend открывает (или создаёт) БД по пути и готовит схему.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db at %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (Conversation, bool, error) {
	var payload string
	err := b.db.QueryRowContext(ctx,
		`SELECT messages FROM conversations WHERE key = ?`, key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select conversation %q: %w", key, err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(payload), &conv); err != nil {
		return nil, false, fmt.Errorf("%w: key %q: %v", ErrInvalidConversationState, key, err)
	}
	return conv, true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, conv Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO conversations (key, messages) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET messages = excluded.messages, updated_at = unixepoch()`,
		key, string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %q: %w", key, err)
	}
	return nil
}

// Close закрывает соединение с БД.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
