package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"AutoScript/internal/conversation"
)

// Message threads kept per session
const (
	ThreadDesign     = "design"
	ThreadDiscussion = "discussion"
)

// Store is a session-scoped string key/value handoff plus the session's message history.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetAll writes every pair or none of them.
	SetAll(ctx context.Context, values map[string]string) error

	// AppendMessage adds msg to the end of thread.
	AppendMessage(ctx context.Context, thread string, msg conversation.Message) error
	// Messages returns thread in append order.
	Messages(ctx context.Context, thread string) ([]conversation.Message, error)

	Close() error
}

// MemoryStore keeps values in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	messages map[string][]conversation.Message
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		messages: make(map[string][]conversation.Message),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) SetAll(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, thread string, msg conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[thread] = append(m.messages[thread], msg)
	return nil
}

func (m *MemoryStore) Messages(_ context.Context, thread string) ([]conversation.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]conversation.Message, len(m.messages[thread]))
	copy(out, m.messages[thread])
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// OpenDB opens the SQLite database and creates the handoff and messages tables
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createHandoffTable := `
	CREATE TABLE IF NOT EXISTS handoff (
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME,
		PRIMARY KEY (session_id, key)
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		thread TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME
	);
	CREATE INDEX IF NOT EXISTS messages_session_thread ON messages (session_id, thread, id);`

	if _, err := db.Exec(createHandoffTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create handoff table: %w", err)
	}

	if _, err := db.Exec(createMessagesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return db, nil
}

// SQLiteStore keeps one session's values and messages in a SQLite file
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
}

// OpenSQLiteStore opens path and scopes it to sessionID. Close closes the database.
func OpenSQLiteStore(path, sessionID string) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, sessionID: sessionID}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM handoff WHERE session_id = ? AND key = ?",
		s.sessionID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query handoff: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.SetAll(ctx, map[string]string{key: value})
}

func (s *SQLiteStore) SetAll(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for k, v := range values {
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO handoff (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)",
			s.sessionID, k, v, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, thread string, msg conversation.Message) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, thread, message_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		s.sessionID, thread, msg.ID, string(msg.Role), msg.Content, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, thread string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, role, content, timestamp FROM messages WHERE session_id = ? AND thread = ? ORDER BY id",
		s.sessionID, thread,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var msg conversation.Message
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
