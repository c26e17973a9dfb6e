package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/eldtechnologies/agentchat/internal/metrics"
	"github.com/eldtechnologies/agentchat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "chat_history.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "chat_history.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create directory %s", dir)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init sqlite schema")
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_name TEXT NOT NULL,
		sender TEXT NOT NULL,
		message_content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		message_type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_room_name_timestamp ON messages (room_name, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddMessage stores a message, assigning its ID and timestamp when unset.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds()) }()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_name, sender, message_content, timestamp, message_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Room, msg.Sender, msg.Message, msg.Timestamp.Format(timestampLayout), string(msg.Type))
	return errors.Wrap(err, "insert message")
}

// GetMessagesForRoom returns the most recent limit messages of a room, oldest first.
func (s *SQLiteStore) GetMessagesForRoom(ctx context.Context, room string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds()) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_name, sender, message_content, timestamp, message_type
		FROM messages
		WHERE room_name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		var ts, typ string
		if err := rows.Scan(&msg.ID, &msg.Room, &msg.Sender, &msg.Message, &ts, &typ); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Timestamp, err = time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, errors.Wrapf(err, "parse timestamp of message %s", msg.ID)
		}
		msg.Type = models.MessageType(typ)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}

	reverse(messages)
	return messages, nil
}
