package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/eldtechnologies/agentchat/internal/metrics"
	"github.com/eldtechnologies/agentchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "init postgres schema")
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_name TEXT NOT NULL,
			sender TEXT NOT NULL,
			message_content TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			message_type TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_room_name_timestamp ON messages (room_name, timestamp);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AddMessage stores a message, assigning its ID and timestamp when unset.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds()) }()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_name, sender, message_content, timestamp, message_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.Room, msg.Sender, msg.Message, msg.Timestamp, string(msg.Type))
	return errors.Wrap(err, "insert message")
}

// GetMessagesForRoom returns the most recent limit messages of a room, oldest first.
func (s *PostgresStore) GetMessagesForRoom(ctx context.Context, room string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds()) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_name, sender, message_content, timestamp, message_type
		FROM messages
		WHERE room_name = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, room, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var typ string
		if err := rows.Scan(&msg.ID, &msg.Room, &msg.Sender, &msg.Message, &msg.Timestamp, &typ); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Timestamp = msg.Timestamp.UTC()
		msg.Type = models.MessageType(typ)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}

	reverse(messages)
	return messages, nil
}
