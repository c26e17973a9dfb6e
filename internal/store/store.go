package store

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/agentchat/internal/models"
)

// DefaultHistoryLimit caps how many messages a history request returns.
const DefaultHistoryLimit = 100

// timestampLayout is fixed-width so lexical order equals chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DataStore defines the interface for persistent storage of chat messages.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	AddMessage(ctx context.Context, msg *models.Message) error
	GetMessagesForRoom(ctx context.Context, room string, limit int) ([]models.Message, error)
}

// prepareMessage fills in the server-assigned fields of a new message.
func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	// Postgres keeps microseconds; live copies must carry the same value.
	msg.Timestamp = msg.Timestamp.UTC().Truncate(time.Microsecond)
	if msg.Type == "" {
		msg.Type = models.TypeChat
	}
}

// reverse flips a newest-first result set into ascending order.
func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
