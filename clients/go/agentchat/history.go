package agentchat

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// HistoryService fetches a room's recorded messages.
type HistoryService interface {
	GetMessages(ctx context.Context, room string) ([]Message, error)
}

// SendService submits a message typed by the human participant.
type SendService interface {
	PostMessage(ctx context.Context, room, text string) error
}

// HistoryLoader fetches history and hands it back in timestamp order.
type HistoryLoader struct {
	svc    HistoryService
	logger zerolog.Logger
}

// NewHistoryLoader creates a loader backed by svc.
func NewHistoryLoader(svc HistoryService, logger zerolog.Logger) *HistoryLoader {
	return &HistoryLoader{svc: svc, logger: logger}
}

// Load returns the room's history sorted ascending by timestamp. Messages
// with equal timestamps keep the server's order.
func (l *HistoryLoader) Load(ctx context.Context, room string) ([]Message, error) {
	msgs, err := l.svc.GetMessages(ctx, room)
	if err != nil {
		return nil, errors.Wrapf(err, "load history of %s", room)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	l.logger.Debug().Str("room", room).Int("count", len(msgs)).Msg("history loaded")
	return msgs, nil
}
