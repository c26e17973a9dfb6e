package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/agentchat/internal/models"
)

const roomChannelPrefix = "agentchat:room:"

// RedisStore relays live messages between server instances and backs the rate limiter.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client; nil-safe.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomChannel returns the pub/sub channel carrying a room's live messages.
func roomChannel(room string) string {
	return fmt.Sprintf("%s%s", roomChannelPrefix, room)
}

// Publish sends a stored message to every subscribed server instance.
func (s *RedisStore) Publish(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	return errors.Wrap(s.client.Publish(ctx, roomChannel(msg.Room), data).Err(), "publish message")
}

// Subscribe delivers messages published for any room to fn until ctx is done.
// Payloads that fail to decode are reported through onErr and skipped.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(models.Message), onErr func(error)) error {
	sub := s.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				if onErr != nil {
					onErr(errors.Wrapf(err, "decode payload on %s", m.Channel))
				}
				continue
			}
			if msg.Room == "" {
				msg.Room = strings.TrimPrefix(m.Channel, roomChannelPrefix)
			}
			fn(msg)
		}
	}
}
