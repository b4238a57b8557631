// Package realtime fans chat thread events out to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published on a thread channel.
const (
	EventMessageSent    = "message.sent"
	EventMessageDeleted = "message.deleted"
	EventThreadRead     = "thread.read"
	EventThreadDeleted  = "thread.deleted"
)

// Event is the payload published on "chat:<threadId>". Message bodies are
// never included; subscribers fetch them through the API.
type Event struct {
	Type      string    `json:"type"`
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId,omitempty"`
	ActorID   string    `json:"actorId"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Channel returns the pub/sub channel of a thread.
func Channel(threadID string) string {
	return "chat:" + threadID
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, Channel(event.ThreadID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Nop discards events. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
