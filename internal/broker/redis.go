// Package broker relays applied CRDT deltas between server instances that
// host the same room, over redis pub/sub. The relay is best-effort: redis
// being down degrades to single-instance operation and is never fatal to a
// room.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "collab:room:"

// envelope wraps a relayed delta with the publishing instance's origin id so
// an instance can skip its own messages.
type envelope struct {
	Origin string `json:"origin"`
	Update []byte `json:"update"`
}

// RedisBroker fans room deltas out across server instances.
type RedisBroker struct {
	client *redis.Client
	origin string
}

// NewRedisBroker connects to redis and verifies the connection.
func NewRedisBroker(addr string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBrokerWithClient(client), nil
}

// NewRedisBrokerWithClient creates a broker from an existing client.
func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		origin: uuid.NewString(),
	}
}

func channel(roomKey string) string {
	return channelPrefix + roomKey
}

// Publish relays one applied delta to the room's channel.
func (b *RedisBroker) Publish(ctx context.Context, roomKey string, update []byte) {
	payload, err := json.Marshal(envelope{Origin: b.origin, Update: update})
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, channel(roomKey), payload).Err(); err != nil {
		log.Printf("broker: publish to %s failed: %v", roomKey, err)
	}
}

// Subscribe delivers deltas published by other instances for the given room
// until the returned unsubscribe function is called.
func (b *RedisBroker) Subscribe(roomKey string, fn func(update []byte)) (unsubscribe func()) {
	pubsub := b.client.Subscribe(context.Background(), channel(roomKey))

	go func() {
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("broker: dropping unreadable relay message on %s: %v", roomKey, err)
				continue
			}
			if env.Origin == b.origin || len(env.Update) == 0 {
				continue
			}
			fn(env.Update)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("broker: unsubscribe from %s failed: %v", roomKey, err)
		}
	}
}

// Close releases the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
