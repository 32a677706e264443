package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "opsmesh:agent:"

// RedisTransport moves envelopes over Redis Streams, one stream per agent.
// It lets agents run in separate processes while keeping the same Transport
// contract as LocalTransport.
type RedisTransport struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisTransport connects to Redis and verifies it with a ping.
func NewRedisTransport(redisURL string, logger *zap.Logger) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTransport{rdb: rdb, logger: logger}, nil
}

// Deliver appends the envelope to the recipient's stream.
func (t *RedisTransport) Deliver(ctx context.Context, to string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	stream := streamPrefix + to
	_, err = t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", stream, err)
	}

	t.logger.Debug("delivered envelope",
		zap.String("to", to),
		zap.Bool("request", env.Request != nil))
	return nil
}

// Inbox tails the agent's stream. Cancel the context to stop.
func (t *RedisTransport) Inbox(ctx context.Context, agentID string) <-chan *Envelope {
	ch := make(chan *Envelope, inboxSize)
	stream := streamPrefix + agentID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := t.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var env Envelope
					if json.Unmarshal([]byte(data), &env) == nil {
						ch <- &env
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}
