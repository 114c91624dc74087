// Package events publishes job lifecycle events to a Redis Stream so
// external consumers can follow runs without polling. The server runs
// without it when no Redis URL is configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream is the Redis Stream all job events land on.
const Stream = "studio:jobs"

// Event is one job lifecycle observation.
type Event struct {
	JobID     string    `json:"job_id"`
	TeamID    string    `json:"team_id"`
	Event     string    `json:"event"` // created, progress, completed, failed, cancelled
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a Redis Streams job-event publisher.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends an event to the stream.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	b.logger.Debug("published job event",
		zap.String("job", ev.JobID),
		zap.String("event", ev.Event),
		zap.String("phase", ev.Phase))
	return nil
}

// Subscribe listens for job events. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{Stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
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
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
