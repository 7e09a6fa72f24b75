// Package events carries session activity over Redis: monitor broadcasts on
// pub/sub and regrade jobs on a list queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Publisher broadcasts session events to the exam's monitor channel.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishSessionEvent publishes evt as JSON.
func (p *Publisher) PublishSessionEvent(ctx context.Context, evt model.SessionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(evt.ExamID.String()), payload).Err()
}

// Subscribe attaches to an exam's monitor channel. The caller closes the
// returned subscription.
func (p *Publisher) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return p.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}

// RegradeQueue pushes session ids for the regrade worker.
type RegradeQueue struct {
	rdb *redis.Client
}

// NewRegradeQueue creates a new RegradeQueue.
func NewRegradeQueue(rdb *redis.Client) *RegradeQueue {
	return &RegradeQueue{rdb: rdb}
}

// EnqueueRegrade appends the ids in one pipeline round trip.
func (q *RegradeQueue) EnqueueRegrade(ctx context.Context, sessionIDs ...uuid.UUID) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, id := range sessionIDs {
		pipe.RPush(ctx, config.WorkerKey.RegradeSessionsQueue, id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue regrade: %w", err)
	}
	return nil
}
