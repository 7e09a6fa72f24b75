package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	RegradeBatchSize    = 50
	RegradeBatchTimeout = 2 * time.Second
	RegradePollTimeout  = 1 * time.Second
)

// Recalculator rescores one finalized session.
type Recalculator interface {
	Recalculate(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error)
}

// RegradeWorker drains the regrade queue and recalculates each session.
type RegradeWorker struct {
	rdb      *redis.Client
	sessions Recalculator
	log      zerolog.Logger
}

func NewRegradeWorker(rdb *redis.Client, sessions Recalculator, log zerolog.Logger) *RegradeWorker {
	return &RegradeWorker{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "regrade_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *RegradeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RegradeWorker started")

	batch := make([]string, 0, RegradeBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= RegradeBatchSize || time.Since(lastFlush) >= RegradeBatchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flush(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, RegradePollTimeout, config.WorkerKey.RegradeSessionsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}
			batch = append(batch, item[1])
		}
	}
}

// flush recalculates the batch and puts failed ids back on the queue.
func (w *RegradeWorker) flush(ctx context.Context, batch []string) {
	retry := w.process(ctx, batch)
	if len(retry) == 0 {
		return
	}

	pipe := w.rdb.Pipeline()
	for _, id := range retry {
		pipe.RPush(ctx, config.WorkerKey.RegradeSessionsQueue, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(retry)).Msg("Requeue failed, sessions dropped")
	}
}

// process recalculates each distinct session once and returns the ids
// worth retrying. Malformed ids and vanished sessions are dropped.
func (w *RegradeWorker) process(ctx context.Context, batch []string) []string {
	var retry []string
	seen := make(map[uuid.UUID]struct{}, len(batch))
	done := 0

	for _, raw := range batch {
		id, err := uuid.Parse(raw)
		if err != nil {
			w.log.Error().Str("payload", raw).Msg("Invalid session id in regrade queue")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if _, err := w.sessions.Recalculate(ctx, id); err != nil {
			if service.IsNotFound(err) {
				w.log.Warn().Str("session_id", raw).Msg("Session vanished before regrade")
				continue
			}
			w.log.Error().Err(err).Str("session_id", raw).Msg("Recalculate failed, requeueing")
			retry = append(retry, raw)
			continue
		}
		done++
	}

	w.log.Info().Int("recalculated", done).Int("requeued", len(retry)).Msg("Regrade batch processed")
	return retry
}
