// Package cache keeps exam question payloads in Redis so session starts do
// not hit PostgreSQL for every student.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ExamQuestions caches the full question list of an exam, answer keys
// included. It is never sent to clients as is.
type ExamQuestions struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewExamQuestions creates a Redis backed question cache.
func NewExamQuestions(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamQuestions {
	return &ExamQuestions{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "question_cache").Logger(),
	}
}

// Get returns the cached questions. Any failure is a miss.
func (c *ExamQuestions) Get(ctx context.Context, examID uuid.UUID) ([]model.Question, bool) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.ExamQuestionsKey(examID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Question cache read failed")
		}
		return nil, false
	}
	questions, err := Decode(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Dropping corrupt question cache entry")
		_ = c.Invalidate(ctx, examID)
		return nil, false
	}
	return questions, true
}

// Set stores the questions with the configured TTL.
func (c *ExamQuestions) Set(ctx context.Context, examID uuid.UUID, questions []model.Question) error {
	raw, err := Encode(questions)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, config.CacheKey.ExamQuestionsKey(examID.String()), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached questions.
func (c *ExamQuestions) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.ExamQuestionsKey(examID.String())).Err()
}

// Encode serializes a question list for the cache.
func Encode(questions []model.Question) ([]byte, error) {
	if questions == nil {
		questions = []model.Question{}
	}
	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	return raw, nil
}

// Decode reverses Encode.
func Decode(raw []byte) ([]model.Question, error) {
	var questions []model.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return questions, nil
}
