package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// TokenRotator expires tokens whose lifetime has passed.
type TokenRotator interface {
	RotateExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenRotationWorker periodically marks lapsed exam tokens as expired.
type TokenRotationWorker struct {
	tokens   TokenRotator
	interval time.Duration
	log      zerolog.Logger
}

func NewTokenRotationWorker(tokens TokenRotator, interval time.Duration, log zerolog.Logger) *TokenRotationWorker {
	return &TokenRotationWorker{
		tokens:   tokens,
		interval: interval,
		log:      log.With().Str("component", "token_rotation_worker").Logger(),
	}
}

func (w *TokenRotationWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("TokenRotationWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("TokenRotationWorker stopped")
			return
		case <-ticker.C:
			w.rotate(ctx, service.Now())
		}
	}
}

func (w *TokenRotationWorker) rotate(ctx context.Context, now time.Time) {
	n, err := w.tokens.RotateExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Token rotation failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().Int64("expired", n).Msg("Expired lapsed tokens")
	}
}
