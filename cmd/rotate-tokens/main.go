package main

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// rotate-tokens marks every active exam token past its expiry as expired.
// The server does the same on a ticker; this is for cron or manual runs.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	tokens := service.NewTokenManager(repository.NewStore(pool), service.TokenDefaults{
		Duration: cfg.TokenDefaultDuration,
		MaxUsage: cfg.TokenDefaultMaxUsage,
	}, log)

	n, err := tokens.RotateExpired(ctx, service.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Token rotation failed")
	}

	fmt.Printf("Expired %d token(s)\n", n)
}
