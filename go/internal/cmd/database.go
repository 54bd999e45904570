package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/fingerbutton/go/internal/database"
	"github.com/mcdev12/fingerbutton/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// setupDatabase migrates the schema and opens the pgx pool.
func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, error) {
	if err := database.Migrate(cfg.DSN()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PoolDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", cfg.User).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return pool, nil
}
