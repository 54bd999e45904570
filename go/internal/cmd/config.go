package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mcdev12/fingerbutton/go/internal/dbconfig"
	"github.com/mcdev12/fingerbutton/go/internal/gameconfig"
	"github.com/rs/zerolog"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// Config is the API server's process configuration.
type Config struct {
	Port        string
	StoreDriver string
	LogLevel    string
	Leaderboard bool
	Database    dbconfig.Config
	Game        gameconfig.Config
}

func loadConfig() (*Config, error) {
	game, err := gameconfig.Load(getEnv("GAME_CONFIG", "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", storePostgres),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Leaderboard: getEnvAsBool("LEADERBOARD_ENABLED", true),
		Database:    dbconfig.NewConfigFromEnv(),
		Game:        game,
	}
	switch cfg.StoreDriver {
	case storePostgres, storeMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
