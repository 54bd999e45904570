// Package leaderboard keeps all-time win counts in Redis sorted sets and
// records each completed game exactly once.
package leaderboard

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// Config holds Redis configuration
type Config struct {
	Host        string
	Port        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() *Config {
	return &Config{
		Host:        getEnv("REDIS_HOST", "localhost"),
		Port:        getEnv("REDIS_PORT", "6379"),
		Password:    getEnv("REDIS_PASSWORD", ""),
		DB:          getEnvAsInt("REDIS_DB", 0),
		PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 10),
		DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", config.Addr()).Int("db", config.DB).Int("pool_size", config.PoolSize).Msg("connected to Redis")
	return &Client{rdb}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Int("default", defaultValue).Msg("invalid integer, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Dur("default", defaultValue).Msg("invalid duration, using default")
		return defaultValue
	}
	return value
}
