package gameconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of the game engine.
type Config struct {
	Countdown         time.Duration `yaml:"countdown"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SchedulerWorkers  int           `yaml:"scheduler_workers"`
	MinPlayers        int           `yaml:"min_players"`
	DefaultMaxPlayers int           `yaml:"default_max_players"`
	Daily             DailyConfig   `yaml:"daily"`
	Feed              FeedConfig    `yaml:"feed"`
}

// DailyConfig controls the once-a-day game.
type DailyConfig struct {
	StartTime  string `yaml:"start_time"` // HH:MM in Timezone
	Timezone   string `yaml:"timezone"`
	MaxPlayers int    `yaml:"max_players"`
	Featured   bool   `yaml:"featured"`
}

// FeedConfig controls the change feed.
type FeedConfig struct {
	FallbackInterval time.Duration `yaml:"fallback_interval"`
	NotifyChannel    string        `yaml:"notify_channel"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Countdown:         5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		StaleAfter:        8 * time.Second,
		SweepInterval:     3 * time.Second,
		SchedulerWorkers:  10,
		MinPlayers:        2,
		DefaultMaxPlayers: 100,
		Daily: DailyConfig{
			StartTime:  "12:00",
			Timezone:   "America/New_York",
			MaxPlayers: 1000,
			Featured:   true,
		},
		Feed: FeedConfig{
			FallbackInterval: 30 * time.Second,
			NotifyChannel:    "game_changes",
		},
	}
}

// Load reads a YAML file on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if d, ok := envDuration("GAME_COUNTDOWN"); ok {
		c.Countdown = d
	}
	if d, ok := envDuration("GAME_HEARTBEAT_INTERVAL"); ok {
		c.HeartbeatInterval = d
	}
	if d, ok := envDuration("GAME_STALE_AFTER"); ok {
		c.StaleAfter = d
	}
	if v := os.Getenv("GAME_MIN_PLAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinPlayers = n
		}
	}
}

// Validate checks the durations and counts are usable.
func (c Config) Validate() error {
	if c.Countdown <= 0 {
		return errors.New("countdown must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.StaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("stale_after (%s) must exceed heartbeat_interval (%s)", c.StaleAfter, c.HeartbeatInterval)
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.SchedulerWorkers < 1 {
		return errors.New("scheduler_workers must be at least 1")
	}
	if c.MinPlayers < 1 {
		return errors.New("min_players must be at least 1")
	}
	if c.DefaultMaxPlayers < c.MinPlayers || c.Daily.MaxPlayers < c.MinPlayers {
		return errors.New("max players must be at least min_players")
	}
	if _, err := c.Daily.Location(); err != nil {
		return err
	}
	if _, err := c.Daily.clock(); err != nil {
		return err
	}
	return nil
}

// Location loads the daily game's timezone.
func (d DailyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid daily timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

func (d DailyConfig) clock() (time.Time, error) {
	t, err := time.Parse("15:04", d.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid daily start_time %q: %w", d.StartTime, err)
	}
	return t, nil
}

// Date returns the calendar day of now in the daily timezone, formatted YYYY-MM-DD.
func (d DailyConfig) Date(now time.Time) (string, error) {
	loc, err := d.Location()
	if err != nil {
		return "", err
	}
	return now.In(loc).Format(time.DateOnly), nil
}

// StartOn returns the daily game's start instant on the calendar day of now.
func (d DailyConfig) StartOn(now time.Time) (time.Time, error) {
	loc, err := d.Location()
	if err != nil {
		return time.Time{}, err
	}
	hm, err := d.clock()
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
