// Package config loads configuration from environment variables, with an
// optional YAML file for timing tunables.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Tunables are quiz timing knobs, read from the optional YAML file.
type Tunables struct {
	Quiz struct {
		DispatchPause string `yaml:"dispatch_pause"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryBackoff  string `yaml:"retry_backoff"`
		AwaitTimeout  string `yaml:"await_timeout"`
		EvictionGrace string `yaml:"eviction_grace"`
	} `yaml:"quiz"`
	Log struct {
		File string `yaml:"file"`
	} `yaml:"log"`
}

// Config holds all the configuration for the application.
type Config struct {
	BotToken        string
	DeepseekAPIKey  string
	DatabasePath    string
	BackupChannelID int64
	Debug           bool
	LogFile         string

	DispatchPause time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	AwaitTimeout  time.Duration
	EvictionGrace time.Duration
}

// Load loads the configuration. A .env file in the working directory is
// honored when present; real environment variables win. CONFIG_PATH may
// point at a YAML tunables file.
func Load() (*Config, error) {
	// Best-effort: absence of .env is the normal production case.
	_ = godotenv.Load()

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		return nil, errors.New("BOT_TOKEN environment variable is required")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/quizbot.db"
	}

	cfg := &Config{
		BotToken:       botToken,
		DeepseekAPIKey: os.Getenv("DEEPSEEK_API_KEY"),
		DatabasePath:   dbPath,
		Debug:          os.Getenv("DEBUG") == "true",

		DispatchPause: 400 * time.Millisecond,
		RetryAttempts: 3,
		RetryBackoff:  500 * time.Millisecond,
		AwaitTimeout:  10 * time.Minute,
		EvictionGrace: time.Minute,
	}

	if raw := os.Getenv("FORWARD_BACKUP_CHANNEL_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("FORWARD_BACKUP_CHANNEL_ID must be an integer chat ID")
		}
		cfg.BackupChannelID = id
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.applyTunables(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyTunables(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}

	c.DispatchPause = duration(t.Quiz.DispatchPause, c.DispatchPause)
	c.RetryBackoff = duration(t.Quiz.RetryBackoff, c.RetryBackoff)
	c.AwaitTimeout = duration(t.Quiz.AwaitTimeout, c.AwaitTimeout)
	c.EvictionGrace = duration(t.Quiz.EvictionGrace, c.EvictionGrace)
	if t.Quiz.RetryAttempts > 0 {
		c.RetryAttempts = t.Quiz.RetryAttempts
	}
	c.LogFile = t.Log.File
	return nil
}

// duration parses a duration string or returns the fallback if empty or
// invalid.
func duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
