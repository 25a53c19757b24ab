package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PETPULSE_"

// Config contains runtime configuration for petpulse.
type Config struct {
	ServerName             string  `yaml:"server_name" env:"SERVER_NAME"`
	DBPath                 string  `yaml:"db_path" env:"DB_PATH"`
	LogLevel               string  `yaml:"log_level" env:"LOG_LEVEL"`
	RosterPath             string  `yaml:"roster_path" env:"ROSTER_PATH"`
	TickIntervalSeconds    int     `yaml:"tick_interval_seconds" env:"TICK_INTERVAL_SECONDS"`
	CleanupIntervalSeconds int     `yaml:"cleanup_interval_seconds" env:"CLEANUP_INTERVAL_SECONDS"`
	MaxConcurrentBots      int     `yaml:"max_concurrent_bots" env:"MAX_CONCURRENT_BOTS"`
	GenerationPerMinute    float64 `yaml:"generation_per_minute" env:"GENERATION_PER_MINUTE"`
	GenerationBurst        int     `yaml:"generation_burst" env:"GENERATION_BURST"`
	TopicCooldownHours     float64 `yaml:"topic_cooldown_hours" env:"TOPIC_COOLDOWN_HOURS"`
	LockBackend            string  `yaml:"lock_backend" env:"LOCK_BACKEND"`
	RedisAddr              string  `yaml:"redis_addr" env:"REDIS_ADDR"`
	LockTTLSeconds         int     `yaml:"lock_ttl_seconds" env:"LOCK_TTL_SECONDS"`
	InteractionRetries     int     `yaml:"interaction_retries" env:"INTERACTION_RETRIES"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		ServerName:             "petpulse",
		DBPath:                 filepath.Join(userHomeDir(), ".petpulse", "petpulse.db"),
		LogLevel:               "info",
		RosterPath:             "config/roster.yaml",
		TickIntervalSeconds:    900,
		CleanupIntervalSeconds: 3600,
		MaxConcurrentBots:      8,
		GenerationPerMinute:    30,
		GenerationBurst:        5,
		TopicCooldownHours:     6,
		LockBackend:            "local",
		RedisAddr:              "127.0.0.1:6379",
		LockTTLSeconds:         10,
		InteractionRetries:     5,
	}
}

// Load builds the config in layers: defaults, then the YAML file at path (a
// missing file is fine), then a .env file in the working directory if one
// exists, then PETPULSE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config yaml: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.TickIntervalSeconds <= 0 {
		return errors.New("tick_interval_seconds must be > 0")
	}
	if c.CleanupIntervalSeconds <= 0 {
		return errors.New("cleanup_interval_seconds must be > 0")
	}
	if c.MaxConcurrentBots <= 0 {
		return errors.New("max_concurrent_bots must be > 0")
	}
	if c.GenerationPerMinute <= 0 {
		return errors.New("generation_per_minute must be > 0")
	}
	if c.GenerationBurst <= 0 {
		return errors.New("generation_burst must be > 0")
	}
	if c.TopicCooldownHours <= 0 {
		return errors.New("topic_cooldown_hours must be > 0")
	}
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	switch c.LockBackend {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when lock_backend is redis")
		}
	default:
		return fmt.Errorf("lock_backend must be local or redis, got %q", c.LockBackend)
	}
	if c.LockTTLSeconds <= 0 {
		return errors.New("lock_ttl_seconds must be > 0")
	}
	if c.InteractionRetries <= 0 {
		return errors.New("interaction_retries must be > 0")
	}
	return nil
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.DBPath = ExpandPath(c.DBPath)
	c.RosterPath = ExpandPath(c.RosterPath)
	parent := filepath.Dir(c.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
