package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"fleetsim/internal/models"

	"gopkg.in/yaml.v3"
)

// Config global configuration
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Redis     RedisConfig            `yaml:"redis"`
	MySQL     MySQLConfig            `yaml:"mysql"`
	Simulator SimulatorConfig        `yaml:"simulator"`
	Alerts    models.AlertThresholds `yaml:"alerts"`
	Analytics AnalyticsConfig        `yaml:"analytics"`
	Logger    LoggerConfig           `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // if empty, auth is disabled
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Channel    string `yaml:"channel"`     // pub/sub channel for snapshot batches
	TTLSeconds int    `yaml:"ttl_seconds"` // per-snapshot key TTL
	HistoryLen int64  `yaml:"history_len"` // per-node recent list length
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"` // 0 keeps history forever
}

// SimulatorConfig simulation cadence and fleet
type SimulatorConfig struct {
	TickInterval  int          `yaml:"tick_interval"`  // seconds
	AlertInterval int          `yaml:"alert_interval"` // seconds
	Timezone      string       `yaml:"timezone"`
	Seed          int64        `yaml:"seed"` // 0 picks a time-based seed
	Nodes         []NodeConfig `yaml:"nodes"`
}

// NodeConfig a node registered at startup
type NodeConfig struct {
	ID          string  `yaml:"id"`
	Online      bool    `yaml:"online"`
	CPU         float64 `yaml:"cpu"`
	RAM         float64 `yaml:"ram"`
	Temperature float64 `yaml:"temperature"`
	Uptime      int64   `yaml:"uptime"`
}

// AnalyticsConfig anomaly detection window
type AnalyticsConfig struct {
	WindowSize      int     `yaml:"window_size"`
	ZScoreThreshold float64 `yaml:"z_score_threshold"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Output string `yaml:"output"` // console, file, both
	File   string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			Channel:    "metrics:updates",
			TTLSeconds: 3600,
			HistoryLen: 1000,
		},
		Simulator: SimulatorConfig{
			TickInterval:  10,
			AlertInterval: 30,
			Timezone:      "Europe/Warsaw",
		},
		Alerts:    models.DefaultAlertThresholds(),
		Analytics: AnalyticsConfig{WindowSize: 50, ZScoreThreshold: 2.0},
		Logger:    LoggerConfig{Level: "info", Output: "console"},
	}
}

// Load reads the YAML file at CONFIG_PATH (default config/config.yaml) over
// the defaults, then applies environment overrides. A missing file is not
// an error.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
		c.MySQL.Enabled = true
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
}

func (s SimulatorConfig) TickEvery() time.Duration {
	if s.TickInterval <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TickInterval) * time.Second
}

func (s SimulatorConfig) AlertEvery() time.Duration {
	if s.AlertInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.AlertInterval) * time.Second
}

// Location resolves Timezone, falling back to UTC.
func (s SimulatorConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Retention is how long persisted history is kept; zero disables pruning.
func (m MySQLConfig) Retention() time.Duration {
	if m.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(m.RetentionDays) * 24 * time.Hour
}

func (r RedisConfig) TTL() time.Duration {
	if r.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(r.TTLSeconds) * time.Second
}
