package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Transport TransportConfig `json:"transport"`
	Discovery DiscoveryConfig `json:"discovery"`
	Tasks     TaskConfig      `json:"tasks"`
	Queue     QueueConfig     `json:"queue"`
	Notify    NotifyConfig    `json:"notify"`
	Assistant AssistantConfig `json:"assistant"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	// DSN empty disables persistence; the mesh runs in-memory only.
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// TransportConfig selects how agents exchange envelopes. Mode "local" is
// in-process channels, "redis" is Redis Streams.
type TransportConfig struct {
	Mode string `json:"mode"`
}

type DiscoveryConfig struct {
	LivenessSeconds int `json:"liveness_seconds"`
	GraceSeconds    int `json:"grace_seconds"`
	SweepSeconds    int `json:"sweep_seconds"`
}

// Liveness returns the liveness window, zero meaning the service default.
func (d DiscoveryConfig) Liveness() time.Duration {
	return time.Duration(d.LivenessSeconds) * time.Second
}

func (d DiscoveryConfig) Grace() time.Duration {
	return time.Duration(d.GraceSeconds) * time.Second
}

func (d DiscoveryConfig) Sweep() time.Duration {
	return time.Duration(d.SweepSeconds) * time.Second
}

type TaskConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxRetries     int `json:"max_retries"`
	BackoffMillis  int `json:"backoff_ms"`
}

func (t TaskConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (t TaskConfig) Backoff() time.Duration {
	return time.Duration(t.BackoffMillis) * time.Millisecond
}

type QueueConfig struct {
	MinWaitMinutes    int `json:"min_wait_minutes"`
	DefaultAvgMinutes int `json:"default_avg_minutes"`
}

func (q QueueConfig) MinWait() time.Duration {
	return time.Duration(q.MinWaitMinutes) * time.Minute
}

func (q QueueConfig) DefaultAvg() time.Duration {
	return time.Duration(q.DefaultAvgMinutes) * time.Minute
}

type NotifyConfig struct {
	Slack   SlackConfig   `json:"slack"`
	Discord DiscordConfig `json:"discord"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type AssistantConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "local"
	}
	return &cfg, nil
}
