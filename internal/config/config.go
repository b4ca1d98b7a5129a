package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the game server process.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Protocol
	ProtocolVersion       int32 `yaml:"protocol_version"`
	OnlineMode            bool  `yaml:"online_mode"`
	CompressionThreshold  int32 `yaml:"compression_threshold"`
	StatusIdleTimeoutSecs int   `yaml:"status_idle_timeout_seconds"`

	// Keys
	RSAKeyBits int `yaml:"rsa_key_bits"`

	// Rate limiting (§4.E accept-loop flood protection)
	RateLimitWindow   string `yaml:"rate_limit_window"` // duration, e.g. "10s"
	RateLimitMaxConns int    `yaml:"rate_limit_max_conns"`

	// Heartbeat (§4.G)
	HeartbeatInterval  string `yaml:"heartbeat_interval"` // duration, e.g. "15s"
	HeartbeatTimeout   string `yaml:"heartbeat_timeout"`  // duration, e.g. "30s"
	MaxConsecutiveMiss int    `yaml:"max_consecutive_miss"`

	// World
	WorldDirectory string `yaml:"world_directory"`
	ViewDistance   int32  `yaml:"view_distance"`
	WorldSeed      int64  `yaml:"world_seed"`

	// Session service (§4.L)
	SessionServiceBaseURL string `yaml:"session_service_base_url"`
	SessionServiceRetries int    `yaml:"session_service_max_retries"`

	// Database (§4.M)
	Database DatabaseConfig `yaml:"database"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)
}

// StatusIdleTimeout parses StatusIdleTimeoutSecs into a duration; 0 means no
// timeout.
func (s Server) StatusIdleTimeout() time.Duration {
	return time.Duration(s.StatusIdleTimeoutSecs) * time.Second
}

// HeartbeatIntervalDuration parses HeartbeatInterval, falling back to 15s on
// a malformed or empty value.
func (s Server) HeartbeatIntervalDuration() time.Duration {
	return parseDurationOr(s.HeartbeatInterval, 15*time.Second)
}

// HeartbeatTimeoutDuration parses HeartbeatTimeout, falling back to 30s on a
// malformed or empty value.
func (s Server) HeartbeatTimeoutDuration() time.Duration {
	return parseDurationOr(s.HeartbeatTimeout, 30*time.Second)
}

// RateLimitWindowDuration parses RateLimitWindow, falling back to 10s on a
// malformed or empty value.
func (s Server) RateLimitWindowDuration() time.Duration {
	return parseDurationOr(s.RateLimitWindow, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// Connection pool parameters (optional, defaults from pgxpool apply if not set)
	MaxConns          int32  `yaml:"max_conns"`           // default: max(4, NumCPU)
	MinConns          int32  `yaml:"min_conns"`           // default: 0
	MaxConnLifetime   string `yaml:"max_conn_lifetime"`   // duration, e.g. "1h"
	MaxConnIdleTime   string `yaml:"max_conn_idle_time"`  // duration, e.g. "30m"
	HealthCheckPeriod string `yaml:"health_check_period"` // duration, e.g. "1m"
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params []string
	if d.MaxConns > 0 {
		params = append(params, fmt.Sprintf("pool_max_conns=%d", d.MaxConns))
	}
	if d.MinConns > 0 {
		params = append(params, fmt.Sprintf("pool_min_conns=%d", d.MinConns))
	}
	if d.MaxConnLifetime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_lifetime=%s", d.MaxConnLifetime))
	}
	if d.MaxConnIdleTime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_idle_time=%s", d.MaxConnIdleTime))
	}
	if d.HealthCheckPeriod != "" {
		params = append(params, fmt.Sprintf("pool_health_check_period=%s", d.HealthCheckPeriod))
	}

	if len(params) > 0 {
		return base + "&" + strings.Join(params, "&")
	}
	return base
}

// Default returns a Server config with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:           "0.0.0.0",
		Port:                  25565,
		ProtocolVersion:       772,
		OnlineMode:            true,
		CompressionThreshold:  256,
		StatusIdleTimeoutSecs: 30,
		RSAKeyBits:            1024,
		RateLimitWindow:       "10s",
		RateLimitMaxConns:     8,
		HeartbeatInterval:     "15s",
		HeartbeatTimeout:      "30s",
		MaxConsecutiveMiss:    3,
		WorldDirectory:        "./world",
		ViewDistance:          8,
		WorldSeed:             0,
		SessionServiceBaseURL: "https://sessionserver.mojang.com",
		SessionServiceRetries: 3,
		LogLevel:              "info",
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "blockworld",
			Password: "blockworld",
			DBName:  "blockworld",
			SSLMode: "disable",
		},
	}
}

// Load loads server config from a YAML file, overlaying it on top of
// Default(). If the file doesn't exist, returns defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
