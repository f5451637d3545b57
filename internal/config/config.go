package config

import (
	"errors"
	"time"
)

// Config represents the relay service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MessageLog  MessageLogConfig  `mapstructure:"message_log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Tarantool   TarantoolConfig   `mapstructure:"tarantool"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Hub         HubConfig         `mapstructure:"hub"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Authz       AuthzConfig       `mapstructure:"authz"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	NodeID          string        `mapstructure:"node_id"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MessageLogConfig selects the message log backend
type MessageLogConfig struct {
	Backend string `mapstructure:"backend"` // memory, postgres, tarantool
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the Redis decision cache configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TarantoolConfig represents the Tarantool message log configuration
type TarantoolConfig struct {
	Address  string        `mapstructure:"address"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheConfig represents decision cache configuration
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // memory, redis
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// HubConfig represents connection hub configuration
type HubConfig struct {
	Echo           bool          `mapstructure:"echo"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	OutboundBuffer int           `mapstructure:"outbound_buffer"`
}

// HeartbeatConfig represents liveness monitor thresholds
type HeartbeatConfig struct {
	DegradedThreshold time.Duration `mapstructure:"degraded_threshold"`
	OfflineThreshold  time.Duration `mapstructure:"offline_threshold"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// GossipConfig represents the cluster gossip heartbeat source
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
}

// AuthzConfig represents authorization configuration
type AuthzConfig struct {
	// RolesFile seeds the in-memory permission store; ignored when the
	// permission store backend is postgres.
	RolesFile string `mapstructure:"roles_file"`
	Backend   string `mapstructure:"backend"` // memory, postgres
}

// RateLimiterConfig represents HTTP rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if !isValidLogBackend(c.MessageLog.Backend) {
		return errors.New("message_log.backend must be one of: memory, postgres, tarantool")
	}
	if c.MessageLog.Backend == "postgres" || c.Authz.Backend == "postgres" {
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	}
	if c.MessageLog.Backend == "tarantool" && c.Tarantool.Address == "" {
		return errors.New("tarantool.address is required")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return errors.New("cache.backend must be one of: memory, redis")
	}
	if c.Cache.Backend == "redis" && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Authz.Backend != "memory" && c.Authz.Backend != "postgres" {
		return errors.New("authz.backend must be one of: memory, postgres")
	}
	if c.Heartbeat.DegradedThreshold <= 0 {
		return errors.New("heartbeat.degraded_threshold must be positive")
	}
	if c.Heartbeat.OfflineThreshold <= c.Heartbeat.DegradedThreshold {
		return errors.New("heartbeat.offline_threshold must be greater than degraded_threshold")
	}
	if c.Hub.ConnectTimeout <= 0 {
		return errors.New("hub.connect_timeout must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// isValidLogBackend checks if the message log backend is valid
func isValidLogBackend(backend string) bool {
	switch backend {
	case "memory", "postgres", "tarantool":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			NodeID:          "relay-1",
			ReadTimeout:     10 * time.Second,
			// Write timeout stays unset so long-lived event streams are
			// not cut off by the server.
			WriteTimeout: 0,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		MessageLog: MessageLogConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "relay",
			User:            "relay",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		Tarantool: TarantoolConfig{
			Address: "localhost:3301",
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
			MaxSize: 10000,
		},
		Hub: HubConfig{
			Echo:           false,
			ConnectTimeout: 5 * time.Second,
			OutboundBuffer: 64,
		},
		Heartbeat: HeartbeatConfig{
			DegradedThreshold: 30 * time.Second,
			OfflineThreshold:  90 * time.Second,
			SweepInterval:     15 * time.Second,
		},
		Gossip: GossipConfig{
			Enabled:        false,
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeTimeout:   500 * time.Millisecond,
			ProbeInterval:  1 * time.Second,
		},
		Authz: AuthzConfig{
			Backend:   "memory",
			RolesFile: "./roles.yaml",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
