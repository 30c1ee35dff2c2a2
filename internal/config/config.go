package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Mail      MailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Environment string  `envconfig:"APP_ENV" default:"development"`
	LogLevel    string  `envconfig:"LOG_LEVEL" default:"info"`
	BidRate     float64 `envconfig:"BID_RATE_LIMIT" default:"20"` // bids per second per client
	BidBurst    int     `envconfig:"BID_RATE_BURST" default:"40"`
}

// DatabaseConfig selects and locates the auction ledger.
type DatabaseConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"` // memory, sqlite, mysql or postgres
	Path   string `envconfig:"DB_PATH" default:"./data/auctions.db"`
	DSN    string `envconfig:"DB_DSN" default:""`
}

// CacheConfig holds highest-bid cache settings.
type CacheConfig struct {
	Type      string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	OpTimeout time.Duration `envconfig:"CACHE_OP_TIMEOUT" default:"500ms"`
	KeyPrefix string        `envconfig:"CACHE_KEY_PREFIX" default:"auction"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// SchedulerConfig holds expiry scheduler settings.
type SchedulerConfig struct {
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
}

// MailConfig holds the outbound SMTP settings for winner notifications.
type MailConfig struct {
	Host     string `envconfig:"SMTP_HOST" default:""`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USER" default:""`
	Password string `envconfig:"SMTP_PASS" default:""`
	From     string `envconfig:"MAIL_FROM" default:""`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// LedgerDSN returns the data source for the configured driver. SQLite uses
// the file path; the network drivers use DB_DSN.
func (d *DatabaseConfig) LedgerDSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return d.DSN
}

// IsConfigured reports whether winner notifications can be sent.
func (m *MailConfig) IsConfigured() bool {
	return m.Host != "" && m.From != ""
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: DB_DSN is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported CACHE_TYPE %q", c.Cache.Type)
	}

	if c.App.BidRate < 0 || c.App.BidBurst < 0 {
		return fmt.Errorf("config: bid rate limit must not be negative")
	}
	if c.App.BidRate > 0 && c.App.BidBurst < 1 {
		return fmt.Errorf("config: BID_RATE_BURST must be at least 1 when BID_RATE_LIMIT is set")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
