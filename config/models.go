package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	CORS        CORSConfig        `mapstructure:"-"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt.secret must be at least 32 characters")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Realtime.Driver {
	case "memory", "nats":
	case "postgres":
		if c.Database.Driver != "postgres" {
			return errors.New("realtime.driver=postgres requires database.driver=postgres")
		}
	default:
		return fmt.Errorf("realtime.driver %q is not supported", c.Realtime.Driver)
	}
	if c.Matchmaking.MaxAttempts < 1 {
		return errors.New("matchmaking.max_attempts must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) ServerAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type CORSConfig struct {
	Origins []string
}

// DatabaseConfig describes the store connection.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	LogLevel     string `mapstructure:"log_level"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns DATABASE_URL when set, otherwise a key/value Postgres DSN.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RealtimeConfig struct {
	Driver string `mapstructure:"driver"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MatchmakingConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	StartGrace  time.Duration `mapstructure:"start_grace"`
}

type CleanupConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	TeamTTL    time.Duration `mapstructure:"team_ttl"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}
