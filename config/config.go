// Package config loads application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envFile = ".env"

// Load reads .env (without overriding real environment variables), then
// resolves every key through viper defaults and environment bindings.
func Load() (*Config, error) {
	if envMap, err := godotenv.Read(envFile); err == nil {
		for k, val := range envMap {
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, val)
			}
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORS.Origins = splitList(v.GetString("cors.origins"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("cors.origins", "http://localhost:8081,http://localhost:19006")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "wordduel")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "wordduel.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("realtime.driver", "memory")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "wordduel.changes")

	v.SetDefault("matchmaking.max_attempts", 3)
	v.SetDefault("matchmaking.retry_delay", 500*time.Millisecond)
	v.SetDefault("matchmaking.start_grace", 1500*time.Millisecond)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", 5*time.Minute)
	v.SetDefault("cleanup.team_ttl", 30*time.Minute)
	v.SetDefault("cleanup.session_ttl", 24*time.Hour)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.max_requests", 100)
	v.SetDefault("ratelimit.window", 15*time.Minute)
}

// envAliases maps keys onto the short variable names used in deployment.
var envAliases = map[string]string{
	"app.env":           "APP_ENV",
	"server.port":       "PORT",
	"log.level":         "LOG_LEVEL",
	"jwt.secret":        "JWT_SECRET",
	"cors.origins":      "CORS_ORIGINS",
	"database.driver":   "DB_DRIVER",
	"database.url":      "DATABASE_URL",
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
	"database.sslmode":  "DB_SSLMODE",
	"realtime.driver":   "REALTIME_DRIVER",
	"nats.url":          "NATS_URL",
	"ratelimit.enabled": "RATE_LIMIT_ENABLED",
}

func bindEnvs(v *viper.Viper) error {
	keys := []string{
		"server.shutdown_timeout",
		"database.sqlite_path",
		"database.log_level",
		"database.max_open_conns",
		"database.max_idle_conns",
		"nats.subject_prefix",
		"matchmaking.max_attempts",
		"matchmaking.retry_delay",
		"matchmaking.start_grace",
		"cleanup.enabled",
		"cleanup.interval",
		"cleanup.team_ttl",
		"cleanup.session_ttl",
		"ratelimit.max_requests",
		"ratelimit.window",
	}
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return fmt.Errorf("bind %s: %w", k, err)
		}
	}
	for k, env := range envAliases {
		if err := v.BindEnv(k, env, strings.ToUpper(strings.ReplaceAll(k, ".", "_"))); err != nil {
			return fmt.Errorf("bind %s: %w", k, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
