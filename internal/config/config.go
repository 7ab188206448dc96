package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	MigrateOnStart         bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	DefaultTenantID        string
	TenantTimezone         string
	MethodCacheTTLSeconds  int
	OperatorLockTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	SeedAdminPassword      string
	Log                    LogConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load reads an optional config.toml from the working directory or /app,
// then lets environment variables override every key.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		Port:                   v.GetString("port"),
		AllowedOrigin:          v.GetString("allowed_origin"),
		DatabaseURL:            strings.TrimSpace(v.GetString("database_url")),
		MigrateOnStart:         v.GetBool("migrate_on_start"),
		RedisAddr:              strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                v.GetInt("redis_db"),
		DefaultTenantID:        strings.TrimSpace(v.GetString("default_tenant_id")),
		TenantTimezone:         strings.TrimSpace(v.GetString("tenant_timezone")),
		MethodCacheTTLSeconds:  positiveOr(v.GetInt("method_cache_ttl_seconds"), 60),
		OperatorLockTTLSeconds: positiveOr(v.GetInt("operator_lock_ttl_seconds"), 10),
		AuthSecret:             strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes:  positiveOr(v.GetInt("access_token_ttl_minutes"), 480),
		SeedAdminPassword:      v.GetString("seed_admin_password"),
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
			Output: v.GetString("log_output"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("migrate_on_start", true)
	v.SetDefault("redis_db", 0)
	v.SetDefault("default_tenant_id", "main-laundry")
	v.SetDefault("tenant_timezone", "America/Lima")
	v.SetDefault("method_cache_ttl_seconds", 60)
	v.SetDefault("operator_lock_ttl_seconds", 10)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves the tenant's IANA zone used for every calendar-day
// computation.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TenantTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TENANT_TIMEZONE %q: %w", c.TenantTimezone, err)
	}
	return loc, nil
}

func (c Config) MethodCacheTTL() time.Duration {
	return time.Duration(c.MethodCacheTTLSeconds) * time.Second
}

func (c Config) OperatorLockTTL() time.Duration {
	return time.Duration(c.OperatorLockTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
