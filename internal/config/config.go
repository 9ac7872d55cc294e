// Package config loads the administration server configuration from a YAML
// file, an optional .env file and ADMIN_* environment variables, in that
// order of precedence from lowest to highest.
package config

import (
	"admin_service/pkg/validator"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "ADMIN_"

type StoreConfig struct {
	Driver         string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath     string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	SQLitePoolSize int    `yaml:"sqlite_pool_size" validate:"gte=1,lte=64"`
	PostgresDSN    string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	Cache          bool   `yaml:"cache"`
}

type AuditConfig struct {
	Workers   int `yaml:"workers" validate:"gte=1,lte=32"`
	QueueSize int `yaml:"queue_size" validate:"gte=1"`
}

type Config struct {
	ListenAddr       string        `yaml:"listen_addr" validate:"required"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	LogLevel         string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	SessionSecret    string        `yaml:"session_secret" validate:"required,min=16"`
	SessionTTL       time.Duration `yaml:"session_ttl" validate:"gt=0"`
	Store            StoreConfig   `yaml:"store"`
	Audit            AuditConfig   `yaml:"audit"`
	EntitlementsPath string        `yaml:"entitlements_path"`
	DirectoryPath    string        `yaml:"directory_path"`
}

// Default returns a configuration that only lacks a session secret.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		SessionTTL:  24 * time.Hour,
		Store: StoreConfig{
			Driver:         "memory",
			SQLitePoolSize: 4,
		},
		Audit: AuditConfig{
			Workers:   2,
			QueueSize: 1024,
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from path into the environment when the file
// exists. Variables already set are left alone.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from ADMIN_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := func(key string) (string, bool) {
		value, ok := lookup(EnvPrefix + key)
		return value, ok && value != ""
	}
	setString := func(key string, field *string) {
		if value, ok := env(key); ok {
			*field = value
		}
	}
	setString("LISTEN_ADDR", &c.ListenAddr)
	setString("METRICS_ADDR", &c.MetricsAddr)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("SESSION_SECRET", &c.SessionSecret)
	setString("STORE_DRIVER", &c.Store.Driver)
	setString("SQLITE_PATH", &c.Store.SQLitePath)
	setString("POSTGRES_DSN", &c.Store.PostgresDSN)
	setString("ENTITLEMENTS_PATH", &c.EntitlementsPath)
	setString("DIRECTORY_PATH", &c.DirectoryPath)

	if value, ok := env("SESSION_TTL"); ok {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %sSESSION_TTL: %w", EnvPrefix, err)
		}
		c.SessionTTL = ttl
	}
	ints := []struct {
		key   string
		field *int
	}{
		{"SQLITE_POOL_SIZE", &c.Store.SQLitePoolSize},
		{"AUDIT_WORKERS", &c.Audit.Workers},
		{"AUDIT_QUEUE_SIZE", &c.Audit.QueueSize},
	}
	for _, entry := range ints {
		if value, ok := env(entry.key); ok {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, entry.key, err)
			}
			*entry.field = n
		}
	}
	if value, ok := env("STORE_CACHE"); ok {
		cache, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %sSTORE_CACHE: %w", EnvPrefix, err)
		}
		c.Store.Cache = cache
	}
	return nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
