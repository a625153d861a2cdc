// Package config handles configuration loading and validation for replica.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the replica's configuration.
type Config struct {
	// ClientID identifies this replica's mutations. Empty means a UUIDv7 is
	// generated for the process.
	ClientID string `toml:"client_id" yaml:"client_id" json:"client_id" validate:"omitempty,max=128,printascii"`

	// Backend selects the chunk store implementation.
	Backend string `toml:"backend" yaml:"backend" json:"backend" validate:"required,oneof=memory sqlite badger"`

	// Path is the database file (sqlite) or directory (badger).
	Path string `toml:"path" yaml:"path" json:"path" validate:"required_unless=Backend memory"`

	// Head is the head name the replica advances.
	Head string `toml:"head" yaml:"head" json:"head" validate:"required,max=256"`

	// MutatorsDir holds CUE mutator definitions.
	MutatorsDir string `toml:"mutators_dir" yaml:"mutators_dir" json:"mutators_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level" json:"log_level" validate:"required,oneof=debug info warn error"`

	// MaxRetries bounds compare-and-swap retries in Mutate.
	MaxRetries int `toml:"max_retries" yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=1000"`

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool `toml:"sync_writes" yaml:"sync_writes" json:"sync_writes"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendSQLite,
		Path:       "replica.db",
		Head:       "main",
		LogLevel:   "info",
		MaxRetries: 8,
		SyncWrites: true,
	}
}

var validate = validator.New()

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with REPLICA_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("REPLICA_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("REPLICA_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("REPLICA_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("REPLICA_HEAD"); v != "" {
		c.Head = v
	}
	if v := os.Getenv("REPLICA_MUTATORS_DIR"); v != "" {
		c.MutatorsDir = v
	}
	if v := os.Getenv("REPLICA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REPLICA_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("REPLICA_SYNC_WRITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SyncWrites = b
		}
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
