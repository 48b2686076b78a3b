// Package config holds the runtime configuration of the gateway process:
// server binding, auth, worker commands, storage backend, and content TTL.
// Configuration is a TOML file with a .env overlay for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Molefas/trikhub/internal/gateway/runners/workerrunner"
	"github.com/Molefas/trikhub/internal/manifest"
)

// WorkerConfigParam configures one foreign-runtime worker.
type WorkerConfigParam struct {
	Runtime          string   `toml:"runtime" validate:"required,oneof=node python"`
	Command          []string `toml:"command" validate:"required,min=1"`
	StartupTimeoutMs int64    `toml:"startup_timeout_ms"`
	InvokeTimeoutMs  int64    `toml:"invoke_timeout_ms"`
	GracePeriodMs    int64    `toml:"grace_period_ms"`
}

// StorageConfigParam selects and configures the storage backend.
type StorageConfigParam struct {
	Backend  string `toml:"backend" validate:"omitempty,oneof=memory postgres"` // defaults to memory
	DSN      string `toml:"dsn"`
	Compress bool   `toml:"compress"`
}

// AuthConfigParam configures the HTTP facade's bearer auth.
type AuthConfigParam struct {
	SharedSecret string `toml:"shared_secret"`
}

// ConfigParam holds all configuration parameters for the gateway process.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	ServerHostName string `toml:"server_hostname"` // hostname for the server
	ServerPort     string `toml:"server_port"`     // port for the server
	HandleCORS     bool   `toml:"handle_cors"`     // whether to handle CORS
	EnableMCP      bool   `toml:"enable_mcp"`      // whether to expose the MCP endpoint

	// TriksDir holds installed triks; ConfigPath points at .trikhub/config.json.
	TriksDir   string `toml:"triks_dir"`
	ConfigPath string `toml:"config_path"`

	// ContentTTLMs bounds unredeemed passthrough payloads.
	ContentTTLMs int64 `toml:"content_ttl_ms"`

	Auth    AuthConfigParam     `toml:"auth"`
	Storage StorageConfigParam  `toml:"storage"`
	Workers []WorkerConfigParam `toml:"workers" validate:"dive"`
}

var cfg *ConfigParam

// Config returns the current configuration.
func Config() *ConfigParam {
	return cfg
}

// LoadConfig reads a TOML config file, overlays .env, and validates the
// result. Environment variables override the auth secret and storage DSN.
func LoadConfig(path string) error {
	// .env overlay is best effort; absence is normal outside development
	_ = godotenv.Load()

	var loaded ConfigParam
	if path != "" {
		if _, err := toml.DecodeFile(path, &loaded); err != nil {
			return fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if secret := os.Getenv("TRIKHUB_AUTH_SECRET"); secret != "" {
		loaded.Auth.SharedSecret = secret
	}
	if dsn := os.Getenv("TRIKHUB_STORAGE_DSN"); dsn != "" {
		loaded.Storage.DSN = dsn
	}
	loaded.applyDefaults()

	if err := validate(&loaded); err != nil {
		return err
	}
	cfg = &loaded
	return nil
}

func (c *ConfigParam) applyDefaults() {
	if c.ServerHostName == "" {
		c.ServerHostName = "localhost"
	}
	if c.ServerPort == "" {
		c.ServerPort = "8627"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
}

func validate(c *ConfigParam) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("invalid configuration: storage.dsn is required for the postgres backend")
	}
	return nil
}

// ContentTTL returns the configured passthrough TTL.
func (c *ConfigParam) ContentTTL() time.Duration {
	return time.Duration(c.ContentTTLMs) * time.Millisecond
}

// WorkerConfigs converts the declared workers into runner configs keyed by
// runtime.
func (c *ConfigParam) WorkerConfigs() map[manifest.Runtime]workerrunner.Config {
	if len(c.Workers) == 0 {
		return nil
	}
	configs := make(map[manifest.Runtime]workerrunner.Config, len(c.Workers))
	for _, w := range c.Workers {
		configs[manifest.Runtime(w.Runtime)] = workerrunner.Config{
			Runtime:          manifest.Runtime(w.Runtime),
			Command:          w.Command,
			StartupTimeoutMs: w.StartupTimeoutMs,
			InvokeTimeoutMs:  w.InvokeTimeoutMs,
			GracePeriodMs:    w.GracePeriodMs,
		}
	}
	return configs
}

// TestInit installs a minimal configuration for tests.
func TestInit() {
	cfg = &ConfigParam{}
	cfg.applyDefaults()
}
