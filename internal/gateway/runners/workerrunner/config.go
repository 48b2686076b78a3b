package workerrunner

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/internal/manifest"
)

// Defaults for worker lifecycle timing.
const (
	DefaultStartupTimeoutMs = int64(10000)
	DefaultInvokeTimeoutMs  = int64(60000)
	DefaultGracePeriodMs    = int64(5000)
)

// Config describes how to run one foreign-runtime worker.
type Config struct {
	// Runtime tags the worker; the manifest's entry.runtime selects it.
	Runtime manifest.Runtime `mapstructure:"runtime"`
	// Command is the worker executable and its arguments.
	Command []string `mapstructure:"command"`
	// Env adds environment variables to the worker process.
	Env map[string]string `mapstructure:"env"`
	// StartupTimeoutMs bounds spawn plus the first successful health check.
	StartupTimeoutMs int64 `mapstructure:"startupTimeoutMs"`
	// InvokeTimeoutMs bounds a single invoke round trip.
	InvokeTimeoutMs int64 `mapstructure:"invokeTimeoutMs"`
	// GracePeriodMs is how long shutdown waits before killing the process.
	GracePeriodMs int64 `mapstructure:"gracePeriodMs"`
}

// DecodeConfig builds a Config from a loosely typed map, as read from the
// gateway's configuration file.
func DecodeConfig(configMap map[string]any) (Config, error) {
	var config Config
	if err := mapstructure.Decode(configMap, &config); err != nil {
		return Config{}, runners.ErrInvalidConfig.Err(err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	config.applyDefaults()
	return config, nil
}

// Normalized validates the config and fills in default timings.
func (c Config) Normalized() (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

// Validate checks the config is runnable.
func (c *Config) Validate() error {
	switch c.Runtime {
	case manifest.RuntimeNode, manifest.RuntimePython:
	default:
		return runners.ErrInvalidConfig.Msg("unsupported worker runtime: " + string(c.Runtime))
	}
	if len(c.Command) == 0 {
		return runners.ErrInvalidConfig.Msg("worker command is empty")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.StartupTimeoutMs <= 0 {
		c.StartupTimeoutMs = DefaultStartupTimeoutMs
	}
	if c.InvokeTimeoutMs <= 0 {
		c.InvokeTimeoutMs = DefaultInvokeTimeoutMs
	}
	if c.GracePeriodMs <= 0 {
		c.GracePeriodMs = DefaultGracePeriodMs
	}
}

// StartupTimeout returns the startup deadline as a duration.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMs) * time.Millisecond
}

// InvokeTimeout returns the invoke deadline as a duration.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutMs) * time.Millisecond
}

// GracePeriod returns the shutdown grace as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// DefaultCommand returns the conventional worker command for a runtime, used
// when the gateway config does not override it.
func DefaultCommand(runtime manifest.Runtime) []string {
	switch runtime {
	case manifest.RuntimeNode:
		return []string{"node", "node_modules/@trikhub/worker-js/dist/worker.js"}
	case manifest.RuntimePython:
		return []string{"python3", "-u", "-m", "trikhub_worker"}
	default:
		return nil
	}
}
