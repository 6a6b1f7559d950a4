package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Inventory string          `mapstructure:"inventory"`
	TaskFile  string          `mapstructure:"taskfile"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format"`
	Timestamps bool   `mapstructure:"timestamps"`
}

// SSHConfig holds everything needed to open a session on a remote host
type SSHConfig struct {
	User            string   `mapstructure:"user"`
	Port            int      `mapstructure:"port"`
	Timeout         int      `mapstructure:"timeout"`
	DisablePubkey   bool     `mapstructure:"disable_pubkey"`
	PrivateKeys     []string `mapstructure:"private_keys"`
	IdentitiesOnly  bool     `mapstructure:"identities_only"`
	HostKeyChecking bool     `mapstructure:"host_key_checking"`
	KnownHosts      string   `mapstructure:"known_hosts"`
}

// ExecutionConfig holds the process-wide switches read by the runner
type ExecutionConfig struct {
	BreakOnError   bool `mapstructure:"break_on_error"`
	Quiet          bool `mapstructure:"quiet"`
	Parallel       bool `mapstructure:"parallel"`
	Sleep          int  `mapstructure:"sleep"`
	MaxConcurrency int  `mapstructure:"max_concurrency"`
}

// MetricsConfig controls where task metrics are written after a run.
// An empty Textfile disables the export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load loads configuration from files and environment variables
func Load(configPaths ...string) (*Config, error) {
	return LoadWithViper(viper.New(), configPaths...)
}

// LoadWithViper behaves like Load but uses the given viper instance, so callers
// can bind command line flags before the configuration is unmarshaled.
func LoadWithViper(v *viper.Viper, configPaths ...string) (*Config, error) {
	setDefaults(v)

	for _, path := range configPaths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("SPINDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that cannot be expressed through defaults alone.
func (c *Config) Validate() error {
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh.port %d", c.SSH.Port)
	}
	if c.Execution.Sleep < 0 {
		return fmt.Errorf("execution.sleep must not be negative, got %d", c.Execution.Sleep)
	}
	if c.Execution.MaxConcurrency < 0 {
		return fmt.Errorf("execution.max_concurrency must not be negative, got %d", c.Execution.MaxConcurrency)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.format", "plain")
	v.SetDefault("logging.timestamps", true)

	// SSH defaults
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.timeout", 30)
	v.SetDefault("ssh.disable_pubkey", false)
	v.SetDefault("ssh.identities_only", false)
	v.SetDefault("ssh.host_key_checking", false)
	v.SetDefault("ssh.known_hosts", "~/.ssh/known_hosts")

	// Execution defaults
	v.SetDefault("execution.break_on_error", false)
	v.SetDefault("execution.quiet", false)
	v.SetDefault("execution.parallel", false)
	v.SetDefault("execution.sleep", 0)
	v.SetDefault("execution.max_concurrency", 10)

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("inventory", "")
	v.SetDefault("taskfile", "")
}
