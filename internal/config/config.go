package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all drydock runtime configuration. Values are read from a
// config file and DRYDOCK_* environment variables, with env taking priority.
type Config struct {
	DatabaseURL string        `mapstructure:"database_url"`
	APIPort     int           `mapstructure:"api_port"`
	Debug       bool          `mapstructure:"debug"`
	Sandbox     SandboxConfig `mapstructure:"sandbox"`
	Backup      BackupConfig  `mapstructure:"backup"`
	Watcher     WatcherConfig `mapstructure:"watcher"`
}

// SandboxConfig selects and configures the sandbox provider backend.
type SandboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // "machines" or "docker"

	// Remote machines provider
	APIURL   string `mapstructure:"api_url"`
	APIToken string `mapstructure:"api_token"`
	Region   string `mapstructure:"region"`
	MemoryMB int    `mapstructure:"memory_mb"`
	CPUs     int    `mapstructure:"cpus"`

	// Shared
	Image   string `mapstructure:"image"`
	Workdir string `mapstructure:"workdir"`

	// Local docker provider
	DockerHost       string `mapstructure:"docker_host"`
	WorkspaceBaseDir string `mapstructure:"workspace_base_dir"`
}

// BackupConfig controls the periodic backup scheduler and snapshot limits.
type BackupConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxFiles int           `mapstructure:"max_files"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// WatcherConfig controls the local filesystem watcher.
type WatcherConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads configuration via viper. cfgFile may be empty, in which case
// only defaults and environment variables apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database_url", "drydock.db")
	v.SetDefault("api_port", 8585)
	v.SetDefault("debug", false)

	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.api_url", "https://api.machines.dev/v1")
	// AutomaticEnv only resolves keys viper already knows about, so even
	// default-less keys need a registration for DRYDOCK_* overrides to land.
	v.SetDefault("sandbox.api_token", "")
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.region", "ord")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpus", 1)
	v.SetDefault("sandbox.image", "ubuntu:24.04")
	v.SetDefault("sandbox.workdir", "/workspace")
	v.SetDefault("sandbox.workspace_base_dir", "/tmp/drydock-workspaces")

	v.SetDefault("backup.interval", 5*time.Minute)
	v.SetDefault("backup.max_files", 2000)
	v.SetDefault("backup.max_bytes", int64(64*1024*1024))

	v.SetDefault("watcher.debounce", 500*time.Millisecond)

	v.SetEnvPrefix("DRYDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Sandbox.Backend == "machines" && cfg.Sandbox.APIToken == "" {
		return nil, fmt.Errorf("sandbox.api_token is required for the machines backend")
	}

	return &cfg, nil
}
