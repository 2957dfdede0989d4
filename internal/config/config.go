package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"mdimage/internal/modules/downloader"
	"mdimage/internal/modules/persistence"
	"mdimage/internal/modules/pipeline"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "MDIMAGE"

// Config is the configuration of the CLI.
type Config struct {
	DestDir   string        `mapstructure:"dest_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Delay     time.Duration `mapstructure:"delay"`
	ChunkSize int           `mapstructure:"chunk_size"`
	LogLevel  string        `mapstructure:"log_level"`
	Progress  bool          `mapstructure:"progress"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		DestDir:   persistence.DefaultDir(),
		Timeout:   downloader.DefaultTimeout,
		Delay:     pipeline.DefaultOptions().Delay,
		ChunkSize: 1024,
		LogLevel:  "warn",
		Progress:  true,
	}
}

// FlagKeys maps config keys to the CLI flags that override them.
var FlagKeys = map[string]string{
	"dest_dir":   "dest",
	"timeout":    "timeout",
	"delay":      "delay",
	"chunk_size": "chunk-size",
	"log_level":  "log-level",
}

// Load builds the configuration from defaults, an optional YAML file,
// MDIMAGE_* environment variables and explicitly set flags, in increasing
// order of precedence.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("dest_dir", cfg.DestDir)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("delay", cfg.Delay)
	v.SetDefault("chunk_size", cfg.ChunkSize)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("progress", cfg.Progress)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mdimage")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mdimage")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("no-progress"); f != nil && f.Changed {
			v.Set("progress", false)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DestDir = expandPath(cfg.DestDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DestDir == "" {
		return errors.New("destination directory not configured")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", c.Timeout)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative: %s", c.Delay)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.ChunkSize)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
