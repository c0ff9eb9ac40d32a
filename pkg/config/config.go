// Package config loads host configuration from the steward config file,
// environment, and flags via viper.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the fully resolved host configuration.
type Config struct {
	// SkillDirs are scanned in order; the first skill claiming a name wins.
	SkillDirs []string `mapstructure:"skill_dirs"`
	// DBPath is the sqlite database backing memory and skill storage.
	DBPath string `mapstructure:"db_path"`
	// VenvRoot holds the per-fingerprint virtual environments.
	VenvRoot string `mapstructure:"venv_root"`
	// Python is the interpreter used to build virtual environments.
	Python string `mapstructure:"python"`
	// TickInterval is the schedule clock resolution.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// MaxRPCCalls caps capability calls per sandboxed invocation.
	MaxRPCCalls int `mapstructure:"max_rpc_calls"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Home returns the steward config directory, creating nothing.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".steward"
	}
	return filepath.Join(home, ".steward")
}

// SetDefaults registers fallback values on the global viper instance.
func SetDefaults() {
	home := Home()
	viper.SetDefault("skill_dirs", []string{filepath.Join(home, "skills")})
	viper.SetDefault("db_path", filepath.Join(home, "steward.db"))
	viper.SetDefault("venv_root", filepath.Join(home, "venvs"))
	viper.SetDefault("python", "python3")
	viper.SetDefault("tick_interval", time.Minute)
	viper.SetDefault("max_rpc_calls", 64)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
}

// FromViper unmarshals the resolved configuration.
func FromViper() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxRPCCalls <= 0 {
		cfg.MaxRPCCalls = 64
	}
	return cfg, nil
}
