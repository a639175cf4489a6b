// Package config loads the daemon's YAML configuration (ground: teacher
// internal/config/config.go — Default() constructor, yaml.v3 tags, env
// overrides applied after parse).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the daemon needs to boot.
type Config struct {
	// DataDir is the on-disk layout root from spec §6: lock, database,
	// artifacts/, temps/, blobs/.
	DataDir string `yaml:"data_dir"`

	// Address is the listen address: "unix:///path/to.sock" or "tcp://host:port".
	Address string `yaml:"address"`

	// FDBudget is the initial permit count of the store's file-descriptor
	// semaphore (spec §5, default 16).
	FDBudget int64 `yaml:"fd_budget"`

	Sandbox SandboxConfig `yaml:"sandbox"`
	Debug   bool          `yaml:"debug"`
}

// SandboxConfig carries the defaults applied to a task when the operation
// itself leaves a field unset.
type SandboxConfig struct {
	// DefaultSystem is used when a task omits `system` ("x86_64-linux" etc).
	DefaultSystem string `yaml:"default_system"`
	// AllowNetworkOverride, if set, lets every task reach the network
	// regardless of its declared `network` field. Local development only;
	// never set in a production config.
	AllowNetworkOverride bool `yaml:"allow_network_override"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".tangram"),
		Address:  "unix://" + filepath.Join(home, ".tangram", "socket"),
		FDBudget: 16,
		Sandbox: SandboxConfig{
			DefaultSystem: defaultSystem(),
		},
	}
}

func defaultSystem() string {
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x86_64"
	}
	return arch + "-" + runtime.GOOS
}

// Load reads path, falling back to Default() if path is empty or absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		applyEnv(cfg)
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file/default values,
// mirroring the teacher's env_override_test.go expectations.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TANGRAM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TANGRAM_ADDRESS"); v != "" {
		cfg.Address = v
	}
}

// Paths derives the on-disk layout from DataDir (spec §6).
type Paths struct {
	Lock      string
	Database  string
	Artifacts string
	Temps     string
	Blobs     string
}

func (c *Config) Paths() Paths {
	return Paths{
		Lock:      filepath.Join(c.DataDir, "lock"),
		Database:  filepath.Join(c.DataDir, "database"),
		Artifacts: filepath.Join(c.DataDir, "artifacts"),
		Temps:     filepath.Join(c.DataDir, "temps"),
		Blobs:     filepath.Join(c.DataDir, "blobs"),
	}
}
