// Package config loads the daemon's YAML configuration file and keeps it
// current via a file watcher. Fields cover exactly what the Task-Thread
// Sync Coordinator and its supporting CLI wiring need.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's on-disk configuration. Fields map directly onto
// spec.md §6's CoordinatorOptions plus the CLI-level pieces (store path,
// cron schedule) the coordinator itself does not know about.
type Config struct {
	ForumID              string `yaml:"forum_id"`
	TagMapPath           string `yaml:"tag_map_path"`
	SidebarMentionUserID string `yaml:"sidebar_mention_user_id"`
	AutoTag              bool   `yaml:"auto_tag"`
	AutoTagModel         string `yaml:"auto_tag_model"`

	SuppressionWindowMS int64 `yaml:"suppression_window_ms"`

	StorePath    string `yaml:"store_path"`
	CronSchedule string `yaml:"cron_schedule"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter"`

	HomeDir string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		AutoTag:             false,
		AutoTagModel:        "",
		SuppressionWindowMS: 2000,
		StorePath:           "",
		CronSchedule:        "0 3 * * *",
	}
}

// HomeDir returns the daemon's home directory, honoring THREADSYNC_HOME.
func HomeDir() string {
	if override := os.Getenv("THREADSYNC_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".threadsync")
}

// Load reads config.yaml from HomeDir(), applying defaults for anything
// left unset. A missing file is not an error — Load returns the defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create threadsync home: %w", err)
	}

	path := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.SuppressionWindowMS <= 0 {
		cfg.SuppressionWindowMS = 2000
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.HomeDir, "threadsync.db")
	}
	if cfg.CronSchedule == "" {
		cfg.CronSchedule = "0 3 * * *"
	}
}
