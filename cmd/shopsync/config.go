package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/rendis/shopsync/pkg/schema"
)

// Config holds all shopsync server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string                 `json:"listen_addr"`
	DBPath            string                 `json:"db_path"`
	LogLevel          string                 `json:"log_level"`
	PoolSize          int                    `json:"pool_size"`
	MCP               bool                   `json:"mcp"`
	Metrics           bool                   `json:"metrics"`
	RetentionSchedule string                 `json:"retention_schedule"`
	RetentionMaxAge   string                 `json:"retention_max_age"`
	ToolRPS           float64                `json:"tool_rps"`
	Workflow          *schema.WorkflowConfig `json:"workflow,omitempty"`
	ToolEndpoints     []ToolEndpoint         `json:"tool_endpoints,omitempty"`
}

// ToolEndpoint declares a model-serving endpoint registered as a remote tool.
// Durations use time.ParseDuration syntax.
type ToolEndpoint struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Endpoint    string            `json:"endpoint"`
	Headers     map[string]string `json:"headers,omitempty"`
	CacheTTL    string            `json:"cache_ttl,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		DBPath:            filepath.Join(shopsyncDir(), "shopsync.db"),
		LogLevel:          "info",
		PoolSize:          16,
		Metrics:           true,
		RetentionSchedule: "0 * * * *",
		RetentionMaxAge:   "24h",
	}
}

func shopsyncDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopsync"
	}
	return filepath.Join(home, ".shopsync")
}

func settingsPath() string {
	return filepath.Join(shopsyncDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(shopsyncDir(), "shopsync.pid")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("SHOPSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("SHOPSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("SHOPSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("SHOPSYNC_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := getenv("SHOPSYNC_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	if v := getenv("SHOPSYNC_METRICS"); v != "" {
		cfg.Metrics = v == "true" || v == "1"
	}
	if v := getenv("SHOPSYNC_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := getenv("SHOPSYNC_RETENTION_MAX_AGE"); v != "" {
		cfg.RetentionMaxAge = v
	}
	if v := getenv("SHOPSYNC_TOOL_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ToolRPS = f
		}
	}

	return cfg
}

// retentionMaxAge parses RetentionMaxAge; zero lets the scheduler apply its default.
func (c Config) retentionMaxAge() time.Duration {
	d, err := time.ParseDuration(c.RetentionMaxAge)
	if err != nil {
		return 0
	}
	return d
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	MetricsChanged  bool
	LogLevelChanged bool
	WorkflowChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Metrics != new.Metrics {
		d.MetricsChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if !reflect.DeepEqual(old.Workflow, new.Workflow) {
		d.WorkflowChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.MCP != new.MCP {
		d.RestartNeeded = append(d.RestartNeeded, "mcp")
	}
	if old.RetentionSchedule != new.RetentionSchedule || old.RetentionMaxAge != new.RetentionMaxAge {
		d.RestartNeeded = append(d.RestartNeeded, "retention")
	}
	if old.ToolRPS != new.ToolRPS || !reflect.DeepEqual(old.ToolEndpoints, new.ToolEndpoints) {
		d.RestartNeeded = append(d.RestartNeeded, "tool_endpoints")
	}
	return d
}
