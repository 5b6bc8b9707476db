package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// runInstall writes settings.json from flags, preserving the workflow and
// tool endpoint sections of an existing file, then signals a running server
// to reload or starts one.
func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", ":4200", "TCP listen address")
	dbPath := fs.String("db-path", "", "database path (default: ~/.shopsync/shopsync.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", 16, "max concurrent agent tasks")
	mcpFlag := fs.Bool("mcp", false, "serve MCP on stdio")
	metricsFlag := fs.Bool("metrics", true, "expose /metrics")
	retention := fs.String("retention-schedule", "0 * * * *", "cron schedule for pruning finished workflows")
	maxAge := fs.String("retention-max-age", "24h", "age after which finished workflows are pruned")
	toolRPS := fs.Float64("tool-rps", 0, "per remote tool request rate limit (0 = unlimited)")
	noServe := fs.Bool("no-serve", false, "only write the settings file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := shopsyncDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg := Config{
		ListenAddr:        *listenAddr,
		LogLevel:          *logLevel,
		PoolSize:          *poolSize,
		MCP:               *mcpFlag,
		Metrics:           *metricsFlag,
		RetentionSchedule: *retention,
		RetentionMaxAge:   *maxAge,
		ToolRPS:           *toolRPS,
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		cfg.DBPath = filepath.Join(dir, "shopsync.db")
	}

	path := settingsPath()
	if data, err := os.ReadFile(path); err == nil {
		var prev Config
		if json.Unmarshal(data, &prev) == nil {
			cfg.Workflow = prev.Workflow
			cfg.ToolEndpoints = prev.ToolEndpoints
		}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)

	if *noServe || signalRunningServer() {
		return
	}
	if err := serve(loadConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalRunningServer sends SIGHUP to a running shopsync server (via pidfile).
// Returns true if the server was signaled (caller should NOT start a new one).
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
