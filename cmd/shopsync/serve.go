package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/shopsync/internal/api"
	"github.com/rendis/shopsync/internal/engine"
	"github.com/rendis/shopsync/internal/expressions"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/scheduler"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/internal/streaming"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/internal/tools"
	"github.com/rendis/shopsync/pkg/mcp"
)

const (
	hubBuffer       = 256
	shutdownTimeout = 15 * time.Second
)

// app holds the long-lived components a running server reconfigures on SIGHUP.
type app struct {
	cfg     Config
	level   *slog.LevelVar
	logger  *slog.Logger
	coord   *engine.Coordinator
	swapper *handlerSwapper
	handler func(Config) http.Handler
}

func serve(cfg Config) error {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	events := store.NewEventLog(st)

	hub := streaming.NewMemoryHub(hubBuffer)
	prom, err := telemetry.NewPrometheusSink(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	sink := telemetry.NewFanout(logger,
		telemetry.NewLogSink(logger),
		prom,
		telemetry.NewHubSink(hub),
		telemetry.NewStoreSink(events, logger),
	)

	reg := tools.NewRegistry(tools.WithSink(sink), tools.WithLogger(logger))
	if err := registerRemoteTools(reg, cfg, sink, nil); err != nil {
		return err
	}
	if err := tools.RegisterBuiltins(reg, expressions.NewExprEngine(), time.Now); err != nil {
		return err
	}

	coord, err := engine.NewCoordinator(engine.Deps{
		Tools:  reg,
		Store:  st,
		Sink:   sink,
		Logger: logger,
	}, engine.CoordinatorConfig{PoolSize: cfg.PoolSize, Workflow: cfg.Workflow})
	if err != nil {
		return err
	}

	retention, err := scheduler.NewRetention(st, scheduler.Config{
		Schedule: cfg.RetentionSchedule,
		MaxAge:   cfg.retentionMaxAge(),
	}, sink, logger)
	if err != nil {
		return err
	}
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	a := &app{cfg: cfg, level: level, logger: logger, coord: coord}
	a.handler = func(c Config) http.Handler {
		deps := api.Deps{
			Coordinator: coord,
			Tools:       reg,
			Hub:         hub,
			Events:      events,
			Logger:      logger,
		}
		if c.Metrics {
			deps.Metrics = prom.Handler()
		}
		return api.NewServer(deps).Handler()
	}
	a.swapper = newHandlerSwapper(a.handler(cfg))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if cfg.MCP {
		mcpSrv := mcp.NewServer(mcp.ServerDeps{Coordinator: coord, Hub: hub, Logger: logger})
		go func() {
			logger.Info("mcp serving on stdio")
			if err := mcpSrv.Serve(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	writePID(logger)
	defer os.Remove(pidPath())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case runErr = <-errCh:
			break loop
		case <-hup:
			a.reload(ctx, loadConfig())
		}
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := coord.Shutdown(shutCtx); err != nil {
		logger.Warn("coordinator shutdown", "error", err)
	}
	return runErr
}

// reload applies the live-reloadable part of next and reports the rest.
func (a *app) reload(ctx context.Context, next Config) {
	d := diffConfigs(a.cfg, next)
	if d.LogLevelChanged {
		a.level.Set(logging.ParseLevel(next.LogLevel))
		a.logger.Info("log level changed", "level", next.LogLevel)
	}
	if d.MetricsChanged {
		a.swapper.Swap(a.handler(next))
		a.logger.Info("metrics route toggled", "enabled", next.Metrics)
	}
	if d.WorkflowChanged && next.Workflow != nil {
		if err := a.coord.ConfigureWorkflow(ctx, *next.Workflow); err != nil {
			a.logger.Error("workflow reload rejected", "error", err)
			next.Workflow = a.cfg.Workflow
		}
	}
	for _, field := range d.RestartNeeded {
		a.logger.Warn("config change needs a restart", "field", field)
	}
	a.cfg = next
}

// registerRemoteTools registers every configured endpoint before the
// built-ins so a remote tool shadows the local rule of the same name.
func registerRemoteTools(reg *tools.Registry, cfg Config, sink telemetry.Sink, client *http.Client) error {
	burst := int(cfg.ToolRPS)
	if burst < 1 {
		burst = 1
	}
	for _, ep := range cfg.ToolEndpoints {
		rt, err := tools.NewRemoteTool(tools.RemoteConfig{
			Name:          ep.Name,
			Description:   ep.Description,
			Endpoint:      ep.Endpoint,
			Headers:       ep.Headers,
			CacheTTL:      parseDuration(ep.CacheTTL),
			Timeout:       parseDuration(ep.Timeout),
			RatePerSecond: cfg.ToolRPS,
			Burst:         burst,
		}, client, tools.BreakerTelemetry(sink))
		if err != nil {
			return fmt.Errorf("tool endpoint %q: %w", ep.Name, err)
		}
		if err := reg.RegisterTool(rt); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func writePID(logger *slog.Logger) {
	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("write pid file", "error", err)
	}
}
