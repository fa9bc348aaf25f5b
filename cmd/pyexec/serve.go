package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/p-arndt/pyexec/internal/api"
	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/environment"
	"github.com/p-arndt/pyexec/internal/observability"
	"github.com/p-arndt/pyexec/internal/reaper"
	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/internal/store"
	"github.com/p-arndt/pyexec/internal/tools"
	"github.com/p-arndt/pyexec/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools on stdio or streamable HTTP",
	RunE:  runServe,
}

// app holds the wired components shared by serve and the envs commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	envs    *environment.Manager
	metrics *observability.MetricsCollector
	tracing *observability.TracerSetup
}

// newLogger logs to stderr; stdout belongs to the stdio transport.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.SlogLevel())

	tracing, err := observability.NewTracerSetup(ctx, &cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	metrics := observability.NewMetricsCollector()

	a := &app{cfg: cfg, logger: logger, metrics: metrics, tracing: tracing}

	// A nil *store.Store must not reach the interface-typed option.
	var history environment.HistoryStore
	if cfg.DBPath != "" {
		st, err := store.New(cfg.DBPath, 0)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		history = st
	} else {
		logger.Info("invocation history disabled")
	}

	r := runner.New(cfg.UVPath, cfg.ExecTimeout(), logger,
		runner.WithTracer(tracing.Tracer()),
		runner.WithRecorder(metrics),
	)
	a.envs = environment.NewManager(workspace.NewManager(cfg.EnvsDir), r, environment.Options{
		Policy:       cfg.EnvPolicy,
		MaxReadBytes: cfg.MaxReadBytes,
		History:      history,
		Logger:       logger,
	})
	return a, nil
}

func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("tracer shutdown", "error", err)
	}
	if a.store != nil {
		a.store.Close()
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if interval := cfg.ReaperInterval(); interval > 0 {
		// A nil *store.Store must not reach the interface-typed argument.
		var st reaper.HistoryStore
		if a.store != nil {
			st = a.store
		}
		rpr := reaper.New(st, a.envs, interval, cfg.HistoryRetention(), logger)
		rpr.SetRecorder(a.metrics)
		go rpr.Run(ctx)
	}

	srv := tools.NewServer(a.envs, tools.Options{
		Version: version,
		Metrics: a.metrics,
		Tracer:  a.tracing.Tracer(),
		Logger:  logger,
	})

	logger.Info("pyexec starting",
		"transport", cfg.Transport,
		"envs_dir", cfg.EnvsDir,
		"policy", cfg.EnvPolicy,
		"uv", cfg.UVPath,
	)

	switch cfg.Transport {
	case config.TransportHTTP:
		if cfg.APIKey == "" {
			logger.Warn("no API key configured; the MCP endpoint is open")
		}
		return a.serveHTTP(ctx, cfg.Listen, srv)
	default:
		if cfg.MetricsListen != "" {
			go func() {
				if err := a.serveHTTP(ctx, cfg.MetricsListen, nil); err != nil {
					logger.Error("metrics server", "error", err)
				}
			}()
		}
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport: %w", err)
		}
		logger.Info("stdio session closed")
		return nil
	}
}

// serveHTTP serves the HTTP surface on addr until ctx is done. With a nil
// tool server only health and metrics are exposed.
func (a *app) serveHTTP(ctx context.Context, addr string, srv *tools.Server) error {
	var mcpServer *mcp.Server
	if srv != nil {
		mcpServer = srv.MCP()
	}
	apiSrv := api.NewServer(a.cfg, mcpServer, a.metrics, a.logger)
	a.addHealthChecks(apiSrv)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	a.logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (a *app) addHealthChecks(s *api.Server) {
	if a.store != nil {
		s.AddCheck("store", func(context.Context) error {
			return a.store.Ping()
		})
	}
	root := a.envs.Root()
	s.AddCheck("envs_dir", func(context.Context) error {
		info, err := os.Stat(root)
		if errors.Is(err, os.ErrNotExist) {
			// Created with the first environment.
			return nil
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	})
}
