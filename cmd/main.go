// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yumoh/sse-queue/config"
	"github.com/yumoh/sse-queue/filecache"
	ssetls "github.com/yumoh/sse-queue/pkg/tls"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/ratelimit"
	"github.com/yumoh/sse-queue/server/health"
	"github.com/yumoh/sse-queue/server/http"
	"github.com/yumoh/sse-queue/server/otel"
	"github.com/yumoh/sse-queue/storage"
	otelglobal "go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	lvl, _ := parseLevel(cfg.Log.Level)
	level.Set(lvl)

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger, level); err != nil {
		logger.Error("sse_queue_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger, level *slog.LevelVar) error {
	addrs, err := cfg.Server.ListenAddrs()
	if err != nil {
		return err
	}

	logger.Info("sse_queue_starting",
		slog.String("version", version),
		slog.Any("bind", addrs),
		slog.String("prefix", cfg.Server.Prefix),
		slog.Bool("tls", cfg.Server.TLSEnabled()),
		slog.Bool("auth", cfg.Auth.Token != ""),
		slog.String("workspace", cfg.Storage.Workspace),
		slog.String("public", cfg.Storage.Public),
		slog.Bool("health_enabled", cfg.Server.HealthEnabled),
		slog.Bool("metrics_enabled", cfg.Server.MetricsEnabled),
		slog.String("log_level", cfg.Log.Level))

	for _, dir := range []string{cfg.Storage.Workspace, cfg.Storage.Public} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	broker := queue.NewBroker(
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithKeepAlive(cfg.Queue.KeepAlive),
		queue.WithLogger(logger),
	)
	files := filecache.New(cfg.Storage.Workspace, filecache.WithLogger(logger))
	defer func() {
		if err := files.Close(); err != nil {
			logger.Warn("file_cache_close_failed", slog.String("error", err.Error()))
		}
	}()
	store := storage.New(cfg.Storage.Workspace, storage.WithLogger(logger))

	limiter := ratelimit.NewManager(cfg.RateLimit)
	defer limiter.Stop()

	var metrics *otel.Metrics
	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(ctx, cfg.Server)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("otel_shutdown_failed", slog.String("error", err.Error()))
			}
		}()

		metrics, err = otel.NewMetrics(otelglobal.GetMeterProvider())
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		err = metrics.ObserveState(func() otel.Snapshot {
			qs := broker.Stats()
			fs := files.Stats()
			return otel.Snapshot{
				Queues:         qs.Queues,
				Messages:       qs.Messages,
				LogHandles:     fs.Logs,
				AppendHandles:  fs.Appends,
				PendingWriters: fs.Pending,
			}
		})
		if err != nil {
			return err
		}
		logger.Info("otel_enabled",
			slog.String("endpoint", cfg.Server.MetricsAddr),
			slog.Bool("traces", cfg.Server.OtelTracesEnabled),
			slog.Bool("metrics", cfg.Server.OtelMetricsEnabled))
	}

	tlsCfg, err := ssetls.LoadTLSConfig(&ssetls.Config{
		CertFile:     cfg.Server.TLSCertFile,
		KeyFile:      cfg.Server.TLSKeyFile,
		ClientCAFile: cfg.Server.TLSClientCAFile,
	})
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}
	logger.Info("http_security", slog.String("status", ssetls.SecurityStatus(tlsCfg)))

	srv := http.New(http.Config{
		Addresses:         addrs,
		Prefix:            cfg.Server.Prefix,
		TLSConfig:         tlsCfg,
		MaxConnections:    cfg.Server.MaxConnections,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Token:             cfg.Auth.Token,
		PublicDir:         cfg.Storage.Public,
		MaxMessageSize:    cfg.Queue.MaxMessageSize.Int64(),
		MaxUploadSize:     cfg.Storage.MaxUploadSize.Int64(),
		MaxWait:           cfg.Queue.MaxWait,
		Version:           version,
	}, broker, files, store,
		http.WithLogger(logger),
		http.WithMetrics(metrics),
		http.WithRateLimiter(limiter),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Listen(gctx)
	})

	if cfg.Server.HealthEnabled {
		hs := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, broker, files, logger)
		g.Go(func() error {
			return hs.Listen(gctx)
		})
	}

	if opts.configFile != "" {
		g.Go(func() error {
			err := config.Watch(gctx, opts.configFile, logger, func(next *config.Config) {
				opts.apply(next)
				reload(cfg, next, srv, level, logger)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	logger.Info("sse_queue_stopped")
	return err
}

// reload applies the settings that can change without a restart: the auth
// token and the log level. Everything else is reported and ignored.
func reload(cur, next *config.Config, srv *http.Server, level *slog.LevelVar, logger *slog.Logger) {
	if next.Auth.Token != cur.Auth.Token {
		srv.SetToken(next.Auth.Token)
		cur.Auth.Token = next.Auth.Token
		logger.Info("auth_token_rotated", slog.Bool("auth", next.Auth.Token != ""))
	}

	if next.Log.Level != cur.Log.Level {
		lvl, err := parseLevel(next.Log.Level)
		if err != nil {
			logger.Warn("log_level_invalid", slog.String("level", next.Log.Level))
		} else {
			level.Set(lvl)
			cur.Log.Level = next.Log.Level
			logger.Info("log_level_changed", slog.String("level", next.Log.Level))
		}
	}

	if next.Server.Bind != cur.Server.Bind || next.Server.Prefix != cur.Server.Prefix ||
		next.Storage.Workspace != cur.Storage.Workspace {
		logger.Warn("config_restart_required")
	}
}
