package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/pkg/types"
	"github.com/obsidianstack/deltacache/server/internal/api"
	"github.com/obsidianstack/deltacache/server/internal/auth"
	"github.com/obsidianstack/deltacache/server/internal/config"
	"github.com/obsidianstack/deltacache/server/internal/metrics"
	"github.com/obsidianstack/deltacache/server/internal/receiver"
	"github.com/obsidianstack/deltacache/server/internal/store"
	"github.com/obsidianstack/deltacache/server/internal/upstream"
	"github.com/obsidianstack/deltacache/server/internal/webhook"
	"github.com/obsidianstack/deltacache/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("deltacache-server starting", "config", *configPath)

	if err := run(*configPath); err != nil {
		slog.Error("deltacache-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"cache", cfg.Cache.Name,
		"eviction_interval", cfg.Cache.EvictionInterval,
		"notification_interval", cfg.Cache.NotificationInterval,
		"eviction_rules", len(cfg.Cache.EvictionRules),
		"upstream", cfg.Upstream.Enabled(),
		"webhooks", len(cfg.Notify.Webhooks),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Subscribers first; the store publishes into them from its first write.
	hub := ws.New()
	notifier := webhook.New(cfg.Notify)
	defer notifier.Close()

	st, err := store.New(cfg.Cache, cache.Fanout[string, *store.Entry](hub, notifier))
	if err != nil {
		return err
	}
	defer st.Close()
	hub.SetSource(st)

	apiOpts := []api.Option{api.WithDeliveries(notifier)}
	if cfg.Upstream.Enabled() {
		fetcher, err := upstream.New(cfg.Upstream)
		if err != nil {
			return err
		}
		defer fetcher.Close()
		apiOpts = append(apiOpts, api.WithUpstream(fetcher))
		slog.Info("read-through enabled", "url", cfg.Upstream.URL)
	}

	reg, err := metrics.NewRegistry(metrics.NewCollector(st, hub.Count))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// gRPC server with optional API key authentication interceptor.
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(cfg.Server.Auth)))
	types.Register(grpcSrv, receiver.New(st))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	// Combined HTTP server: REST API, change stream and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, apiOpts...))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", metrics.Handler(reg))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           auth.Middleware(cfg.Server.Auth, httpMux, "/api/v1/health", "/metrics"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return config.Watch(gctx, configPath, func(next *config.Config) {
			if err := st.Reconfigure(gctx, next.Cache); err != nil {
				slog.Error("config: cache settings not applied", "err", err)
			} else {
				slog.Info("config: cache settings applied",
					"eviction_interval", next.Cache.EvictionInterval,
					"notification_interval", next.Cache.NotificationInterval,
					"eviction_rules", st.Rules(),
				)
			}
			notifier.Reconfigure(next.Notify)
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("deltacache-server shutting down")
		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
