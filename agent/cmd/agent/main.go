package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/deltacache/agent/internal/config"
	"github.com/obsidianstack/deltacache/agent/internal/seed"
	"github.com/obsidianstack/deltacache/agent/internal/shipper"
	"github.com/obsidianstack/deltacache/pkg/filewatch"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("deltacache-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"sync_interval", cfg.Agent.SyncInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &agent{
		engine: seed.NewEngine(),
		ship:   shipper.New(cfg.Agent),
		reload: make(chan struct{}, 1),
	}
	a.setSources(cfg.Agent.Sources)
	if len(cfg.Agent.Sources) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Ships buffered ops until shutdown.
	g.Go(func() error {
		a.ship.Run(gctx)
		return nil
	})

	// Hot reload swaps the source list; the shipper keeps its connection.
	g.Go(func() error {
		err := config.Watch(gctx, *configPath, func(updated *config.Config) {
			a.setSources(updated.Agent.Sources)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	// Immediate sync when a seed file changes.
	g.Go(func() error {
		a.watchSources(gctx)
		return nil
	})

	// Periodic full resync re-puts every key, covering missed file events,
	// ops dropped by the shipper and keys evicted on the server.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Agent.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.resyncAll()
			}
		}
	})

	g.Wait() //nolint:errcheck
	slog.Info("deltacache-agent shutting down", "unsent_ops", a.ship.Pending())
}

// agent ties the seed engine to the shipper for the current source list.
type agent struct {
	engine *seed.Engine
	ship   *shipper.Shipper
	reload chan struct{}

	mu      sync.Mutex
	sources []config.Source

	syncMu sync.Mutex // one read-diff-ship at a time
}

func (a *agent) current() []config.Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sources
}

// setSources installs a new source list, forgets state for removed sources
// and restarts the file watcher.
func (a *agent) setSources(srcs []config.Source) {
	ids := make([]string, 0, len(srcs))
	for _, s := range srcs {
		ids = append(ids, s.ID)
		slog.Info("registered source", "id", s.ID, "path", s.Path, "prefix", s.Prefix, "prune", s.Prune)
	}

	a.mu.Lock()
	a.sources = srcs
	a.mu.Unlock()

	a.engine.Retain(ids...)
	select {
	case a.reload <- struct{}{}:
	default:
	}
	a.syncAll()
}

func (a *agent) syncAll() {
	for _, src := range a.current() {
		a.sync(src, false)
	}
}

// resyncAll re-puts every seeded key, repairing ops the shipper dropped and
// keys the server evicted.
func (a *agent) resyncAll() {
	for _, src := range a.current() {
		a.sync(src, true)
	}
}

func (a *agent) syncPath(path string) {
	for _, src := range a.current() {
		if filepath.Clean(src.Path) == path {
			a.sync(src, false)
		}
	}
}

func (a *agent) sync(src config.Source, full bool) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	values, err := seed.Read(src.Path)
	if err != nil {
		slog.Warn("seed read error", "source", src.ID, "err", err)
		return
	}
	diff := a.engine.Process
	if full {
		diff = a.engine.Resync
	}
	ops := diff(src, values)
	if len(ops) > 0 {
		a.ship.Ship(ops...)
		slog.Debug("queued seed ops", "source", src.ID, "ops", len(ops))
	}
}

// watchSources follows every seed file, restarting whenever the source list
// changes. Missing files are left to the periodic resync.
func (a *agent) watchSources(ctx context.Context) {
	for {
		var paths []string
		for _, src := range a.current() {
			if _, err := os.Stat(src.Path); err == nil {
				paths = append(paths, src.Path)
			}
		}

		wctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if len(paths) == 0 {
				<-wctx.Done()
				return
			}
			if err := filewatch.Files(wctx, paths, a.syncPath); err != nil {
				slog.Warn("seed watcher stopped", "err", err)
				<-wctx.Done()
			}
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-a.reload:
			cancel()
			<-done
		}
	}
}
