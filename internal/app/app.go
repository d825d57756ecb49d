// Package app wires every component into one running offlinesyncd
// process: loading configuration, opening the store, connecting the
// bus and media mirror, constructing the sync engine and management
// API, and coordinating graceful shutdown on SIGTERM/SIGINT through a
// single shared cancellation context.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/api"
	"github.com/oceanreach/offlinesync/pkg/bus"
	"github.com/oceanreach/offlinesync/pkg/deadletter"
	"github.com/oceanreach/offlinesync/pkg/liveness"
	"github.com/oceanreach/offlinesync/pkg/media"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/sync"
	"github.com/oceanreach/offlinesync/pkg/types"
)

// App is the assembled process: every long-lived component plus the
// cancellation context that governs all of their lifetimes together.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	storeMgr *store.Manager
	engine   *sync.Engine
	server   *api.Server
}

// New loads configuration from path (empty uses defaults plus
// environment overrides), opens the store, and wires every
// component. It does not start anything yet.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("mode", cfg.Mode, "shipId", cfg.ShipID)

	storeMgr, err := store.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	busClient := bus.New(cfg.Bus, cfg.Mode, cfg.ShipID, cfg.Sync.RetryAttempts, cfg.Sync.RetryDelay, logger)

	var mediaMir *media.Mirror
	if cfg.Media.Enabled {
		mediaMir, err = media.New(cfg.Media, cfg.Mode, nil, logger)
		if err != nil {
			storeMgr.Close()
			return nil, fmt.Errorf("app: init media mirror: %w", err)
		}
		if cfg.Mode != types.ModeMaster {
			if err := mediaMir.EnsureLocalBucket(context.Background()); err != nil {
				storeMgr.Close()
				return nil, fmt.Errorf("app: ensure local media bucket: %w", err)
			}
		}
	}

	engine := sync.New(cfg, storeMgr, busClient, mediaMir, nil, logger)

	live := liveness.NewTracker(storeMgr.Peers, cfg.Sync.OnlineThreshold, logger)
	dead := deadletter.NewQueue(storeMgr.DeadLetters)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg, engine, storeMgr, live, dead, engine.Metrics, logger)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		storeMgr: storeMgr,
		engine:   engine,
		server:   server,
	}, nil
}

// Run starts every component and blocks until SIGTERM/SIGINT is
// received or ctx is canceled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("app: start api server: %w", err)
		}
	}

	a.logger.Info("app: offlinesyncd started")
	err := a.engine.Start(ctx)

	a.logger.Info("app: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Bus.ConnectTimeout)
	defer shutdownCancel()
	if a.server != nil {
		if serr := a.server.Stop(shutdownCtx); serr != nil {
			a.logger.Error("app: api server shutdown error", "error", serr)
		}
	}
	if cerr := a.storeMgr.Close(); cerr != nil {
		a.logger.Error("app: store close error", "error", cerr)
	}
	return err
}
