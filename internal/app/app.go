// Package app orchestrates startup: load config, build the dependency
// graph, then run the sync engine and HTTP server side by side.
package app

import (
	"context"
	"fmt"

	brcfg "ftbridge/internal/config"
	"ftbridge/internal/engine"
	"ftbridge/internal/events"
	"ftbridge/internal/logger"
	"ftbridge/internal/store/cachestore"
	"ftbridge/internal/store/pollstate"
	bridgehttp "ftbridge/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App owns the built application graph and its lifecycle.
type App struct {
	cfg        *brcfg.Config
	engine     *engine.SyncEngine
	server     *bridgehttp.Server
	bus        *events.Bus
	snapStore  *cachestore.Store
	stateStore *pollstate.Store
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the sync engine and HTTP server, blocking until ctx is
// cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.engine.Run(ctx)
	})
	return group.Wait()
}

// Engine exposes the sync engine (for testing and replay harnesses).
func (a *App) Engine() *engine.SyncEngine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close flushes async event handlers and releases the stores.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.bus != nil {
		a.bus.WaitAsync()
	}
	if a.stateStore != nil {
		_ = a.stateStore.Close()
	}
	if a.snapStore != nil {
		_ = a.snapStore.Close()
	}
}
