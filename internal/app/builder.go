package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ftbridge/internal/cache"
	brcfg "ftbridge/internal/config"
	"ftbridge/internal/engine"
	"ftbridge/internal/events"
	"ftbridge/internal/gate"
	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/gateway/tradovate"
	"ftbridge/internal/logger"
	"ftbridge/internal/poller"
	"ftbridge/internal/store/cachestore"
	"ftbridge/internal/store/pollstate"
	bridgehttp "ftbridge/internal/transport/http"
)

// AppBuilder constructs the application graph. The fn fields exist so
// tests can swap in fakes without touching the wiring order.
type AppBuilder struct {
	cfg *brcfg.Config

	clientFn     func(brcfg.BrokerConfig) (broker.Client, error)
	cacheStoreFn func(string) (*cachestore.Store, error)
	pollStoreFn  func(string) (*pollstate.Store, error)
	httpServerFn func(brcfg.AppConfig, *engine.SyncEngine) (*bridgehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithClient overrides the upstream API client.
func WithClient(c broker.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		b.clientFn = func(brcfg.BrokerConfig) (broker.Client, error) { return c, nil }
	}
}

// NewAppBuilder creates a builder with the default providers.
func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		clientFn:     buildClient,
		cacheStoreFn: buildCacheStore,
		pollStoreFn:  buildPollStore,
		httpServerFn: buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildClient(cfg brcfg.BrokerConfig) (broker.Client, error) {
	return tradovate.NewClient(cfg)
}

func buildCacheStore(path string) (*cachestore.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return cachestore.New(path)
}

func buildPollStore(path string) (*pollstate.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return pollstate.New(path)
}

func buildHTTPServer(appCfg brcfg.AppConfig, e *engine.SyncEngine) (*bridgehttp.Server, error) {
	return bridgehttp.NewServer(bridgehttp.ServerConfig{
		Addr:   appCfg.HTTPAddr,
		Engine: e,
	})
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Build assembles the full application. Stores open first so a broken
// data directory fails fast, before anything talks to the upstream.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	snapStore, err := b.cacheStoreFn(cfg.Cache.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store failed: %w", err)
	}
	stateStore, err := b.pollStoreFn(pollStatePath(cfg.Cache.DBPath))
	if err != nil {
		_ = snapStore.Close()
		return nil, fmt.Errorf("opening polling state store failed: %w", err)
	}

	client, err := b.clientFn(cfg.Broker)
	if err != nil {
		_ = snapStore.Close()
		_ = stateStore.Close()
		return nil, fmt.Errorf("building upstream client failed: %w", err)
	}

	bus := events.NewBus()
	gw := gate.New(cfg.Gate)
	dataCache := cache.New(snapStore, bus)
	supervisor := poller.NewSupervisor(cfg.Polling, gw, client, dataCache, bus, stateStore)
	syncEngine := engine.New(cfg, gw, client, dataCache, supervisor, bus, snapStore)

	server, err := b.httpServerFn(cfg.App, syncEngine)
	if err != nil {
		_ = snapStore.Close()
		_ = stateStore.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	logger.Infof("app: built sync core (db=%s addr=%s)", cfg.Cache.DBPath, server.Addr())
	return &App{
		cfg:        cfg,
		engine:     syncEngine,
		server:     server,
		bus:        bus,
		snapStore:  snapStore,
		stateStore: stateStore,
	}, nil
}

// pollStatePath derives the polling state db path next to the snapshot
// db so both live in the same data directory.
func pollStatePath(snapshotPath string) string {
	dir := filepath.Dir(snapshotPath)
	return filepath.Join(dir, "pollstate.db")
}
