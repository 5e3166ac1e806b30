package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricetracker/config"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/internal/pyth/poller"
	"pricetracker/internal/pyth/pricecache"
	"pricetracker/internal/pyth/snapshot"
	"pricetracker/internal/pyth/stream"
	"pricetracker/internal/server"
	"pricetracker/pkg/pyth"
	"pricetracker/pkg/storage"
	"pricetracker/pkg/storage/postgres"
	"pricetracker/pkg/storage/redis"

	"go.uber.org/zap"
)

const statsInterval = 30 * time.Second

// Collector owns every long-lived component of the tracker. It replaces
// process-wide globals: build it once, inject its parts, shut it down once.
type Collector struct {
	Assets *memorystore.AssetStore
	Cache  *pricecache.Cache
	Loader *snapshot.Loader
	Poller *poller.Poller
	Server *server.Server

	logger     *zap.Logger
	ws         *pyth.WSClient
	closeStore func() error
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// StartCollector initializes the price pipeline for Pyth Hermes feeds.
// It opens the durable store, restores baselines and history, starts the
// poller (and the optional stream) and serves the HTTP API.
func StartCollector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Collector, error) {
	assets, err := memorystore.NewAssetStore(assetTable(cfg.Assets))
	if err != nil {
		return nil, fmt.Errorf("invalid asset table: %w", err)
	}

	store, health, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	logger.Info("durable store ready", zap.String("backend", cfg.Storage.Backend))

	runCtx, cancel := context.WithCancel(ctx)
	c := &Collector{
		Assets:     assets,
		logger:     logger,
		closeStore: closeStore,
		cancel:     cancel,
	}

	c.Cache = pricecache.New(pricecache.Options{
		Store:          store,
		Logger:         logger,
		MaxHistory:     cfg.Cache.MaxHistory,
		BaselineWindow: cfg.Cache.BaselineWindow,
		BaselineKey:    cfg.Cache.BaselineKey,
		HistoryKey:     cfg.Cache.HistoryKey,
		PersistTimeout: cfg.Cache.PersistTimeout,
	})

	// Context with timeout for safety
	loadCtx, loadCancel := context.WithTimeout(runCtx, cfg.Cache.PersistTimeout*5)
	c.Cache.Load(loadCtx)
	loadCancel()

	// Create REST client, rate limited towards Hermes
	limiter := pyth.NewLimiter(cfg.Pyth.REST.RateLimit, cfg.Pyth.REST.Burst)
	restClient := pyth.NewRESTClient(cfg.Pyth.REST.BaseURL, cfg.Pyth.REST.Timeout, limiter)
	c.Loader = snapshot.NewLoader(restClient, assets, cfg.Snapshot.TTL, logger)

	c.Poller = poller.New(c.Loader, c.Cache, assets.IDs(), poller.Config{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
		Source:   pyth.SourceName,
	}, logger)

	c.Server = server.New(cfg.Server, server.Deps{
		Cache:       c.Cache,
		Loader:      c.Loader,
		Tracker:     c.Poller,
		Assets:      assets,
		Health:      health,
		BaseContext: runCtx,
	}, logger)
	if err := c.Server.Start(); err != nil {
		c.abort()
		return nil, err
	}

	if cfg.Poller.Autostart {
		c.Poller.Start(runCtx)
	}

	if cfg.Pyth.WS.Enabled {
		// Initialize WebSocket client
		c.ws = pyth.NewWSClient(cfg.Pyth.WS.URL, assets.FeedIDs(), cfg.Pyth.WS.ReconnectDelay, logger)
		c.ws.SetMessageHandler(stream.MakeMessageHandler(logger, assets, c.Cache))

		// A failed first dial is retried by Listen
		_ = c.ws.Connect(runCtx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.ws.Listen(runCtx)
		}()
	}

	// Periodically print stored sample count for visibility
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				logger.Info("current saved samples",
					zap.Int("count", c.Cache.HistoryCount()),
					zap.Int("assets", len(c.Cache.GetAll())),
				)
			}
		}
	}()

	return c, nil
}

// Addr returns the address the HTTP server is bound to.
func (c *Collector) Addr() string {
	return c.Server.Addr()
}

// Shutdown stops the HTTP server, the poller and the stream, then closes the
// durable store.
func (c *Collector) Shutdown(ctx context.Context) error {
	var errs []error

	// no tracker restarts over HTTP once the poller is stopped
	if err := c.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	c.Poller.Stop()
	c.cancel()
	c.wg.Wait()

	if err := c.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Collector) abort() {
	c.cancel()
	if err := c.closeStore(); err != nil {
		c.logger.Warn("failed to close store", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, func(context.Context) error, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		// Initialize PostgreSQL Client
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, cfg.Postgres.CreateDB)
		if err != nil {
			return nil, nil, nil, err
		}
		health := func(ctx context.Context) error {
			if !client.IsHealthy(ctx) {
				return errors.New("postgres unreachable")
			}
			return nil
		}
		return client, health, client.Close, nil

	case config.BackendRedis:
		client, err := redis.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client.Ping, client.Close, nil

	default:
		return storage.NewMemoryStore(), nil, func() error { return nil }, nil
	}
}

// assetTable returns the configured assets, or the built-in table when none
// are configured.
func assetTable(configured []config.AssetConfig) []memorystore.Asset {
	if len(configured) == 0 {
		return memorystore.DefaultAssets()
	}
	out := make([]memorystore.Asset, len(configured))
	for i, a := range configured {
		out[i] = memorystore.Asset{
			ID:     a.ID,
			Symbol: a.Symbol,
			Name:   a.Name,
			FeedID: a.FeedID,
			Icon:   a.Icon,
		}
	}
	return out
}
