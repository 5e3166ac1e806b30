package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"pricetracker/config"
	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/internal/pyth/poller"
	"pricetracker/internal/pyth/pricecache"
	"pricetracker/internal/pyth/snapshot"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceLoader fetches upstream quotes. *snapshot.Loader implements it.
type PriceLoader interface {
	LoadAll(ctx context.Context) ([]snapshot.Quote, error)
	LoadOne(ctx context.Context, assetID string) (snapshot.Quote, error)
}

// Tracker controls the background polling loop. *poller.Poller implements it.
type Tracker interface {
	Start(ctx context.Context) bool
	Stop() bool
	Status() poller.Status
}

type Deps struct {
	Cache   *pricecache.Cache
	Loader  PriceLoader
	Tracker Tracker
	Assets  *memorystore.AssetStore

	// Health reports storage reachability; nil means always healthy.
	Health func(ctx context.Context) error
	// BaseContext outlives requests; the tracker loop runs under it.
	BaseContext context.Context
}

type Server struct {
	cfg      config.ServerConfig
	deps     Deps
	logger   *zap.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
}

func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.cfg.RateLimit > 0 {
		r.Use(newIPRateLimiter(s.cfg.RateLimit, s.cfg.Burst).middleware)
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws/prices", s.handlePriceStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/assets", s.handleAssets)
		r.Get("/all-prices", s.handleAllPrices)
		r.Get("/coin-price", s.handleCoinPrice)
		r.Get("/prices", s.handlePrices)
		r.Get("/price-history", s.handlePriceHistory)
		r.Post("/save-price", s.handleSavePrice)

		r.Get("/price-tracker", s.handleTrackerStatus)
		r.Post("/price-tracker", s.handleTrackerStart)
		r.Delete("/price-tracker", s.handleTrackerStop)
	})
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.deps.BaseContext },
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
