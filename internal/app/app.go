package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopwave/db"
	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/order"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/internal/handler"
	"github.com/xenking/shopwave/internal/prompt"
	"github.com/xenking/shopwave/internal/prompt/gemini"
	"github.com/xenking/shopwave/internal/storage/memory"
	"github.com/xenking/shopwave/internal/storage/postgres"
	rediscart "github.com/xenking/shopwave/internal/storage/redis"
	"github.com/xenking/shopwave/pkg/health"
	"github.com/xenking/shopwave/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	hc := health.New(lg.Named("health"))
	hc.Live(health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(cfg.Health.MaxGoroutines),
	})
	hc.Live(health.Check{
		Name: "gc_pause",
		Func: health.GCMaxPauseCheck(time.Second),
	})

	st, err := openStorage(ctx, lg, cfg, hc)
	if err != nil {
		return err
	}
	defer st.close()

	model, err := newModel(ctx, lg, cfg.Model)
	if err != nil {
		return errors.Wrap(err, "create model")
	}
	breaker := prompt.NewBreaker(model, prompt.BreakerConfig{
		ConsecutiveFailures: cfg.Model.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Model.Breaker.OpenTimeout,
	}, lg.Named("model"))
	hc.Ready(health.Check{Name: "model", Func: breaker.Check, Optional: true, FailureThreshold: 1})

	runner, err := prompt.NewRunner(breaker, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create flow runner")
	}

	// Domain services.
	similar := assistant.NewSimilarItems(runner, cfg.Assistant.MaxImageBytes, lg.Named("similar_items"))
	recommender := assistant.NewRecommender(runner, assistant.RecommenderOptions{
		ExcludeCartItems: cfg.Assistant.ExcludeCartItems,
	}, lg.Named("recommendations"))
	sessions := session.NewManager(st.carts, st.products, recommender, session.Config{
		IdleTimeout:     cfg.Session.IdleTimeout,
		JanitorInterval: cfg.Session.JanitorInterval,
		FetchTimeout:    cfg.Assistant.FetchTimeout,
	}, lg.Named("session"))
	orders := order.NewService(st.products, st.orders)

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Rate:    cfg.RateLimit.Rate,
		Burst:   cfg.RateLimit.Burst,
		IdleTTL: cfg.RateLimit.IdleTTL,
		KeyFunc: handler.SessionKey,
	})

	h := handler.New(handler.Config{
		CookieName:         cfg.Session.CookieName,
		CookieSecure:       cfg.Session.CookieSecure,
		MaxActionBodyBytes: cfg.Assistant.MaxActionBodyBytes,
	}, st.products, sessions, orders, similar, recommender, limiter.Middleware())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(lg, m, cfg.CORS, hc, h),
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	// Background jobs outlive the server drain so in-flight requests still
	// find their sessions.
	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer bgCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hc.Run(gctx, cfg.Health.Interval)
	})
	g.Go(func() error {
		return sessions.Run(bgCtx)
	})
	g.Go(func() error {
		return limiter.Run(bgCtx)
	})
	if st.memCarts != nil {
		g.Go(func() error {
			return purgeCarts(bgCtx, lg, st.memCarts, cfg.Session.JanitorInterval)
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer bgCancel()

		hc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})

	hc.SetReady(true)
	return g.Wait()
}

func newRouter(lg *zap.Logger, m *app.Telemetry, c CORSConfig, hc *health.Health, h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("shopwave", m.TracerProvider(), m.MeterProvider(), "/livez", "/readyz"),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(routePattern),
		cors.Handler(cors.Options{
			AllowedOrigins:   c.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: c.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", hc.LiveHandler)
	r.Get("/readyz", hc.ReadyHandler)
	r.Mount("/api", h.Router())
	return r
}

// routePattern reports the matched chi route once the request was served.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

type storage struct {
	products product.Repository
	orders   order.Repository
	carts    session.Store
	// memCarts is set when carts are kept in memory and need purging.
	memCarts *memory.CartStore
	closers  []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage selects postgres or the in-memory catalog, and redis or the
// in-memory cart store, registering readiness checks for remote stores.
func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config, hc *health.Health) (_ *storage, rerr error) {
	st := &storage{}
	defer func() {
		if rerr != nil {
			st.close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		st.closers = append(st.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		hc.Ready(health.Check{Name: "postgres", Func: health.PingCheck("postgres", pool), Timeout: 5 * time.Second})

		st.products = postgres.NewProductRepository(pool)
		st.orders = postgres.NewOrderRepository(pool)
		lg.Info("Using PostgreSQL catalog")
	} else {
		data, err := db.ReadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, errors.Wrap(err, "read catalog")
		}
		products, err := product.ParseCatalog(data)
		if err != nil {
			return nil, err
		}
		st.products = memory.NewProductRepository(products)
		st.orders = memory.NewOrderRepository()
		lg.Info("Using in-memory catalog", zap.Int("products", len(products)))
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis URL")
		}
		client := redis.NewClient(opts)
		st.closers = append(st.closers, func() { _ = client.Close() })

		carts := rediscart.NewCartStore(client, cfg.Session.CartTTL)
		if err := carts.Ping(ctx); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		hc.Ready(health.Check{Name: "redis", Func: health.PingCheck("redis", carts)})
		st.carts = carts
		lg.Info("Using Redis cart store")
	} else {
		st.memCarts = memory.NewCartStore(cfg.Session.CartTTL)
		st.carts = st.memCarts
	}
	return st, nil
}

func newModel(ctx context.Context, lg *zap.Logger, cfg ModelConfig) (prompt.Model, error) {
	if cfg.APIKey == "" {
		lg.Warn("Model API key is not set, AI actions are disabled")
		return prompt.Disabled{}, nil
	}
	var temperature *float32
	if cfg.Temperature > 0 {
		temperature = &cfg.Temperature
	}
	c, err := gemini.New(ctx, gemini.Config{
		APIKey:      cfg.APIKey,
		Model:       cfg.Name,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func purgeCarts(ctx context.Context, lg *zap.Logger, carts *memory.CartStore, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := carts.Purge(); n > 0 {
				lg.Debug("Purged expired carts", zap.Int("count", n))
			}
		}
	}
}
