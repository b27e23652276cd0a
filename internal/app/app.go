package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/conversation"
	"github.com/kmuchiri/dukachat/internal/domain/delivery"
	"github.com/kmuchiri/dukachat/internal/domain/payment"
	"github.com/kmuchiri/dukachat/internal/domain/session"
	"github.com/kmuchiri/dukachat/internal/event"
	"github.com/kmuchiri/dukachat/internal/handler"
	"github.com/kmuchiri/dukachat/internal/mpesa"
	"github.com/kmuchiri/dukachat/internal/storage/postgres"
	redisstore "github.com/kmuchiri/dukachat/internal/storage/redis"
	"github.com/kmuchiri/dukachat/pkg/health"
	"github.com/kmuchiri/dukachat/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Stores.
	catalogRepo := postgres.NewCatalogRepository(pool)
	attemptStore := postgres.NewAttemptStore(pool)

	sessions, err := newSessionStore(ctx, cfg, healthSvc)
	if err != nil {
		return errors.Wrap(err, "create session store")
	}

	// Delivery quoter from the configured zone table.
	quoter := newQuoter(lg, cfg.Delivery)

	// Payment gateway: real client, or deterministic simulator for local
	// development and demos.
	var gateway payment.Gateway
	if cfg.Mpesa.Simulate {
		lg.Warn("Payment simulation enabled, no real payments will be made")
		gateway = mpesa.NewSimulator(attemptStore, cfg.Mpesa.DefaultPhone)
	} else {
		gateway = mpesa.NewClient(cfg.Mpesa, attemptStore)
	}

	// Completed-order events.
	var publisher conversation.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := event.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = producer
	}

	engine := conversation.NewEngine(catalogRepo, quoter, gateway, attemptStore, sessions, publisher)

	// HTTP routes: health endpoints + API on one server.
	h := handler.NewHandler(engine, attemptStore, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("dukachat", m.TracerProvider()),
			httpmiddleware.Metrics(m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newSessionStore picks Redis-backed sessions when a Redis URL is
// configured, in-process sessions otherwise.
func newSessionStore(ctx context.Context, cfg *Config, healthSvc *health.Health) (session.Store, error) {
	if cfg.RedisURL == "" {
		store := session.NewMemoryStore(cfg.SessionTTL)
		store.StartJanitor(ctx, time.Minute)
		return store, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(opts)
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return redisstore.NewSessionStore(client, cfg.SessionTTL), nil
}

// newQuoter builds the delivery quoter from the configured zone table. A
// table row that fails to parse degrades the quoter to its table-unavailable
// fallback rather than quoting with a partial table.
func newQuoter(lg *zap.Logger, cfg DeliveryConfig) *delivery.Quoter {
	zones := make([]delivery.Zone, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		fee, err := decimal.NewFromString(z.Fee)
		if err != nil {
			lg.Error("Invalid delivery zone table, using flat fallback fee",
				zap.String("keyword", z.Keyword), zap.String("fee", z.Fee), zap.Error(err))
			return delivery.NewQuoterWithoutTable()
		}
		zones = append(zones, delivery.Zone{Keyword: z.Keyword, Fee: fee})
	}
	return delivery.NewQuoter(zones)
}
