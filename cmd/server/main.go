package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/vai-no-pulo/internal/config"
	"github.com/example/vai-no-pulo/internal/geo"
	httpapi "github.com/example/vai-no-pulo/internal/http"
	"github.com/example/vai-no-pulo/internal/logging"
	"github.com/example/vai-no-pulo/internal/match"
	"github.com/example/vai-no-pulo/internal/notify"
	"github.com/example/vai-no-pulo/internal/orders"
	"github.com/example/vai-no-pulo/internal/payments"
	"github.com/example/vai-no-pulo/internal/routing"
	"github.com/example/vai-no-pulo/internal/storage"
	"github.com/example/vai-no-pulo/internal/trips"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info", "server").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "server")

	var orderStore storage.OrderStore
	var tripStore storage.TripStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := applyMigrations(pg); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		orderStore, tripStore = pg, pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		mem := storage.NewMemoryStore()
		orderStore, tripStore = mem, mem
	}

	var geoIndex geo.Index
	if cfg.RedisAddr != "" {
		geoIndex = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		geoIndex = geo.NewMemoryIndex()
	}

	var routes routing.Provider
	if cfg.OSRMEndpoint != "" {
		routes = routing.NewCachingProvider(routing.NewOSRMClient(cfg.OSRMEndpoint), cfg.RouteCacheTTL)
	} else {
		logger.Warn("OSRM_ENDPOINT not set, route matching disabled and pricing falls back to straight-line distance")
	}

	wsreg := notify.NewWSRegistry()

	// Connected recipients get events over their WebSocket session;
	// everyone else goes through Kafka to the push notifier.
	var stream notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := notify.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		stream = producer
	}
	events := &notify.Dispatcher{WS: wsreg, Fallback: stream}

	var pay payments.Client
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	matcher := match.NewEvaluator(routes, cfg.MatchToleranceKm)

	ordersSvc := &orders.Service{
		Store:           orderStore,
		Trips:           tripStore,
		Routes:          routes,
		Events:          events,
		Payments:        pay,
		Logger:          logger,
		BaseFareCents:   cfg.BaseFareCents,
		PricePerKmCents: cfg.PricePerKmCents,
	}
	tripsSvc := &trips.Service{
		Store:          tripStore,
		Geo:            geoIndex,
		Matcher:        matcher,
		SearchRadiusKm: cfg.SearchRadiusKm,
		SearchLimit:    cfg.SearchLimit,
	}

	api := httpapi.NewServer(logger, ordersSvc, tripsSvc, matcher, wsreg)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func applyMigrations(pg *storage.PostgresStore) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_core.sql"))
	if err != nil {
		return err
	}
	_, err = pg.DB().Exec(string(b))
	return err
}
