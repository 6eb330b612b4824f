package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/config"
	"github.com/example/ride-tracking/internal/directions"
	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/fanout"
	"github.com/example/ride-tracking/internal/geo"
	httpapi "github.com/example/ride-tracking/internal/http"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/payments"
	"github.com/example/ride-tracking/internal/sideeffects"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/tracking"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-tracking", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	var rc *redis.Client
	var positions geo.Positions = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc.Close)
		positions = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		closers = append(closers, ps.Close)
		if cfg.RunMigrations {
			if err := migrate(ctx, ps, logger); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		store = ps
	} else {
		ms, err := seedMemoryStore(cfg.RideSeedFile)
		if err != nil {
			logger.Error("ride seed failed", "file", cfg.RideSeedFile, "error", err)
			os.Exit(1)
		}
		if ms.Len() == 0 {
			logger.Warn("PG_DSN not set and no rides seeded, tracking start will return 404 for every ride; set RIDES_SEED_FILE")
		} else {
			logger.Info("PG_DSN not set, using in-memory ride store", "rides", ms.Len(), "file", cfg.RideSeedFile)
		}
		store = ms
	}

	observers := dispatch.NewWSRegistry(logger)

	var provider directions.Provider = directions.NewOSRMClient(cfg.OSRMEndpoint)
	if cfg.GoogleMapsAPIKey != "" {
		gp, err := directions.NewGoogleProvider(cfg.GoogleMapsAPIKey)
		if err != nil {
			logger.Error("google maps client", "error", err)
			os.Exit(1)
		}
		provider = gp
	}
	routes := &directions.Cached{Provider: provider, Cache: directions.NewCache(cfg.DirectionsCacheTTL)}

	notifiers := dispatch.Multi{observers, dispatch.LogDispatcher{Logger: logger}}
	if cfg.SMSEnabled() {
		notifiers = append(notifiers, dispatch.NewSMSDispatcher(dispatch.SMSConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioPhoneNumber,
			AppURL:     cfg.AppURL,
			DevMode:    cfg.SMSDevMode,
		}, logger))
	}
	if cfg.NotifyWebhookURL != "" {
		notifiers = append(notifiers, dispatch.NewWebhookDispatcher(cfg.NotifyWebhookURL))
	}

	publishers := fanout.Multi{fanout.Positions{Index: positions}}
	var events tracking.EventSink = observers
	var routeCache sideeffects.RouteCache = sideeffects.NewMemoryRouteCache()
	if rc != nil {
		rp := fanout.NewRedisPublisher(rc, logger)
		publishers = append(publishers, rp)
		events = rp
		routeCache = sideeffects.NewRedisRouteCache(rc, cfg.DirectionsCacheTTL)
		relay := fanout.NewRedisRelay(rc, observers, logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("observer relay stopped", "error", err)
			}
		}()
	} else {
		publishers = append(publishers, observers)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := fanout.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		publishers = append(publishers, kp)
	}
	if cfg.AMQPURL != "" {
		rp, err := fanout.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("rabbitmq unavailable", "error", err)
			os.Exit(1)
		}
		closers = append(closers, rp.Close)
		publishers = append(publishers, rp)
	}

	var settler tracking.FareSettler
	if cfg.StripeAPIKey != "" {
		settler = &payments.Settler{Gateway: payments.NewStripeClient(cfg.StripeAPIKey), Store: store, Logger: logger}
	}

	tcfg := tracking.DefaultConfig()
	tcfg.NominalInterval = cfg.NominalInterval
	tcfg.CheckpointRadiusMeters = cfg.CheckpointRadiusMeters
	tcfg.DirectionsRefreshMeters = cfg.DirectionsRefreshMeters

	manager := tracking.NewManager(store, settler, positions, tcfg, tracking.Deps{
		Notifier:   notifiers,
		Directions: routes,
		Publisher:  publishers,
		Events:     events,
		Effects:    &sideeffects.Port{Cache: routeCache, Events: events, Logger: logger},
		Logger:     logger,
	}, 64)

	go pruneCompleted(ctx, manager, cfg.CompletedRetention, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(manager, positions, observers, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-tracking listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	observers.CloseAll()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracking shutdown", "error", err)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("close", "error", err)
		}
	}
	logger.Info("ride-tracking stopped")
}

func migrate(ctx context.Context, ps *storage.PostgresStore, logger *slog.Logger) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_tracking.sql"))
	if err != nil {
		return err
	}
	if err := ps.Migrate(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_create_tracking.sql")
	return nil
}

func seedMemoryStore(path string) (*storage.MemoryStore, error) {
	ms := storage.NewMemoryStore()
	if path == "" {
		return ms, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := ms.LoadJSON(f); err != nil {
		return nil, err
	}
	return ms, nil
}

func pruneCompleted(ctx context.Context, m *tracking.Manager, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(retention / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Prune(ctx, now.Add(-retention)); n > 0 {
				logger.Info("pruned completed sessions", "count", n)
			}
		}
	}
}
