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

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/reports"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.New("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	rides, cleanup, err := buildRideRepo(cfg, logger)
	if err != nil {
		logger.Error("ride store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	pres := buildPresenceStore(cfg, logger)

	rideSvc := &ride.Service{
		Rides:     rides,
		Presence:  pres,
		BaseFare:  cfg.BaseFare,
		PerKmRate: cfg.PerKmRate,
	}
	matcher := &geo.Matcher{Presence: pres}
	registry := realtime.NewRegistry()
	profiles := storage.NewMemoryProfileRepo()

	coord := dispatch.NewCoordinator(rideSvc, matcher, registry, profiles, pres, logging.Component(logger, "dispatch"))
	coord.RadiusKm = cfg.DispatchRadiusKm
	coord.TopK = cfg.DispatchTopK

	rep := &reports.Service{Rides: rides}

	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		locations = producer
		logger.Info("location publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	srv := httpapi.NewServer(coord, rideSvc, rep, pres, registry,
		auth.NewJWTVerifier(cfg.JWTSecret), locations, logging.Component(logger, "http"))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func buildRideRepo(cfg config.ServerConfig, logger *slog.Logger) (storage.RideRepo, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory ride store")
		return storage.NewMemoryRideRepo(), func() {}, nil
	}

	pg, err := storage.NewPostgresRideRepo(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		ddl, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		if err := pg.Migrate(context.Background(), string(ddl)); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("migration applied", "file", "001_create_rides.sql")
	}
	logger.Info("using postgres ride store")
	return pg, func() { _ = pg.Close() }, nil
}

func buildPresenceStore(cfg config.ServerConfig, logger *slog.Logger) presence.Store {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory presence store")
		return presence.NewMemory()
	}
	logger.Info("using redis presence store", "addr", cfg.RedisAddr)
	return presence.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPresenceKey)
}
