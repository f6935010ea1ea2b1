package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"comanda/internal/config"
	"comanda/internal/events"
	"comanda/internal/httpapi"
	"comanda/internal/service"
	"comanda/internal/store"
	"comanda/internal/store/memory"
	mongostore "comanda/internal/store/mongo"
	pgstore "comanda/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, closers, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("storage unavailable")
	}
	if cfg.SeedDemoData {
		if seeder, ok := repo.(store.CatalogSeeder); ok {
			if err := seeder.SeedCatalog(ctx, store.DemoProducts(), store.DemoCustomers()); err != nil {
				log.Fatal().Err(err).Msg("failed to seed demo catalog")
			}
			log.Info().Msg("demo catalog seeded")
		}
	}

	sink, sinkClosers := newEventSink(ctx, cfg, repo)
	closers = append(closers, sinkClosers...)

	svc := service.New(repo, sink, service.Options{
		CounterSaleCustomerID: cfg.CounterSaleCustomerID,
		LoyaltyPointsPerUnit:  cfg.LoyaltyPointsPerUnit,
		OrderIDAttempts:       cfg.OrderIDAttempts,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if cfg.StoreDriver != config.StoreMemory {
		if err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword, cfg.BootstrapAdminPIN); err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin account")
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("store", cfg.StoreDriver).Msg("comanda listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// setupLogger prints human-readable logs outside production and JSON lines
// in production.
func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openStore connects the configured backend and prepares its schema. A
// configured database that cannot be reached is fatal; there is no silent
// fallback to the in-memory store.
func openStore(ctx context.Context, cfg config.Config) (store.Repository, []func() error, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.StoreMongo:
		if cfg.MongoURI == "" {
			return nil, nil, errors.New("MONGO_URI is required for the mongo store")
		}
		m, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTransactions)
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureIndexes(ctx); err != nil {
			_ = m.Close()
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		log.Info().Bool("transactions", cfg.MongoTransactions).Msg("repository: mongo")
		return m, []func() error{m.Close}, nil
	case config.StoreMemory, "":
		if cfg.IsProduction() {
			log.Warn().Msg("in-memory repository in production; data is lost on restart")
		}
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// newEventSink always logs and audits events. The Redis stream is added
// when REDIS_ADDR is set and reachable; an unreachable Redis only loses the
// stream, not the ledger.
func newEventSink(ctx context.Context, cfg config.Config, repo store.Repository) (events.Sink, []func() error) {
	sinks := events.Fanout{
		events.NewLogSink(log.Logger),
		events.NewAuditSink(repo),
	}
	if cfg.RedisAddr == "" {
		log.Info().Msg("event stream: disabled")
		return sinks, nil
	}

	stream := events.NewRedisStreamSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EventStream)
	if err := stream.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, event stream disabled")
		_ = stream.Close()
		return sinks, nil
	}
	log.Info().Str("stream", cfg.EventStream).Msg("event stream: redis")
	return append(sinks, stream), []func() error{stream.Close}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPassword != "" && cfg.BootstrapAdminPIN == "" {
		return errors.New("BOOTSTRAP_ADMIN_PIN must be set together with BOOTSTRAP_ADMIN_PASSWORD")
	}
	if cfg.BootstrapAdminPIN != "" {
		if err := httpapi.ValidatePINStrength(cfg.BootstrapAdminPIN); err != nil {
			return fmt.Errorf("BOOTSTRAP_ADMIN_PIN is too weak: %w", err)
		}
	}
	return nil
}
