package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/auth"
	c "github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/config"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/poller"
	"github.com/fjod/storefront/internal/repository"
	s "github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/internal/session"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const devJWTSecret = "dev-only-secret"

func main() {
	if err := run(); err != nil {
		slog.Error("cart service failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "cart-service",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using development secret")
		cfg.JWTSecret = devJWTSecret
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up MongoDB connection; users always live there.
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer disconnectMongo(mongoDB)
	log.Info("connected to MongoDB", slog.String("db", cfg.MongoDBName))

	users := repository.NewMongoUserRepository(mongoDB)
	if err := users.CreateIndexes(ctx); err != nil {
		return err
	}

	store, closeStore, err := openCartStore(ctx, cfg, mongoDB)
	if err != nil {
		return err
	}
	defer closeStore()
	repo := repository.NewBreakerRepository(store, circuitbreaker.DefaultOptions("cart-store"))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))

	sessions := session.NewRedisStore(redisClient, cfg.SessionTTL)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL)
	guard := auth.NewGuard(tokens, sessions)

	carts := s.NewCartService(repo, c.NewRedisCache(redisClient),
		s.WithConflictRetries(cfg.ConflictRetries),
		s.WithLogger(log.With(slog.String("component", "cart"))),
	)
	accounts := s.NewAccountService(users, sessions, tokens, guard)

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(carts, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)
		log.Info("checkout poller started", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		log.Info("KAFKA_BROKERS not set, checkout poller disabled")
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Carts:              carts,
			Accounts:           accounts,
			Identity:           guard,
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
			SecureCookies:      !cfg.IsDev(),
			AccessLog:          true,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("cart service listening", slog.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down cart service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("cart service stopped")
	return nil
}

func openCartStore(ctx context.Context, cfg config.Config, mongoDB *mongo.Database) (repository.CartRepository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		cred := &repository.Credentials{
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			DBName:            cfg.Postgres.DBName,
			MigrationsDirPath: cfg.MigrationsPath,
		}
		repo, err := repository.NewPostgresRepository(cred)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := repo.RunMigrations(cred); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		slog.Info("cart store: postgres", slog.String("host", cfg.Postgres.Host))
		return repo, func() { _ = repo.Close() }, nil
	default:
		repo := repository.NewMongoRepository(mongoDB)
		if err := repo.CreateIndexes(ctx); err != nil {
			return nil, nil, err
		}
		slog.Info("cart store: mongo")
		return repo, func() {}, nil
	}
}

func disconnectMongo(db *mongo.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Client().Disconnect(ctx); err != nil {
		slog.Warn("mongo disconnect failed", slog.Any("err", err))
	}
}
