package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/config"
	"github.com/vasiliy-maslov/storefront-orders/internal/db"
	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/product"
	"github.com/vasiliy-maslov/storefront-orders/internal/transport"
	"github.com/vasiliy-maslov/storefront-orders/internal/user"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "storefront-orders").Logger()

	log.Info().Msg("Storefront order service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	postgres, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer postgres.Close()

	if err := postgres.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	var notifier notify.Notifier
	if cfg.Email.SenderAddress != "" {
		notifier, err = notify.NewSESNotifier(ctx, cfg.Email)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize SES notifier")
		}
	} else {
		log.Warn().Msg("EMAIL_SENDER not set, emails will be logged only")
		notifier = notify.NewLogNotifier()
	}

	dispatcher := notify.NewDispatcher(notifier, 0)
	defer dispatcher.Close()

	var guard order.CancelNoticeGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		guard = notify.NewRedisNoticeGuard(rdb, cfg.CancelNoticeWindow)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to redis")
	} else {
		log.Warn().Msg("REDIS_ADDR not set, cancel-notice dedup is process-local")
		guard = notify.NewMemoryNoticeGuard(cfg.CancelNoticeWindow)
	}

	productRepo := product.NewRepository(postgres.Pool)
	orderRepo := order.NewRepository(postgres.Pool)
	userRepo := user.NewRepository(postgres.Pool)

	svc := order.NewService(order.Deps{
		Orders:     orderRepo,
		Products:   productRepo,
		Ledger:     product.NewLedger(productRepo),
		Users:      userRepo,
		Mailer:     dispatcher,
		Guard:      guard,
		AdminEmail: cfg.Email.AdminAddress,
		HoldTTL:    cfg.PickupHoldTTL,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      transport.NewRouter(svc),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
