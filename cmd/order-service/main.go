package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/config"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	fulfillmentHttp "github.com/vasiliy-maslov/ecommerce-fulfillment/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/logging"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logging.Setup(cfg.Log, "order-service")
	log.Info().Msg("Order service starting...")

	ctx := context.Background()

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.New(registry)

	notifier, closeNotifier := notification.New(cfg.Kafka, cfg.Mail)
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Error().Err(err).Msg("Failed to close notification dispatcher")
		}
	}()

	tx := db.NewTransactor(dbConn.Pool)
	orderRepo := order.NewRepository(dbConn.Pool)
	calculator := pricing.NewCalculator(cfg.Pricing.ShippingFee, cfg.Pricing.FreeShippingThreshold)
	orderSvc := order.NewService(orderRepo, tx, calculator, cfg.Pricing.Currency)

	engine := fulfillment.NewEngine(fulfillment.Deps{
		Orders:    orderRepo,
		Drafts:    orderSvc,
		Inventory: inventory.NewRepository(dbConn.Pool),
		Ledger:    idempotency.NewLedger(dbConn.Pool),
		Tx:        tx,
		Gateway:   payment.NewStripeGateway(cfg.Stripe.SecretKey, nil),
		Notifier:  notifier,
		Metrics:   serverMetrics,
		BaseURL:   cfg.App.BaseURL,
	})

	router := fulfillmentHttp.NewRouter(fulfillmentHttp.RouterDeps{
		Engine:   engine,
		Orders:   orderSvc,
		Verifier: payment.NewStripeVerifier(cfg.Stripe.WebhookSecret),
		DB:       dbConn.Pool,
		Metrics:  serverMetrics,
		Gatherer: registry,
		BaseURL:  cfg.App.BaseURL,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
