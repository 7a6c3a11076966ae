// Command reconcile retries refunds that never got recorded and resumes
// orders whose completed payment event was stored but not applied.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/config"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/logging"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/reconcile"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 when every candidate was handled, 1
// on failures, 2 on usage errors. Returning instead of exiting lets the
// deferred closes run.
func run(args []string) int {
	flags := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	refunds := flags.Bool("refunds", false, "retry refunds for stock_failed orders without a recorded refund")
	resume := flags.Bool("resume", false, "resume pending orders whose completed payment event was recorded")
	dryRun := flags.Bool("dry-run", false, "list candidates without acting on them")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.NewConfig()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config")
		return 1
	}
	logging.Setup(cfg.Log, "reconcile")

	if !*refunds && !*resume {
		log.Warn().Msg("Nothing to do: pass -refunds and/or -resume")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer pg.Close()

	reporting, err := db.NewSQLX(ctx, cfg.Postgres)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open reporting connection")
		return 1
	}
	defer reporting.Close()

	notifier, closeNotifier := notification.New(cfg.Kafka, cfg.Mail)
	defer func() {
		if err := closeNotifier(); err != nil {
			log.Warn().Err(err).Msg("Failed to close notification transport")
		}
	}()

	tx := db.NewTransactor(pg.Pool)
	orderRepo := order.NewRepository(pg.Pool)
	calculator := pricing.NewCalculator(cfg.Pricing.ShippingFee, cfg.Pricing.FreeShippingThreshold)

	engine := fulfillment.NewEngine(fulfillment.Deps{
		Orders:    orderRepo,
		Drafts:    order.NewService(orderRepo, tx, calculator, cfg.Pricing.Currency),
		Inventory: inventory.NewRepository(pg.Pool),
		Ledger:    idempotency.NewLedger(pg.Pool),
		Tx:        tx,
		Gateway:   payment.NewStripeGateway(cfg.Stripe.SecretKey, nil),
		Notifier:  notifier,
		BaseURL:   cfg.App.BaseURL,
	})

	runner := reconcile.NewRunner(reconcile.NewRepository(reporting), engine.Compensator(), engine)
	summary, err := runner.Run(ctx, reconcile.Options{Refunds: *refunds, Resume: *resume, DryRun: *dryRun})
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation failed")
		return 1
	}

	if summary.RefundFailures > 0 || summary.ResumeFailures > 0 {
		return 1
	}
	return 0
}
