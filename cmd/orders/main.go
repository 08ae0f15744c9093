// Package main runs the order ledger: HTTP API, outbox relay, payment status projector and
// the optional stale-order reconciler.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jnst/order-payment-saga/internal/api"
	"github.com/jnst/order-payment-saga/internal/bootstrap"
	"github.com/jnst/order-payment-saga/internal/config"
	"github.com/jnst/order-payment-saga/internal/consumer"
	"github.com/jnst/order-payment-saga/internal/logger"
	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/repository"
	"github.com/jnst/order-payment-saga/internal/service"
	"github.com/jnst/order-payment-saga/internal/worker"
)

const exitCode = 1

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName))

	if err := run(cfg); err != nil {
		slog.Error("order service stopped with error", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Setup(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		infra.Close(closeCtx)
	}()

	orderRepo := repository.NewOrderRepositoryImpl(infra.Pool)
	outboxRepo := repository.NewOutboxRepositoryImpl(infra.Pool)
	transactionMgr := repository.NewTransactionManagerImpl(infra.Pool)

	orderService := service.NewOrderServiceImpl(orderRepo, outboxRepo, transactionMgr, cfg.ProcessPaymentCommandQueue)
	outboxService := service.NewOutboxServiceImpl(outboxRepo, infra.Broker, service.RelayConfig{
		PoisonPolicy:    service.PoisonPolicy(cfg.OutboxPoisonPolicy),
		DeadLetterQueue: cfg.OutboxDeadLetterQueue,
	}, infra.Metrics)

	projector := messaging.NewConsumer(infra.Broker, consumer.NewPaymentStatusHandler(orderService), messaging.ConsumerConfig{
		Queue:           cfg.PaymentStatusEventQueue,
		Prefetch:        cfg.ConsumerPrefetch,
		RetryLimit:      cfg.ConsumerRetryLimit,
		RetryInterval:   cfg.ConsumerRetryInterval,
		MaxRedeliveries: cfg.ConsumerMaxRedeliveries,
	}, infra.Metrics)

	handler := api.NewHandler(cfg.ServiceName, infra.Checks(), infra.Registry, api.NewOrderHandler(orderService))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.NewOutboxRelay(outboxService, cfg.PublisherPollInterval, cfg.PublisherBatchSize).Run(ctx)
	})
	g.Go(func() error { return projector.Run(ctx) })
	g.Go(func() error { return bootstrap.Serve(ctx, ":"+cfg.Port, handler, cfg.ShutdownTimeout) })

	if cfg.ReconcileEnabled {
		reconcileService := service.NewReconcileServiceImpl(
			orderRepo, outboxRepo, infra.Broker, cfg.ReconcileMaxRedrives, infra.Metrics)

		g.Go(func() error {
			return worker.NewReconciler(
				reconcileService, cfg.ReconcileInterval, cfg.ReconcileStaleAfter, cfg.ReconcileBatchSize,
			).Run(ctx)
		})
	}

	slog.Info("starting order service",
		slog.String("port", cfg.Port),
		slog.String("status_queue", cfg.PaymentStatusEventQueue),
		slog.Bool("reconcile", cfg.ReconcileEnabled))

	return g.Wait()
}
