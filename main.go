package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/db"
	"acquiring-service/internal/event"
	"acquiring-service/internal/gateway"
	"acquiring-service/internal/kafka"
	"acquiring-service/internal/logging"
	"acquiring-service/internal/metrics"
	"acquiring-service/internal/notification"
	"acquiring-service/internal/reconcile"
	"acquiring-service/internal/server"
	"acquiring-service/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	connStr := db.GetConnStr(cfg.Database)
	if err := db.RunMigrations(connStr); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(ctx, connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	repo := db.NewPaymentRepository(dbpool)

	gatewayClient, err := gateway.NewClient(cfg.Gateway, logger)
	if err != nil {
		log.Fatal(err)
	}

	statusWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.PaymentStatus)
	defer statusWriter.Close()
	publisher := kafka.NewStatusPublisher(statusWriter, logger)

	payments := service.NewPaymentService(repo, gatewayClient, publisher, logger)

	requestReader := kafka.NewReader(cfg.Kafka, cfg.Kafka.Topic.PaymentRequests)
	defer requestReader.Close()
	go kafka.ReadPaymentRequests(ctx, requestReader, event.NewProcessor(payments, logger), logger)

	reconcile.NewPoller(cfg.Reconcile, repo, gatewayClient, publisher, logger).Start(ctx)

	notifications := notification.NewHandler(repo, gatewayClient, publisher, logger)
	srv := server.New(cfg.Server, server.NewHandler(payments, notifications, logger))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", "error", err)
		}
	}()

	logger.Info("Starting server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
