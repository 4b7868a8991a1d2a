package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1Grpc "github.com/DRSN-tech/product-matcher/internal/delivery/v1/grpc"
	v1Http "github.com/DRSN-tech/product-matcher/internal/delivery/v1/http"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/kafka"
	"github.com/go-chi/chi/v5"
)

// Serve поднимает HTTP и gRPC, цикл перезагрузки индекса и конвейер
// обработки тикетов. Возвращается после сигнала остановки или падения сервера.
func (a *App) Serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.matcher.Load(runCtx); err != nil {
		if !isNoArtifact(err) {
			logger.Warnf("initial index load failed: %v", err)
		} else {
			logger.Infof("no active index version yet, matcher stays unloaded")
		}
	}
	go a.matcher.Watch(runCtx, cfg.Matcher.ReloadInterval)

	var (
		outbox   *kafka.OutboxWorker
		consumer *kafka.Consumer
	)
	if a.worker != nil {
		a.ensureTopic(runCtx)

		outbox = kafka.NewOutboxWorker(
			a.outboxRepo,
			logger,
			a.producer,
			a.db.Dsn,
			cfg.Worker.OutboxBatchSize,
			cfg.Worker.OutboxSweep,
			cfg.Worker.StaleAfter,
		)
		outbox.Start(runCtx)

		consumer = kafka.NewConsumer(kafka.NewReader(cfg.Kafka), a.worker, logger, cfg.Worker.EventConcurrency)
		consumer.Start(runCtx)
	} else {
		logger.Warnf("ticket events stay pending in outbox: %v", a.ticketingErr)
	}

	grpcSrv := v1Grpc.NewGRPCServer(cfg.Grpc, logger)
	grpcSrv.RegisterServices(a.matcher, cfg.Matcher.TopK)

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC server starting on %s:%s", cfg.Grpc.NetworkMode, cfg.Grpc.Port)
		if err := grpcSrv.Start(); err != nil {
			logger.Errorf(err, "gRPC server failed")
			grpcErrCh <- err
		}
	}()

	r := chi.NewRouter()
	v1Http.NewRouter(r, logger).Init(&v1Http.Deps{
		Catalog:    a.catalog,
		Index:      a.index,
		Matcher:    a.matcher,
		Ingest:     a.ingest,
		Review:     a.review,
		Metrics:    a.metrics.Handler(),
		TopK:       cfg.Matcher.TopK,
		AckTimeout: cfg.Http.AckTimeout,
		JobTimeout: cfg.Http.JobTimeout,
	})

	httpSrv := v1Http.NewServer(r, cfg.Http)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server started on port %s", cfg.Http.Port)
		if err := httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	// === Ожидание сигнала или ошибки ===
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var appErr error
	select {
	case appErr = <-errCh:
		logger.Errorf(appErr, "HTTP server fatal error")
	case appErr = <-grpcErrCh:
		logger.Errorf(appErr, "gRPC server fatal error")
	case <-shutdown:
		logger.Infof("Received shutdown signal, stopping gracefully...")
	case <-ctx.Done():
		logger.Infof("Context cancelled, stopping gracefully...")
	}

	// === Graceful shutdown ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Errorf(err, "HTTP server shutdown error")
	} else {
		logger.Infof("HTTP server stopped")
	}

	if err := grpcSrv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Errorf(err, "gRPC server shutdown error")
	}

	// Сначала консьюмер, затем outbox
	cancel()
	if consumer != nil {
		consumer.Wait()
		if err := consumer.Close(); err != nil {
			logger.Warnf("kafka consumer close error: %v", err)
		}
	}
	if outbox != nil {
		outbox.Stop()
	}

	if err := a.Close(shutdownCtx); err != nil {
		logger.Warnf("%v", err)
	}

	logger.Infof("Application shutdown complete")
	return appErr
}
