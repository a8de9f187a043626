package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/atelierbleu/api/internal/handlers"
	"github.com/atelierbleu/api/internal/platform/config"
	"github.com/atelierbleu/api/internal/platform/events"
	pfirestore "github.com/atelierbleu/api/internal/platform/firestore"
	"github.com/atelierbleu/api/internal/platform/observability"
	"github.com/atelierbleu/api/internal/platform/queue"
	firestoreRepo "github.com/atelierbleu/api/internal/repositories/firestore"
	"github.com/atelierbleu/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var eventPublisher *events.PubSubEventPublisher
	var eventsTopic *pubsub.Topic
	if cfg.PubSub.OrderEventsTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		eventsTopic = pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		eventPublisher, err = events.NewPubSubEventPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	} else {
		logger.Warn("event publication disabled: PUBSUB_TOPIC_ORDER_EVENTS is not set")
	}

	unitOfWork, err := firestoreRepo.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	invoiceRepo, err := firestoreRepo.NewInvoiceRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise invoice repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	jobQueue, err := queue.NewFirestoreQueue(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise job queue", zap.Error(err))
	}

	invoiceService, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Invoices:   invoiceRepo,
		Orders:     orderRepo,
		Counters:   counterRepo,
		UnitOfWork: unitOfWork,
		Events:     invoiceEvents(eventPublisher),
		Logger:     serviceLogger(logger.Named("invoices")),
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice service", zap.Error(err))
	}

	invoiceScheduler, err := services.NewInvoiceScheduler(services.InvoiceSchedulerDeps{
		Queue:       jobQueue,
		Delay:       cfg.Invoicing.Delay,
		MaxAttempts: cfg.Invoicing.MaxAttempts,
		Logger:      serviceLogger(logger.Named("invoice-scheduler")),
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice scheduler", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     orderRepo,
		Counters:   counterRepo,
		UnitOfWork: unitOfWork,
		Invoicing:  invoiceScheduler,
		Events:     orderEvents(eventPublisher),
		Logger:     serviceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	worker, err := queue.NewWorker(queue.WorkerDeps{
		Queue:        jobQueue,
		Kind:         services.JobKindCreateInvoice,
		Handler:      services.NewInvoiceJobHandler(invoiceService, serviceLogger(logger.Named("invoice-worker"))),
		Concurrency:  cfg.Invoicing.WorkerConcurrency,
		PollInterval: cfg.Invoicing.PollInterval,
		Logger:       logger.Named("invoice-worker"),
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice worker", zap.Error(err))
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		worker.Run(workerCtx)
	}()

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
				_, err := firestoreProvider.Client(ctx)
				return err
			}),
		)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(orderService).Routes),
		handlers.WithInvoiceRoutes(handlers.NewInvoiceHandlers(invoiceService).Routes),
		handlers.WithAdminRoutes(handlers.NewInvoiceJobHandlers(invoiceScheduler).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	stopWorker()
	workerWG.Wait()

	if eventsTopic != nil {
		eventsTopic.Stop()
	}

	logger.Info("shutdown complete")
}

// serviceLogger adapts a zap logger to the map-based logging hook the
// services accept.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zFields = append(zFields, zap.Any(key, value))
		}
		logger.Info(event, zFields...)
	}
}

// orderEvents avoids handing services a typed nil when publication is disabled.
func orderEvents(p *events.PubSubEventPublisher) services.OrderEventPublisher {
	if p == nil {
		return nil
	}
	return p
}

func invoiceEvents(p *events.PubSubEventPublisher) services.InvoiceEventPublisher {
	if p == nil {
		return nil
	}
	return p
}
