package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/membership"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/projection"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// services — прикладные сервисы поверх выбранного хранилища.
type services struct {
	orders    *ordering.Service
	projector *projection.Projector
	members   *membership.Service
	catalog   *catalog.Service
}

func newServices(deps runtimeDependencies, orderMetrics *metrics.OrderMetrics, logger *log.Entry) services {
	return services{
		orders: ordering.NewService(
			deps.uow,
			deps.repos,
			logger.WithField("component", "ordering"),
			ordering.WithMetrics(orderMetrics),
		),
		projector: projection.NewProjector(
			deps.queries,
			logger.WithField("component", "projection"),
			projection.WithMetrics(orderMetrics),
		),
		members: membership.NewService(deps.uow, deps.repos.Members, logger.WithField("component", "membership")),
		catalog: catalog.NewService(deps.uow, deps.repos.Items, logger.WithField("component", "catalog")),
	}
}

// Run поднимает хранилище, gRPC и HTTP-серверы, outbox worker и consumer доставки
// и блокируется до отмены ctx или первой фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn == nil {
			return
		}
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	svc := newServices(deps, metrics.NewOrderMetrics(), logger)

	grpcMetrics := registerGRPCMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(grpcServer, grpcsvc.NewOrderService(
		svc.orders,
		svc.projector,
		svc.members,
		svc.catalog,
		logger.WithField("layer", "grpc"),
	))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.repos.Outbox, cfg.OutboxMaxPending))

	// Без Kafka сервис работает, события копятся в outbox до следующего запуска с брокером.
	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	defer closeKafka(producer, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, cfg.shutdownTimeout(), logger)
		return nil
	})

	if producer != nil {
		worker := newOutboxWorker(cfg, deps, producer, logger)
		g.Go(func() error {
			runErr := worker.Run(gctx)

			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout())
			defer cancel()
			drained := worker.Drain(drainCtx)
			logger.WithFields(log.Fields{
				"sent":   drained.Sent,
				"failed": drained.Failed,
			}).Info("outbox drained on shutdown")
			return runErr
		})

		consumer, err := initDeliveryConsumer(cfg, svc.orders, producer, logger)
		if err != nil {
			logger.WithError(err).Warn("delivery consumer is disabled")
		} else {
			g.Go(func() error {
				return consumer.Run(gctx)
			})
		}
	} else {
		logger.Warn("kafka is not configured: outbox worker and delivery consumer are disabled")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newOutboxWorker(cfg Config, deps runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		deps.repos.Outbox,
		kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic),
		outbox.WithLogger(logger.WithField("component", "outbox")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.DeadLetterTopic)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
}

// registerGRPCMetrics регистрирует метрики gRPC-сервера; при повторном запуске
// в том же процессе возвращает уже зарегистрированный коллектор.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// stopGRPC ждёт завершения активных RPC не дольше timeout, затем останавливает сервер принудительно.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
