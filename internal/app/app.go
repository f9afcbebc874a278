package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/stockledger/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/stockledger/internal/health"
	"github.com/vladislavdragonenkov/stockledger/internal/httpapi"
	"github.com/vladislavdragonenkov/stockledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/delivery"
	grpcsvc "github.com/vladislavdragonenkov/stockledger/internal/service/grpc"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/stockledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
	"github.com/vladislavdragonenkov/stockledger/internal/version"
)

const defaultShutdownTimeout = 5 * time.Second

// Run собирает зависимости по cfg и обслуживает gRPC и HTTP до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a, err := newApplication(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.listen(); err != nil {
		return err
	}
	return a.serve(ctx)
}

// application — собранный сервис: хранилище, бизнес-логика, транспорт и фоновые worker'ы.
type application struct {
	cfg    Config
	logger *log.Entry

	storage     *storage
	events      *events
	redisClient *redis.Client

	metrics     *metrics.StockMetrics
	stock       *stock.Service
	coordinator *lifecycle.Coordinator

	outboxWorker  *outbox.Worker
	cleanupWorker *delivery.CleanupWorker
	consumer      *kafka.Consumer

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server

	grpcListener net.Listener
	httpListener net.Listener
}

func newApplication(ctx context.Context, cfg Config, registerer prometheus.Registerer, gatherer prometheus.Gatherer) (*application, error) {
	logger := log.WithField("component", "app")
	a := &application{cfg: cfg, logger: logger}

	st, err := initStorage(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, err
	}
	a.storage = st

	if err := a.initServices(ctx, registerer); err != nil {
		a.close()
		return nil, err
	}

	ev, err := initEvents(cfg, logger.WithField("layer", "events"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.events = ev

	a.initWorkers(registerer)
	a.initConsumer()
	a.initGRPC(registerer)
	a.initHTTP(gatherer, registerer)

	return a, nil
}

func (a *application) initServices(ctx context.Context, registerer prometheus.Registerer) error {
	policy, err := stock.ParseBatchPolicy(a.cfg.BatchPolicy)
	if err != nil {
		return err
	}

	stockMetrics := metrics.NewStockMetricsWithRegisterer(registerer)
	a.metrics = stockMetrics
	options := []stock.Option{
		stock.WithLogger(log.WithField("component", "stock")),
		stock.WithMetrics(stockMetrics),
		stock.WithBatchPolicy(policy),
		stock.WithLowStockThreshold(a.cfg.LowStockThreshold),
	}

	if a.cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			a.logger.WithError(err).Warn("redis is unavailable, stock cache disabled")
		} else {
			a.redisClient = client
			options = append(options, stock.WithCache(cache.NewStockCache(client, cache.WithTTL(a.cfg.CacheTTL))))
			a.logger.WithField("addr", a.cfg.RedisAddr).Info("redis stock cache enabled")
		}
	}

	a.stock = stock.NewService(a.storage.ledger, options...)
	a.coordinator = lifecycle.NewCoordinator(
		a.storage.orders,
		a.stock,
		lifecycle.WithLogger(log.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(stockMetrics),
		lifecycle.WithOutbox(a.storage.outbox),
		lifecycle.WithTimeline(a.storage.timeline),
	)
	return nil
}

func (a *application) initWorkers(registerer prometheus.Registerer) {
	if a.events.publisher != nil {
		options := []outbox.Option{
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
			outbox.WithPollInterval(a.cfg.OutboxPollInterval),
			outbox.WithBatchSize(a.cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(a.cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(a.cfg.OutboxRetryDelay),
		}
		if a.events.dlq != nil {
			options = append(options, outbox.WithDLQPublisher(a.events.dlq))
		}
		a.outboxWorker = outbox.NewWorker(a.storage.outbox, a.events.publisher, options...)
	}

	a.cleanupWorker = delivery.NewCleanupWorker(
		a.storage.deliveries,
		delivery.WithLogger(log.WithField("component", "delivery-cleanup")),
		delivery.WithMetrics(metrics.NewCleanupMetrics(registerer)),
		delivery.WithInterval(a.cfg.DeliveryCleanupInterval),
		delivery.WithBatchSize(a.cfg.DeliveryCleanupBatch),
	)
}

// initConsumer подписывается на события платежей, если доступен Kafka producer для DLQ.
func (a *application) initConsumer() {
	if a.events.producer == nil || a.cfg.KafkaPaymentsTopic == "" {
		return
	}

	handler := kafka.NewPaymentHandler(a.coordinator, a.metrics, log.WithField("component", "payment-handler"))
	consumer, err := kafka.NewConsumer(
		a.cfg.KafkaBrokers,
		a.cfg.KafkaConsumerGroup,
		[]string{a.cfg.KafkaPaymentsTopic},
		handler.Handle,
		kafka.WithDLQ(a.events.producer, kafka.TopicDeadLetterQueue),
		kafka.WithRetry(a.cfg.KafkaConsumerRetries, 100*time.Millisecond),
	)
	if err != nil {
		a.logger.WithError(err).Warn("failed to create payments consumer, continuing without it")
		return
	}
	a.consumer = consumer
}

func (a *application) initGRPC(registerer prometheus.Registerer) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			a.logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	stockServer := grpcsvc.NewStockServer(a.stock, a.coordinator, a.storage.deliveries, log.WithField("component", "grpc"))
	grpcsvc.RegisterStockServiceServer(a.grpcServer, stockServer)

	a.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(a.grpcServer)
	grpcMetrics.InitializeMetrics(a.grpcServer)
}

func (a *application) initHTTP(gatherer prometheus.Gatherer, registerer prometheus.Registerer) {
	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterCritical("storage", healthcheck.NewPingChecker(a.storage.ping))
	if a.redisClient != nil {
		client := a.redisClient
		checks.RegisterOptional("redis", healthcheck.NewPingChecker(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	if a.outboxWorker != nil {
		checks.RegisterOptional("outbox", healthcheck.NewOutboxBacklogChecker(a.storage.outbox, a.cfg.OutboxMaxAge))
	}

	webhook := httpapi.NewWebhookHandler(a.coordinator, a.storage.deliveries, a.metrics, log.WithField("component", "webhook"))
	webhook.SetDeliveryTTL(a.cfg.DeliveryTTL)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Webhook: webhook,
		Health:  checks,
		Metrics: promhttp.InstrumentMetricHandler(registerer, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
		Logger:  log.WithField("component", "http"),
	})

	a.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// listen открывает сокеты заранее, чтобы ошибки адресов возвращались до запуска worker'ов.
func (a *application) listen() error {
	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", a.cfg.HTTPAddr, err)
	}
	a.grpcListener = grpcLis
	a.httpListener = httpLis
	return nil
}

// serve запускает серверы и worker'ы. При отмене ctx выполняет graceful shutdown и возвращает ctx.Err().
func (a *application) serve(ctx context.Context) error {
	workersCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer func() {
		cancelWorkers()
		wg.Wait()
	}()

	if a.outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.outboxWorker.Run(workersCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.cleanupWorker.Run(workersCtx)
	}()
	if a.consumer != nil {
		if err := a.consumer.Start(workersCtx); err != nil {
			a.logger.WithError(err).Warn("failed to start payments consumer")
			a.consumer = nil
		}
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Infof("gRPC сервер слушает %s", a.grpcListener.Addr())
		errCh <- a.grpcServer.Serve(a.grpcListener)
	}()
	go func() {
		a.logger.Infof("HTTP сервер слушает %s (webhooks, /metrics, /healthz)", a.httpListener.Addr())
		if err := a.httpServer.Serve(a.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("получен сигнал остановки, останавливаем серверы")
		a.shutdown()
		return ctx.Err()
	case err := <-errCh:
		a.shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func (a *application) shutdown() {
	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	a.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}

	shutdownHTTP(a.httpServer, timeout, a.logger)

	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.WithError(err).Warn("failed to stop payments consumer")
		}
	}
}

// close освобождает подключения к брокерам, кешу и хранилищу.
func (a *application) close() {
	if a.events != nil {
		if err := a.events.close(); err != nil {
			a.logger.WithError(err).Warn("failed to close events broker")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if a.storage != nil {
		if err := a.storage.close(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
