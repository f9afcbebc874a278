package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/app"
	"github.com/vladislavdragonenkov/stockledger/internal/version"
)

const (
	envGRPCAddr                = "STOCK_GRPC_ADDR"
	envHTTPAddr                = "STOCK_HTTP_ADDR"
	envStorageDriver           = "STOCK_STORAGE_DRIVER"
	envPostgresDSN             = "STOCK_POSTGRES_DSN"
	envPostgresAutoMigrate     = "STOCK_POSTGRES_AUTO_MIGRATE"
	envTxIsolation             = "STOCK_TX_ISOLATION"
	envBatchPolicy             = "STOCK_BATCH_POLICY"
	envLowStockThreshold       = "STOCK_LOW_STOCK_THRESHOLD"
	envEventsBroker            = "STOCK_EVENTS_BROKER"
	envKafkaBrokers            = "STOCK_KAFKA_BROKERS"
	envKafkaEventsTopic        = "STOCK_KAFKA_EVENTS_TOPIC"
	envKafkaPaymentsTopic      = "STOCK_KAFKA_PAYMENTS_TOPIC"
	envKafkaConsumerGroup      = "STOCK_KAFKA_CONSUMER_GROUP"
	envRabbitMQURL             = "STOCK_RABBITMQ_URL"
	envRabbitMQExchange        = "STOCK_RABBITMQ_EXCHANGE"
	envRedisAddr               = "STOCK_REDIS_ADDR"
	envRedisPassword           = "STOCK_REDIS_PASSWORD"
	envRedisDB                 = "STOCK_REDIS_DB"
	envCacheTTL                = "STOCK_CACHE_TTL"
	envOutboxPollInterval      = "STOCK_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize         = "STOCK_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts       = "STOCK_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay        = "STOCK_OUTBOX_RETRY_DELAY"
	envDeliveryTTL             = "STOCK_DELIVERY_TTL"
	envDeliveryCleanupInterval = "STOCK_DELIVERY_CLEANUP_INTERVAL"
	envLogLevel                = "STOCK_LOG_LEVEL"
	envLogFormat               = "STOCK_LOG_FORMAT"
)

type lookupFunc func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup lookupFunc) {
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("unknown log level, using info")
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

// readConfigFromEnv собирает конфигурацию поверх DefaultConfig. Некорректные
// значения не прерывают запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup lookupFunc) (app.Config, []error) {
	cfg := app.DefaultConfig()
	r := envReader{lookup: lookup}

	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.lower(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.lower(envTxIsolation, &cfg.TxIsolation)
	r.lower(envBatchPolicy, &cfg.BatchPolicy)
	r.nonNegativeInt(envLowStockThreshold, &cfg.LowStockThreshold)

	r.lower(envEventsBroker, &cfg.EventsBroker)
	r.list(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaEventsTopic, &cfg.KafkaEventsTopic)
	r.str(envKafkaPaymentsTopic, &cfg.KafkaPaymentsTopic)
	r.str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	r.str(envRabbitMQURL, &cfg.RabbitMQURL)
	r.str(envRabbitMQExchange, &cfg.RabbitMQExchange)

	r.str(envRedisAddr, &cfg.RedisAddr)
	r.str(envRedisPassword, &cfg.RedisPassword)
	r.nonNegativeInt(envRedisDB, &cfg.RedisDB)
	r.positiveDuration(envCacheTTL, &cfg.CacheTTL)

	r.positiveDuration(envOutboxPollInterval, &cfg.OutboxPollInterval)
	r.positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	r.positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	r.nonNegativeDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay)

	r.positiveDuration(envDeliveryTTL, &cfg.DeliveryTTL)
	r.positiveDuration(envDeliveryCleanupInterval, &cfg.DeliveryCleanupInterval)

	return cfg, r.warnings
}

type envReader struct {
	lookup   lookupFunc
	warnings []error
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, fmt.Errorf("%s=%q ignored: %w", key, raw, err))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) lower(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = strings.ToLower(raw)
	}
}

func (r *envReader) list(key string, dst *[]string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		r.warn(key, raw, errors.New("expected boolean"))
	}
}

func (r *envReader) integer(key string, dst *int, min int) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	if n < min {
		r.warn(key, raw, fmt.Errorf("must be >= %d", min))
		return
	}
	*dst = n
}

func (r *envReader) positiveInt(key string, dst *int)    { r.integer(key, dst, 1) }
func (r *envReader) nonNegativeInt(key string, dst *int) { r.integer(key, dst, 0) }

func (r *envReader) duration(key string, dst *time.Duration, allowZero bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	if d < 0 || (d == 0 && !allowZero) {
		r.warn(key, raw, errors.New("duration out of range"))
		return
	}
	*dst = d
}

func (r *envReader) positiveDuration(key string, dst *time.Duration) { r.duration(key, dst, false) }
func (r *envReader) nonNegativeDuration(key string, dst *time.Duration) {
	r.duration(key, dst, true)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithError(w).Warn("invalid environment value")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":     cfg.GRPCAddr,
		"http_addr":     cfg.HTTPAddr,
		"storage":       cfg.StorageDriver,
		"events_broker": cfg.EventsBroker,
		"batch_policy":  cfg.BatchPolicy,
		"version":       version.GetVersion(),
	}).Info("запускаем StockLedger")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("StockLedger остановлен")
}
