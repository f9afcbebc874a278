package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/postgres"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Брокеры для публикации outbox-событий.
const (
	EventsBrokerNone     = "none"
	EventsBrokerKafka    = "kafka"
	EventsBrokerRabbitMQ = "rabbitmq"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr string
	HTTPAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	TxIsolation         string

	BatchPolicy       string
	LowStockThreshold int

	EventsBroker         string
	KafkaBrokers         []string
	KafkaEventsTopic     string
	KafkaPaymentsTopic   string
	KafkaConsumerGroup   string
	KafkaConsumerRetries int
	RabbitMQURL          string
	RabbitMQExchange     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxAge       time.Duration

	DeliveryTTL             time.Duration
	DeliveryCleanupInterval time.Duration
	DeliveryCleanupBatch    int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                ":50051",
		HTTPAddr:                ":9090",
		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		TxIsolation:             "serializable",
		BatchPolicy:             string(stock.BatchPolicyPartial),
		LowStockThreshold:       5,
		EventsBroker:            EventsBrokerNone,
		KafkaEventsTopic:        "stock.events",
		KafkaPaymentsTopic:      "payments.events",
		KafkaConsumerGroup:      "stockledger",
		KafkaConsumerRetries:    3,
		RabbitMQExchange:        "stockledger.events",
		CacheTTL:                30 * time.Second,
		OutboxPollInterval:      time.Second,
		OutboxBatchSize:         100,
		OutboxMaxAttempts:       3,
		OutboxRetryDelay:        50 * time.Millisecond,
		OutboxMaxAge:            5 * time.Minute,
		DeliveryTTL:             72 * time.Hour,
		DeliveryCleanupInterval: 10 * time.Minute,
		DeliveryCleanupBatch:    500,
		ShutdownTimeout:         defaultShutdownTimeout,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres DSN is required for postgres storage"))
		}
		if _, err := postgres.ParseIsolation(c.TxIsolation); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if _, err := stock.ParseBatchPolicy(c.BatchPolicy); err != nil {
		errs = append(errs, err)
	}

	switch c.EventsBroker {
	case EventsBrokerNone:
	case EventsBrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka brokers are required for kafka events broker"))
		}
	case EventsBrokerRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("rabbitmq URL is required for rabbitmq events broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported events broker %q", c.EventsBroker))
	}

	if c.LowStockThreshold < 0 {
		errs = append(errs, errors.New("low stock threshold must be non-negative"))
	}

	return errors.Join(errs...)
}
