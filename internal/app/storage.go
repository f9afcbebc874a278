package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/postgres"
)

// storage объединяет репозитории одного драйвера.
type storage struct {
	ledger     domain.StockLedger
	orders     domain.OrderRepository
	outbox     domain.OutboxRepository
	timeline   domain.TimelineRepository
	deliveries domain.DeliveryRepository

	ping  func(ctx context.Context) error
	close func() error
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storage, error) {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return initPostgresStorage(ctx, cfg, logger)
	case StorageDriverMemory, "":
		logger.Warn("using in-memory storage, data is lost on restart")
		return newMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryStorage() *storage {
	outbox := memory.NewOutboxRepository()
	return &storage{
		ledger:     memory.NewLedger(memory.WithOutbox(outbox)),
		orders:     memory.NewOrderRepository(),
		outbox:     outbox,
		timeline:   memory.NewTimelineRepository(),
		deliveries: memory.NewDeliveryRepository(),
		ping:       func(context.Context) error { return nil },
		close:      func() error { return nil },
	}
}

func initPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storage, error) {
	isolation, err := postgres.ParseIsolation(cfg.TxIsolation)
	if err != nil {
		return nil, err
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithIsolation(isolation))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres schema is up to date")
	} else {
		pending, err := store.PendingMigrations(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("check postgres migrations: %w", err)
		}
		if len(pending) > 0 {
			logger.WithField("pending", pending).Warn("postgres has pending migrations, run cmd/migrate up")
		}
	}

	logger.WithField("isolation", isolation.String()).Info("postgres storage initialized")

	return &storage{
		ledger:     postgres.NewLedger(store),
		orders:     postgres.NewOrderRepository(store),
		outbox:     postgres.NewOutboxRepository(store),
		timeline:   postgres.NewTimelineRepository(store),
		deliveries: postgres.NewDeliveryRepository(store),
		ping:       store.Ping,
		close:      store.Close,
	}, nil
}
