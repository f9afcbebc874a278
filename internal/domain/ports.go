package domain

import (
	"context"
	"time"
)

// StockLedger — хранилище остатков и журнала их изменений.
// Чтения вне транзакции могут быть устаревшими; гарантии даёт только WithinTx.
type StockLedger interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetVariant возвращает вариант или ErrVariantNotFound.
	GetVariant(ctx context.Context, id string) (Variant, error)
	// CreateProduct регистрирует товар; ErrProductExists при повторе.
	CreateProduct(ctx context.Context, p Product) error
	// CreateVariant регистрирует вариант существующего товара.
	CreateVariant(ctx context.Context, v Variant) error
	// ListHistory возвращает записи журнала от новых к старым.
	ListHistory(ctx context.Context, filter HistoryFilter) ([]StockHistoryRecord, error)
	// WithinTx выполняет fn в одной транзакции: любая ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx StockLedgerTx) error) error
}

// StockLedgerTx — операции, доступные внутри транзакции StockLedger.
type StockLedgerTx interface {
	// CreateProduct регистрирует товар в рамках транзакции.
	CreateProduct(ctx context.Context, p Product) error
	// CreateVariant регистрирует вариант в рамках транзакции.
	CreateVariant(ctx context.Context, v Variant) error
	// LockProduct перечитывает товар с блокировкой строки до конца транзакции.
	LockProduct(ctx context.Context, id string) (Product, error)
	// LockVariant перечитывает вариант с блокировкой строки до конца транзакции.
	LockVariant(ctx context.Context, id string) (Variant, error)
	// SetProductStock записывает новый остаток товара.
	SetProductStock(ctx context.Context, id string, stock int) error
	// SetVariantStock записывает новый остаток варианта.
	SetVariantStock(ctx context.Context, id string, stock int) error
	// AppendHistory добавляет запись журнала. ErrStockAlreadyApplied, если по этой
	// позиции заказа изменение такого типа уже есть.
	AppendHistory(ctx context.Context, record StockHistoryRecord) (StockHistoryRecord, error)
	// EnqueueOutbox сохраняет событие вместе с изменением остатка.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя с опциональным ограничением на количество.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
