package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
)

const (
	operationDecrease = "decrease"
	operationIncrease = "increase"

	// DefaultLowStockThreshold совпадает с верхней границей статуса low_stock.
	DefaultLowStockThreshold = lowStockMax
)

// Mutator атомарно меняет остаток одной цели и пишет запись истории.
type Mutator struct {
	ledger            domain.StockLedger
	cache             Cache
	logger            *log.Entry
	metrics           *metrics.StockMetrics
	lowStockThreshold int
}

// NewMutator создаёт Mutator. cache и m могут быть nil.
func NewMutator(ledger domain.StockLedger, cache Cache, logger *log.Entry, m *metrics.StockMetrics, lowStockThreshold int) *Mutator {
	if logger == nil {
		logger = log.WithField("component", "stock-mutator")
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Mutator{
		ledger:            ledger,
		cache:             cache,
		logger:            logger,
		metrics:           m,
		lowStockThreshold: lowStockThreshold,
	}
}

// Decrease уменьшает остаток на quantity. Остаток никогда не уходит в минус:
// при нехватке транзакция откатывается и возвращается InsufficientStockError.
func (m *Mutator) Decrease(ctx context.Context, target domain.StockTarget, quantity int, opts MutationOptions) MutationResult {
	return m.mutate(ctx, operationDecrease, target, quantity, opts)
}

// Increase увеличивает остаток на quantity.
func (m *Mutator) Increase(ctx context.Context, target domain.StockTarget, quantity int, opts MutationOptions) MutationResult {
	return m.mutate(ctx, operationIncrease, target, quantity, opts)
}

func (m *Mutator) mutate(ctx context.Context, operation string, target domain.StockTarget, quantity int, opts MutationOptions) MutationResult {
	entry := m.logger.WithFields(log.Fields{
		"operation":  operation,
		"product_id": target.ProductID,
		"variant_id": target.VariantID,
		"quantity":   quantity,
		"type":       opts.Type,
		"order_id":   opts.OrderID,
	})

	if err := validateMutation(target, quantity, opts); err != nil {
		m.metrics.RecordMutation(operation, string(opts.Type), metrics.ResultRejected)
		entry.WithError(err).Warn("stock mutation rejected")
		return MutationResult{Err: err}
	}

	delta := quantity
	if operation == operationDecrease {
		delta = -quantity
	}

	var (
		record domain.StockHistoryRecord
		events []string
	)
	err := m.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		applied, enqueued, err := m.applyInTx(ctx, tx, target, delta, opts)
		if err != nil {
			return err
		}
		record, events = applied, enqueued
		return nil
	})
	if err != nil {
		m.recordFailure(entry, operation, opts.Type, err)
		return MutationResult{Err: err}
	}

	m.metrics.RecordMutation(operation, string(opts.Type), metrics.ResultOK)
	m.recordEvents(events)
	m.invalidate(ctx, target)
	entry.WithFields(log.Fields{
		"previous_stock": record.PreviousStock,
		"new_stock":      record.NewStock,
	}).Debug("stock mutation committed")

	return MutationResult{
		Success:       true,
		NewStock:      record.NewStock,
		PreviousStock: record.PreviousStock,
		History:       record,
	}
}

// Register создаёт цель через create и, если initial > 0, записывает начальный
// остаток в той же транзакции. Ошибка на любом шаге не оставляет ни цели, ни истории.
func (m *Mutator) Register(ctx context.Context, target domain.StockTarget, initial int, opts MutationOptions, create func(ctx context.Context, tx domain.StockLedgerTx) error) error {
	entry := m.logger.WithFields(log.Fields{
		"operation":  operationIncrease,
		"product_id": target.ProductID,
		"variant_id": target.VariantID,
		"quantity":   initial,
		"type":       opts.Type,
	})
	if initial > 0 {
		if err := validateMutation(target, initial, opts); err != nil {
			return err
		}
	}

	var events []string
	err := m.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		if err := create(ctx, tx); err != nil {
			return err
		}
		if initial == 0 {
			return nil
		}
		_, enqueued, err := m.applyInTx(ctx, tx, target, initial, opts)
		if err != nil {
			return fmt.Errorf("record initial stock: %w", err)
		}
		events = enqueued
		return nil
	})
	if err != nil {
		if domain.IsStoreFailure(err) {
			entry.WithError(err).Error("stock target registration failed")
		}
		return err
	}

	if initial > 0 {
		m.metrics.RecordMutation(operationIncrease, string(opts.Type), metrics.ResultOK)
	}
	m.recordEvents(events)
	m.invalidate(ctx, target)
	return nil
}

func (m *Mutator) recordFailure(entry *log.Entry, operation string, changeType domain.StockChangeType, err error) {
	switch {
	case domain.IsStoreFailure(err):
		m.metrics.RecordMutation(operation, string(changeType), metrics.ResultError)
		entry.WithError(err).Error("stock mutation failed")
	default:
		if errors.Is(err, domain.ErrInsufficientStock) {
			m.metrics.RecordInsufficientStock()
		}
		m.metrics.RecordMutation(operation, string(changeType), metrics.ResultRejected)
		entry.WithError(err).Warn("stock mutation rejected")
	}
}

// applyInTx выполняет шаги изменения внутри уже открытой транзакции:
// перечитывает остаток под блокировкой, проверяет, пишет остаток, историю и события.
// Возвращает запись истории и типы событий, записанных в outbox.
func (m *Mutator) applyInTx(ctx context.Context, tx domain.StockLedgerTx, target domain.StockTarget, delta int, opts MutationOptions) (domain.StockHistoryRecord, []string, error) {
	current, name, err := lockTarget(ctx, tx, target)
	if err != nil {
		return domain.StockHistoryRecord{}, nil, err
	}

	if delta < 0 && current < -delta {
		return domain.StockHistoryRecord{}, nil, fmt.Errorf("insufficient stock: %w", &domain.InsufficientStockError{
			Name:      name,
			Requested: -delta,
			Available: current,
		})
	}

	newStock := current + delta
	if target.HasVariant() {
		err = tx.SetVariantStock(ctx, target.VariantID, newStock)
	} else {
		err = tx.SetProductStock(ctx, target.ProductID, newStock)
	}
	if err != nil {
		return domain.StockHistoryRecord{}, nil, err
	}

	record, err := tx.AppendHistory(ctx, domain.StockHistoryRecord{
		ProductID:     target.ProductID,
		VariantID:     target.VariantID,
		Type:          opts.Type,
		Quantity:      delta,
		PreviousStock: current,
		NewStock:      newStock,
		Reason:        opts.Reason,
		OrderID:       opts.OrderID,
		OrderItemID:   opts.OrderItemID,
		UserID:        opts.UserID,
	})
	if err != nil {
		return domain.StockHistoryRecord{}, nil, err
	}

	messages := m.stockEvents(record)
	events := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return domain.StockHistoryRecord{}, nil, err
		}
		events = append(events, msg.EventType)
	}

	return record, events, nil
}

func lockTarget(ctx context.Context, tx domain.StockLedgerTx, target domain.StockTarget) (int, string, error) {
	if !target.HasVariant() {
		product, err := tx.LockProduct(ctx, target.ProductID)
		if err != nil {
			return 0, "", err
		}
		return product.Stock, product.Name, nil
	}

	variant, err := tx.LockVariant(ctx, target.VariantID)
	if err != nil {
		return 0, "", err
	}
	if variant.ProductID != target.ProductID {
		return 0, "", domain.ErrVariantNotFound
	}
	return variant.Stock, variant.Name, nil
}

// stockEvents формирует события outbox для записи истории.
func (m *Mutator) stockEvents(record domain.StockHistoryRecord) []domain.OutboxMessage {
	aggregateType, aggregateID := domain.AggregateProduct, record.ProductID
	if record.VariantID != "" {
		aggregateType, aggregateID = domain.AggregateVariant, record.VariantID
	}

	payload, err := json.Marshal(domain.StockEvent{
		ProductID:     record.ProductID,
		VariantID:     record.VariantID,
		Type:          record.Type,
		Quantity:      record.Quantity,
		PreviousStock: record.PreviousStock,
		NewStock:      record.NewStock,
		OrderID:       record.OrderID,
		HistoryID:     record.ID,
		OccurredAt:    record.CreatedAt,
	})
	if err != nil {
		m.logger.WithError(err).WithField("history_id", record.ID).Error("marshal stock event failed")
		return nil
	}

	eventTypes := []string{domain.EventStockChanged}
	switch {
	case record.NewStock == 0 && record.PreviousStock > 0:
		eventTypes = append(eventTypes, domain.EventStockDepleted)
	case record.NewStock > 0 && record.NewStock <= m.lowStockThreshold && record.PreviousStock > m.lowStockThreshold:
		eventTypes = append(eventTypes, domain.EventStockLow)
	}

	messages := make([]domain.OutboxMessage, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		messages = append(messages, domain.OutboxMessage{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Payload:       payload,
		})
	}
	return messages
}

func (m *Mutator) recordEvents(events []string) {
	for _, eventType := range events {
		m.metrics.RecordOutboxEvent(eventType)
	}
}

func (m *Mutator) invalidate(ctx context.Context, targets ...domain.StockTarget) {
	if m.cache == nil || len(targets) == 0 {
		return
	}
	if err := m.cache.Delete(ctx, targets...); err != nil {
		m.logger.WithError(err).Warn("stock cache invalidation failed")
	}
}

func validateMutation(target domain.StockTarget, quantity int, opts MutationOptions) error {
	if target.ProductID == "" {
		return domain.ErrProductIDRequired
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	return opts.validate()
}
