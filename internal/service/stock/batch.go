package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
)

// BatchProcessor применяет Mutator ко всем позициям заказа последовательно.
type BatchProcessor struct {
	ledger  domain.StockLedger
	mutator *Mutator
	policy  BatchPolicy
	logger  *log.Entry
	metrics *metrics.StockMetrics
}

// NewBatchProcessor создаёт процессор с заданной политикой (пустая — partial).
func NewBatchProcessor(ledger domain.StockLedger, mutator *Mutator, policy BatchPolicy, logger *log.Entry, m *metrics.StockMetrics) *BatchProcessor {
	if logger == nil {
		logger = log.WithField("component", "stock-batch")
	}
	if policy == "" {
		policy = BatchPolicyPartial
	}
	return &BatchProcessor{
		ledger:  ledger,
		mutator: mutator,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// Policy возвращает действующую политику пакета.
func (b *BatchProcessor) Policy() BatchPolicy {
	return b.policy
}

// Process применяет изменения по всем позициям в порядке запроса.
//
// При политике partial позиции независимы: ошибка позиции 3 не откатывает
// позиции 1–2, а позиции 4–5 всё равно обрабатываются. Повторное применение
// позиции (ErrStockAlreadyApplied) считается успехом с флагом AlreadyApplied.
func (b *BatchProcessor) Process(ctx context.Context, req BatchRequest) BatchResult {
	if req.Direction != domain.StockChangePurchase && req.Direction != domain.StockChangeRefund {
		return BatchResult{Err: domain.ErrDirectionInvalid}
	}

	started := time.Now()
	var result BatchResult
	if b.policy == BatchPolicyAtomic {
		result = b.processAtomic(ctx, req)
	} else {
		result = b.processPartial(ctx, req)
	}

	failed := len(result.Failed())
	b.metrics.RecordBatch(string(req.Direction), time.Since(started), len(result.Results)-failed, failed)

	entry := b.logger.WithFields(log.Fields{
		"order_id":  req.OrderID,
		"direction": req.Direction,
		"policy":    b.policy,
		"items":     len(req.Items),
		"failed":    failed,
	})
	if result.Success {
		entry.Info("order stock batch applied")
	} else {
		entry.WithError(result.Err).Warn("order stock batch finished with failures")
	}
	return result
}

func (b *BatchProcessor) processPartial(ctx context.Context, req BatchRequest) BatchResult {
	results := make([]ItemResult, 0, len(req.Items))
	for _, item := range req.Items {
		opts := itemOptions(req, item)

		var mutation MutationResult
		if req.Direction == domain.StockChangePurchase {
			mutation = b.mutator.Decrease(ctx, item.Target(), item.Quantity, opts)
		} else {
			mutation = b.mutator.Increase(ctx, item.Target(), item.Quantity, opts)
		}

		itemResult := ItemResult{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Success:   mutation.Success,
			NewStock:  mutation.NewStock,
			Err:       mutation.Err,
		}
		if errors.Is(mutation.Err, domain.ErrStockAlreadyApplied) {
			itemResult.Success = true
			itemResult.AlreadyApplied = true
			itemResult.Err = nil
		}

		b.logger.WithFields(log.Fields{
			"order_id":   req.OrderID,
			"item_id":    item.ID,
			"product_id": item.ProductID,
			"variant_id": item.VariantID,
			"success":    itemResult.Success,
		}).Debug("order item stock processed")

		results = append(results, itemResult)
	}
	return aggregate(results)
}

// processAtomic выполняет весь пакет в одной транзакции. Если часть позиций уже
// была применена ранее, пакет откатывается и повторяется по позициям: так
// применённые позиции пропускаются, а остальные доводятся до конца.
func (b *BatchProcessor) processAtomic(ctx context.Context, req BatchRequest) BatchResult {
	results := make([]ItemResult, len(req.Items))
	for i, item := range req.Items {
		results[i] = ItemResult{ItemID: item.ID, ProductID: item.ProductID, VariantID: item.VariantID}
	}

	for i, item := range req.Items {
		if err := validateMutation(item.Target(), item.Quantity, itemOptions(req, item)); err != nil {
			return rolledBack(results, i, err)
		}
	}

	var (
		failedAt = -1
		events   []string
	)
	err := b.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		events = events[:0]
		for i, item := range req.Items {
			delta := item.Quantity
			if req.Direction == domain.StockChangePurchase {
				delta = -delta
			}
			record, enqueued, err := b.mutator.applyInTx(ctx, tx, item.Target(), delta, itemOptions(req, item))
			if err != nil {
				failedAt = i
				return err
			}
			results[i].NewStock = record.NewStock
			events = append(events, enqueued...)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, domain.ErrStockAlreadyApplied) {
			b.logger.WithField("order_id", req.OrderID).Info("atomic batch hit applied items, falling back to per-item processing")
			return b.processPartial(ctx, req)
		}
		if failedAt < 0 {
			// Ошибка коммита: вина не конкретной позиции.
			for i := range results {
				results[i].Err = err
				results[i].NewStock = 0
			}
			return BatchResult{Results: results, Err: err}
		}
		return rolledBack(results, failedAt, err)
	}

	targets := make([]domain.StockTarget, 0, len(req.Items))
	for i, item := range req.Items {
		results[i].Success = true
		targets = append(targets, item.Target())
		b.metrics.RecordMutation(directionOperation(req.Direction), string(req.Direction), metrics.ResultOK)
	}
	b.mutator.recordEvents(events)
	b.mutator.invalidate(ctx, targets...)

	return BatchResult{Success: true, Results: results}
}

func rolledBack(results []ItemResult, failedAt int, cause error) BatchResult {
	for i := range results {
		results[i].Success = false
		results[i].NewStock = 0
		if i == failedAt {
			results[i].Err = cause
		} else {
			results[i].Err = ErrBatchRolledBack
		}
	}
	return BatchResult{Results: results, Err: cause}
}

func aggregate(results []ItemResult) BatchResult {
	var errs []error
	for _, item := range results {
		if !item.Success {
			errs = append(errs, fmt.Errorf("item %s (product %s): %w", item.ItemID, item.ProductID, item.Err))
		}
	}
	return BatchResult{
		Success: len(errs) == 0,
		Results: results,
		Err:     errors.Join(errs...),
	}
}

func itemOptions(req BatchRequest, item domain.OrderItem) MutationOptions {
	return MutationOptions{
		Reason:      req.Reason,
		Type:        req.Direction,
		OrderID:     req.OrderID,
		OrderItemID: item.ID,
		UserID:      req.UserID,
	}
}

func directionOperation(direction domain.StockChangeType) string {
	if direction == domain.StockChangePurchase {
		return operationDecrease
	}
	return operationIncrease
}
