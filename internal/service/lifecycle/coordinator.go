package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
)

const (
	defaultSaveAttempts  = 3
	defaultSaveBaseDelay = 10 * time.Millisecond

	messageAlreadyProcessed = "Order already processed"
)

// StockService — операции подсистемы остатков, нужные координатору.
type StockService interface {
	ValidateCartStock(ctx context.Context, items []stock.Item) stock.CartValidation
	ProcessOrder(ctx context.Context, req stock.BatchRequest) stock.BatchResult
	ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.StockHistoryRecord, error)
}

// Result — итог операции над заказом. При Success=false заполнен Err.
type Result struct {
	Success bool
	Message string
	Order   domain.Order
	// StockChanges — результаты по позициям, если переход затрагивал остатки.
	StockChanges []stock.ItemResult
	Err          error
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт logger координатора.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics задаёт метрики переходов.
func WithMetrics(m *metrics.StockMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithOutbox включает запись событий смены статуса в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(c *Coordinator) {
		c.outbox = outbox
	}
}

// WithTimeline включает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(c *Coordinator) {
		c.timeline = timeline
	}
}

// WithSaveRetry задаёт число попыток сохранения статуса при конфликте версий.
func WithSaveRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.saveAttempts = attempts
		}
		if baseDelay >= 0 {
			c.saveBaseDelay = baseDelay
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator переводит заказы между статусами и применяет связанные изменения остатков.
// Статус сохраняется только после того, как изменение остатков полностью прошло.
type Coordinator struct {
	orders        domain.OrderRepository
	stock         StockService
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	logger        *log.Entry
	metrics       *metrics.StockMetrics
	saveAttempts  int
	saveBaseDelay time.Duration
	now           func() time.Time
}

// NewCoordinator создаёт координатор жизненного цикла заказа.
func NewCoordinator(orders domain.OrderRepository, stockService StockService, opts ...Option) *Coordinator {
	c := &Coordinator{
		orders:        orders,
		stock:         stockService,
		logger:        log.WithField("component", "order-lifecycle"),
		saveAttempts:  defaultSaveAttempts,
		saveBaseDelay: defaultSaveBaseDelay,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder проверяет наличие товаров и создаёт заказ в статусе PENDING.
// Остатки при этом не меняются.
func (c *Coordinator) PlaceOrder(ctx context.Context, userID string, items []domain.OrderItem) Result {
	now := c.now()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		Items:     make([]domain.OrderItem, 0, len(items)),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		order.Items = append(order.Items, item)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		err := errors.Join(errs...)
		return Result{Message: err.Error(), Err: err}
	}

	cart := c.stock.ValidateCartStock(ctx, stock.ItemsFromOrder(order.Items))
	if !cart.IsValid {
		message := cart.Message()
		c.logger.WithFields(log.Fields{
			"user_id": userID,
			"invalid": len(cart.InvalidItems),
		}).Warn("order rejected: insufficient stock")
		return Result{
			Message: "Insufficient stock: " + message,
			Err:     fmt.Errorf("%w: %s", domain.ErrInsufficientStock, message),
		}
	}

	if err := c.orders.Create(ctx, order); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("create order failed")
		return Result{Message: "Failed to create order", Err: err}
	}

	c.appendTimeline(order.ID, domain.TimelineOrderPlaced, "")
	c.metrics.RecordTransition(string(domain.OrderStatusPending), metrics.ResultOK)
	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  userID,
		"items":    len(order.Items),
	}).Info("order placed")

	return Result{Success: true, Message: "Order placed", Order: order}
}

// GetOrder возвращает заказ.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return c.orders.Get(ctx, orderID)
}

// Timeline возвращает журнал событий заказа.
func (c *Coordinator) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if c.timeline == nil {
		return nil, nil
	}
	return c.timeline.List(orderID)
}

// ProcessOrderPayment переводит заказ в PAID со списанием остатков.
func (c *Coordinator) ProcessOrderPayment(ctx context.Context, orderID string) Result {
	return c.HandleOrderStatusChange(ctx, orderID, domain.OrderStatusPaid, "")
}

// ProcessOrderRefund переводит заказ в REFUNDED с возвратом остатков.
func (c *Coordinator) ProcessOrderRefund(ctx context.Context, orderID string) Result {
	return c.HandleOrderStatusChange(ctx, orderID, domain.OrderStatusRefunded, "")
}

// HandleOrderStatusChange выполняет переход заказа в newStatus.
//
// Переход в PAID списывает остатки по всем позициям, переход в REFUNDED возвращает их.
// Если изменение остатков не прошло полностью, статус не меняется и в Result
// возвращаются результаты по позициям. Остальные переходы остатки не затрагивают.
func (c *Coordinator) HandleOrderStatusChange(ctx context.Context, orderID string, newStatus domain.OrderStatus, userID string) Result {
	entry := c.logger.WithFields(log.Fields{
		"order_id": orderID,
		"to":       newStatus,
	})

	if orderID == "" {
		return c.reject(entry, newStatus, Result{Err: domain.ErrOrderIDRequired})
	}

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return c.reject(entry, newStatus, Result{Message: "Order not found", Err: err})
	}
	from := order.Status
	entry = entry.WithField("from", from)

	if err := checkTransition(from, newStatus); err != nil {
		result := Result{Order: order, Err: err, Message: transitionMessage(from, newStatus, err)}
		if errors.Is(err, domain.ErrOrderAlreadyProcessed) && newStatus == domain.OrderStatusPaid {
			c.appendTimeline(order.ID, domain.TimelinePaymentRepeated, string(from))
		}
		return c.reject(entry, newStatus, result)
	}

	if userID == "" {
		userID = order.UserID
	}

	var changes []stock.ItemResult
	if direction, ok := stockDirection(newStatus); ok {
		if direction == domain.StockChangePurchase {
			pending, err := c.unappliedItems(ctx, order, direction)
			if err != nil {
				return c.reject(entry, newStatus, Result{Order: order, Err: err})
			}
			if cart := c.stock.ValidateCartStock(ctx, stock.ItemsFromOrder(pending)); len(pending) > 0 && !cart.IsValid {
				message := cart.Message()
				c.appendTimeline(order.ID, domain.TimelineStockRejected, message)
				return c.reject(entry, newStatus, Result{
					Order:   order,
					Message: "Insufficient stock: " + message,
					Err:     fmt.Errorf("%w: %s", domain.ErrInsufficientStock, message),
				})
			}
		}

		batch := c.stock.ProcessOrder(ctx, stock.BatchRequest{
			OrderID:   order.ID,
			UserID:    userID,
			Items:     order.Items,
			Direction: direction,
			Reason:    stockReason(order.ID, newStatus),
		})
		changes = batch.Results
		if !batch.Success {
			c.appendTimeline(order.ID, domain.TimelineStockPartial, batch.Err.Error())
			return c.reject(entry, newStatus, Result{
				Order:        order,
				Message:      fmt.Sprintf("Stock update failed for %d of %d items", len(batch.Failed()), len(batch.Results)),
				StockChanges: changes,
				Err:          batch.Err,
			})
		}
	}

	saved, err := c.updateStatus(ctx, order, newStatus)
	if err != nil {
		return c.reject(entry, newStatus, Result{
			Order:        order,
			Message:      transitionMessage(from, newStatus, err),
			StockChanges: changes,
			Err:          err,
		})
	}

	c.emitStatusEvent(saved, from)
	c.metrics.RecordTransition(string(newStatus), metrics.ResultOK)
	entry.WithField("stock_items", len(changes)).Info("order status changed")

	return Result{
		Success:      true,
		Message:      fmt.Sprintf("Order status changed from %s to %s", from, newStatus),
		Order:        saved,
		StockChanges: changes,
	}
}

// unappliedItems возвращает позиции, по которым изменение direction ещё не записано
// в историю. После частичного сбоя повтор проверяет остаток только для них.
func (c *Coordinator) unappliedItems(ctx context.Context, order domain.Order, direction domain.StockChangeType) ([]domain.OrderItem, error) {
	history, err := c.stock.ListHistory(ctx, domain.HistoryFilter{OrderID: order.ID})
	if err != nil {
		return nil, fmt.Errorf("load order stock history: %w", err)
	}
	if len(history) == 0 {
		return order.Items, nil
	}

	applied := make(map[string]struct{}, len(history))
	for _, rec := range history {
		if rec.Type == direction && rec.OrderItemID != "" {
			applied[rec.OrderItemID] = struct{}{}
		}
	}
	pending := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if _, done := applied[item.ID]; !done {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (c *Coordinator) reject(entry *log.Entry, to domain.OrderStatus, result Result) Result {
	if result.Message == "" && result.Err != nil {
		result.Message = result.Err.Error()
	}
	if domain.IsStoreFailure(result.Err) {
		c.metrics.RecordTransition(string(to), metrics.ResultError)
		entry.WithError(result.Err).Error("order status change failed")
	} else {
		c.metrics.RecordTransition(string(to), metrics.ResultRejected)
		entry.WithError(result.Err).Warn("order status change rejected")
	}
	return result
}

// updateStatus сохраняет новый статус с повтором при конфликте версий.
// После перечитывания заказа повтор возможен, только если статус не изменился.
func (c *Coordinator) updateStatus(ctx context.Context, order domain.Order, to domain.OrderStatus) (domain.Order, error) {
	from := order.Status

	for attempt := 0; attempt < c.saveAttempts; attempt++ {
		next := order
		next.Status = to
		next.UpdatedAt = c.now()

		err := c.orders.Save(ctx, next)
		if err == nil {
			next.Version = order.Version + 1
			return next, nil
		}
		if !domain.IsVersionConflict(err) {
			return domain.Order{}, err
		}

		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		fresh, err := c.orders.Get(ctx, order.ID)
		if err != nil {
			return domain.Order{}, err
		}
		switch fresh.Status {
		case to:
			return domain.Order{}, domain.ErrOrderAlreadyProcessed
		case from:
		default:
			return domain.Order{}, fmt.Errorf("%w: order moved to %s concurrently", domain.ErrInvalidTransition, fresh.Status)
		}
		order = fresh

		if attempt < c.saveAttempts-1 {
			if err := sleep(ctx, c.saveBaseDelay*time.Duration(1<<uint(attempt))); err != nil {
				return domain.Order{}, err
			}
		}
	}
	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (c *Coordinator) emitStatusEvent(order domain.Order, from domain.OrderStatus) {
	c.appendTimeline(order.ID, domain.TimelineStatusChanged, fmt.Sprintf("%s -> %s", from, order.Status))

	if c.outbox == nil {
		return
	}
	payload, err := json.Marshal(domain.OrderStatusEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		From:       from,
		To:         order.Status,
		Version:    order.Version,
		OccurredAt: order.UpdatedAt,
	})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}
	if _, err := c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventOrderStatusChanged,
		Payload:       payload,
	}); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
		return
	}
	c.metrics.RecordOutboxEvent(domain.EventOrderStatusChanged)
}

func (c *Coordinator) appendTimeline(orderID, eventType, reason string) {
	if c.timeline == nil {
		return
	}
	if err := c.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: c.now(),
	}); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
		return
	}
	c.metrics.RecordTimelineEvent()
}

func transitionMessage(from, to domain.OrderStatus, err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderAlreadyProcessed):
		return messageAlreadyProcessed
	case errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Sprintf("Cannot change order status from %s to %s", from, to)
	case errors.Is(err, domain.ErrStatusInvalid):
		return fmt.Sprintf("Unknown order status %q", to)
	default:
		return err.Error()
	}
}

func stockReason(orderID string, to domain.OrderStatus) string {
	if to == domain.OrderStatusRefunded {
		return "order " + orderID + " refunded"
	}
	return "order " + orderID + " paid"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
