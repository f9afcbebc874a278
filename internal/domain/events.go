package domain

import "time"

// Типы агрегатов для outbox.
const (
	AggregateProduct = "product"
	AggregateVariant = "variant"
	AggregateOrder   = "order"
)

// Типы событий, которые пишутся в outbox.
const (
	EventStockChanged       = "stock.changed"
	EventStockLow           = "stock.low"
	EventStockDepleted      = "stock.depleted"
	EventOrderStatusChanged = "order.status_changed"
)

// StockEvent — полезная нагрузка событий об остатках.
type StockEvent struct {
	ProductID     string          `json:"product_id"`
	VariantID     string          `json:"variant_id,omitempty"`
	Type          StockChangeType `json:"type"`
	Quantity      int             `json:"quantity"`
	PreviousStock int             `json:"previous_stock"`
	NewStock      int             `json:"new_stock"`
	OrderID       string          `json:"order_id,omitempty"`
	HistoryID     string          `json:"history_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// OrderStatusEvent — полезная нагрузка события смены статуса заказа.
type OrderStatusEvent struct {
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Version    int64       `json:"version"`
	OccurredAt time.Time   `json:"occurred_at"`
}
