package domain

import "time"

// Типы событий журнала заказа.
const (
	TimelineOrderPlaced     = "order_placed"
	TimelineStatusChanged   = "status_changed"
	TimelineStockRejected   = "stock_rejected"
	TimelineStockPartial    = "stock_partial_failure"
	TimelinePaymentRepeated = "payment_repeated"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
