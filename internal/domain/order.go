package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, остатки не затронуты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — оплата подтверждена, остатки списаны.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён до оплаты.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefundRequested — клиент запросил возврат.
	OrderStatusRefundRequested OrderStatus = "REFUND_REQUESTED"
	// OrderStatusRefunded — возврат выполнен, остатки восстановлены.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// Valid проверяет, что статус входит в допустимый набор.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefundRequested, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для защиты от повторного списания по той же позиции.
	ID        string
	ProductID string
	// VariantID пустой, если позиция ссылается на товар без варианта.
	VariantID string
	Quantity  int
}

// Target возвращает адрес остатка, который затрагивает позиция.
func (i OrderItem) Target() StockTarget {
	return StockTarget{ProductID: i.ProductID, VariantID: i.VariantID}
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID        string
	UserID    string
	Status    OrderStatus
	Items     []OrderItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}

	return errs
}
