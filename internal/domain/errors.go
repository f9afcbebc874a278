package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductIDRequired — не передан идентификатор товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// ErrProductNotFound возвращается, если товар отсутствует в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound возвращается, если вариант отсутствует или принадлежит другому товару.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrProductExists — товар или вариант с таким ID уже создан.
	ErrProductExists = errors.New("product already exists")
	// ErrInvalidQuantity — количество для изменения остатка должно быть больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrNegativeStock — начальный остаток не может быть отрицательным.
	ErrNegativeStock = errors.New("stock must be non-negative")
	// ErrStockTypeInvalid — неизвестный тип изменения остатка.
	ErrStockTypeInvalid = errors.New("stock change type is invalid")
	// ErrReasonRequired — у изменения остатка должна быть причина.
	ErrReasonRequired = errors.New("stock change reason is required")
	// ErrInsufficientStock — остатка не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockAlreadyApplied — изменение по этой позиции заказа уже записано в историю.
	ErrStockAlreadyApplied = errors.New("stock change already applied for order item")
	// ErrDirectionInvalid — направление пакетной обработки должно быть PURCHASE или REFUND.
	ErrDirectionInvalid = errors.New("batch direction must be PURCHASE or REFUND")

	// ErrUserRequired — не передан идентификатор пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrItemsRequired — заказ должен содержать хотя бы одну позицию.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrItemQtyInvalid — количество в позиции заказа должно быть больше нуля.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrOrderIDRequired — не передан идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyProcessed — повторная попытка оплаты уже обработанного заказа.
	ErrOrderAlreadyProcessed = errors.New("order already processed")
	// ErrInvalidTransition — переход статуса не разрешён.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrStatusInvalid — неизвестный статус заказа.
	ErrStatusInvalid = errors.New("order status is invalid")

	// ErrStoreFailure — инфраструктурная ошибка хранилища.
	ErrStoreFailure = errors.New("stock store failure")
	// ErrStoreConflict — транзакция не сериализуется с параллельной, можно повторить.
	ErrStoreConflict = errors.New("stock store serialization conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError описывает нехватку остатка для конкретного товара или варианта.
type InsufficientStockError struct {
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// Is позволяет сравнивать ошибку с ErrInsufficientStock через errors.Is.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsStoreFailure сообщает, что ошибка инфраструктурная и вызывающая сторона может повторить операцию.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreFailure) || errors.Is(err, ErrStoreConflict)
}

// IsBusinessRejection сообщает, что операция отклонена по бизнес-правилам и повтор не поможет.
func IsBusinessRejection(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrVariantNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderAlreadyProcessed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrStockAlreadyApplied),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrStockTypeInvalid),
		errors.Is(err, ErrReasonRequired):
		return true
	default:
		return false
	}
}
