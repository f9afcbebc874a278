package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

// Item — запрошенное количество товара или варианта (позиция корзины).
type Item struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Target возвращает адрес остатка позиции.
func (i Item) Target() domain.StockTarget {
	return domain.StockTarget{ProductID: i.ProductID, VariantID: i.VariantID}
}

// ItemsFromOrder переводит позиции заказа в позиции для проверки.
func ItemsFromOrder(items []domain.OrderItem) []Item {
	result := make([]Item, 0, len(items))
	for _, item := range items {
		result = append(result, Item{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return result
}

// ValidationResult — результат проверки одной позиции.
type ValidationResult struct {
	ProductID         string
	VariantID         string
	IsValid           bool
	AvailableStock    int
	RequestedQuantity int
	ProductName       string
	VariantName       string
}

// DisplayName возвращает имя для сообщений пользователю.
func (r ValidationResult) DisplayName() string {
	if r.VariantName != "" {
		return r.ProductName + " (" + r.VariantName + ")"
	}
	return r.ProductName
}

// Message формирует текст вида "X: requested 10, available 3".
func (r ValidationResult) Message() string {
	return fmt.Sprintf("%s: requested %d, available %d", r.DisplayName(), r.RequestedQuantity, r.AvailableStock)
}

// CartValidation — агрегированный результат проверки корзины.
type CartValidation struct {
	IsValid      bool
	InvalidItems []ValidationResult
}

// Message объединяет сообщения по всем непрошедшим позициям.
func (c CartValidation) Message() string {
	parts := make([]string, 0, len(c.InvalidItems))
	for _, item := range c.InvalidItems {
		parts = append(parts, item.Message())
	}
	return strings.Join(parts, "; ")
}

// MutationOptions — метаданные изменения остатка. Reason и Type обязательны.
type MutationOptions struct {
	Reason      string
	Type        domain.StockChangeType
	OrderID     string
	OrderItemID string
	UserID      string
}

func (o MutationOptions) validate() error {
	if !o.Type.Valid() {
		return domain.ErrStockTypeInvalid
	}
	if strings.TrimSpace(o.Reason) == "" {
		return domain.ErrReasonRequired
	}
	return nil
}

// MutationResult — итог одного изменения остатка. При Success=false заполнен Err.
type MutationResult struct {
	Success       bool
	NewStock      int
	PreviousStock int
	History       domain.StockHistoryRecord
	Err           error
}

// ItemResult — итог обработки одной позиции заказа в пакете.
type ItemResult struct {
	ItemID    string
	ProductID string
	VariantID string
	Success   bool
	// AlreadyApplied — изменение по позиции уже было записано ранее, повторно не применялось.
	AlreadyApplied bool
	NewStock       int
	Err            error
}

// BatchRequest описывает пакетное изменение остатков по заказу.
type BatchRequest struct {
	OrderID   string
	UserID    string
	Items     []domain.OrderItem
	Direction domain.StockChangeType
	Reason    string
}

// BatchResult — итог пакетной обработки. Success только если успешна каждая позиция.
type BatchResult struct {
	Success bool
	Results []ItemResult
	// Err — ошибка уровня пакета (неверное направление) или объединение ошибок позиций.
	Err error
}

// Failed возвращает позиции, завершившиеся ошибкой.
func (r BatchResult) Failed() []ItemResult {
	failed := make([]ItemResult, 0)
	for _, item := range r.Results {
		if !item.Success {
			failed = append(failed, item)
		}
	}
	return failed
}

// BatchPolicy определяет поведение пакета при ошибке одной из позиций.
type BatchPolicy string

const (
	// BatchPolicyPartial — каждая позиция в своей транзакции, успешные не откатываются.
	BatchPolicyPartial BatchPolicy = "partial"
	// BatchPolicyAtomic — все позиции в одной транзакции: либо все, либо ничего.
	BatchPolicyAtomic BatchPolicy = "atomic"
)

// ParseBatchPolicy разбирает значение из конфигурации.
func ParseBatchPolicy(value string) (BatchPolicy, error) {
	switch BatchPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", BatchPolicyPartial:
		return BatchPolicyPartial, nil
	case BatchPolicyAtomic:
		return BatchPolicyAtomic, nil
	default:
		return "", fmt.Errorf("unsupported batch policy %q", value)
	}
}

// ErrBatchRolledBack — позиция откатилась вместе с атомарным пакетом из-за ошибки другой позиции.
var ErrBatchRolledBack = errors.New("stock batch rolled back")

// Cache — кэш текущих остатков для чтений вне транзакций.
type Cache interface {
	// Get возвращает остаток; found=false при промахе.
	Get(ctx context.Context, target domain.StockTarget) (stock int, found bool, err error)
	Set(ctx context.Context, target domain.StockTarget, stock int) error
	Delete(ctx context.Context, targets ...domain.StockTarget) error
}
