package stock

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
)

// Имена, которые возвращаются для отсутствующих товаров и вариантов.
const (
	ProductNotFoundName = "Product not found"
	VariantNotFoundName = "Variant not found"
)

// Validator проверяет доступность остатков без изменений в хранилище.
// Результат — снимок на момент чтения: гарантию даёт только Mutator.
type Validator struct {
	ledger  domain.StockLedger
	logger  *log.Entry
	metrics *metrics.StockMetrics
}

// NewValidator создаёт Validator поверх ledger.
func NewValidator(ledger domain.StockLedger, logger *log.Entry, m *metrics.StockMetrics) *Validator {
	if logger == nil {
		logger = log.WithField("component", "stock-validator")
	}
	return &Validator{ledger: ledger, logger: logger, metrics: m}
}

// Validate возвращает по одному результату на позицию в исходном порядке.
// Отсутствующий товар или вариант даёт IsValid=false и AvailableStock=0, а не ошибку.
func (v *Validator) Validate(ctx context.Context, items []Item) []ValidationResult {
	results := make([]ValidationResult, 0, len(items))
	invalid := 0
	for _, item := range items {
		result := v.validateItem(ctx, item)
		if !result.IsValid {
			invalid++
		}
		results = append(results, result)
	}

	v.metrics.RecordValidation(len(results)-invalid, invalid)
	return results
}

func (v *Validator) validateItem(ctx context.Context, item Item) ValidationResult {
	result := ValidationResult{
		ProductID:         item.ProductID,
		VariantID:         item.VariantID,
		RequestedQuantity: item.Quantity,
	}

	product, err := v.ledger.GetProduct(ctx, item.ProductID)
	if err != nil {
		if !errors.Is(err, domain.ErrProductNotFound) {
			v.logger.WithError(err).WithField("product_id", item.ProductID).Warn("stock validation read failed")
		}
		result.ProductName = ProductNotFoundName
		if item.VariantID != "" {
			result.VariantName = VariantNotFoundName
		}
		return result
	}
	result.ProductName = product.Name

	available := product.Stock
	if item.VariantID != "" {
		variant, err := v.ledger.GetVariant(ctx, item.VariantID)
		if err != nil || variant.ProductID != item.ProductID {
			if err != nil && !errors.Is(err, domain.ErrVariantNotFound) {
				v.logger.WithError(err).WithField("variant_id", item.VariantID).Warn("stock validation read failed")
			}
			result.VariantName = VariantNotFoundName
			return result
		}
		result.VariantName = variant.Name
		available = variant.Stock
	}

	result.AvailableStock = available
	// Нулевое или отрицательное количество не пройдёт списание, поэтому и здесь не валидно.
	result.IsValid = item.Quantity > 0 && available >= item.Quantity
	return result
}
