package stock

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
)

const initialStockReason = "initial stock"

// Options задаёт параметры Service.
type Options struct {
	Logger            *log.Entry
	Metrics           *metrics.StockMetrics
	Cache             Cache
	BatchPolicy       BatchPolicy
	LowStockThreshold int
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.StockMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithCache включает кэш остатков.
func WithCache(cache Cache) Option {
	return func(opts *Options) {
		opts.Cache = cache
	}
}

// WithBatchPolicy задаёт политику пакетной обработки заказов.
func WithBatchPolicy(policy BatchPolicy) Option {
	return func(opts *Options) {
		opts.BatchPolicy = policy
	}
}

// WithLowStockThreshold задаёт порог события stock.low.
func WithLowStockThreshold(threshold int) Option {
	return func(opts *Options) {
		opts.LowStockThreshold = threshold
	}
}

// Service — точка входа в подсистему остатков для транспорта и координатора заказов.
type Service struct {
	ledger    domain.StockLedger
	validator *Validator
	mutator   *Mutator
	batch     *BatchProcessor
	cache     Cache
	logger    *log.Entry
	metrics   *metrics.StockMetrics
}

// NewService собирает Validator, Mutator и BatchProcessor поверх одного ledger.
func NewService(ledger domain.StockLedger, options ...Option) *Service {
	opts := Options{BatchPolicy: BatchPolicyPartial}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-service")
	}

	mutator := NewMutator(ledger, opts.Cache, logger.WithField("part", "mutator"), opts.Metrics, opts.LowStockThreshold)
	return &Service{
		ledger:    ledger,
		validator: NewValidator(ledger, logger.WithField("part", "validator"), opts.Metrics),
		mutator:   mutator,
		batch:     NewBatchProcessor(ledger, mutator, opts.BatchPolicy, logger.WithField("part", "batch"), opts.Metrics),
		cache:     opts.Cache,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// BatchPolicy возвращает политику пакетной обработки.
func (s *Service) BatchPolicy() BatchPolicy {
	return s.batch.Policy()
}

// ValidateStockAvailability проверяет позиции без изменения остатков.
func (s *Service) ValidateStockAvailability(ctx context.Context, items []Item) []ValidationResult {
	return s.validator.Validate(ctx, items)
}

// ValidateCartStock возвращает признак валидности корзины и список непрошедших позиций.
func (s *Service) ValidateCartStock(ctx context.Context, items []Item) CartValidation {
	results := s.validator.Validate(ctx, items)
	cart := CartValidation{IsValid: true, InvalidItems: make([]ValidationResult, 0)}
	for _, result := range results {
		if !result.IsValid {
			cart.IsValid = false
			cart.InvalidItems = append(cart.InvalidItems, result)
		}
	}
	return cart
}

// ReduceStockWithHistory уменьшает остаток товара или варианта (variantID может быть пустым).
func (s *Service) ReduceStockWithHistory(ctx context.Context, productID string, quantity int, variantID string, opts MutationOptions) MutationResult {
	return s.mutator.Decrease(ctx, domain.StockTarget{ProductID: productID, VariantID: variantID}, quantity, opts)
}

// IncreaseStockWithHistory увеличивает остаток товара или варианта.
func (s *Service) IncreaseStockWithHistory(ctx context.Context, productID string, quantity int, variantID string, opts MutationOptions) MutationResult {
	return s.mutator.Increase(ctx, domain.StockTarget{ProductID: productID, VariantID: variantID}, quantity, opts)
}

// AdjustStock применяет знаковую дельту: положительная увеличивает остаток, отрицательная уменьшает.
func (s *Service) AdjustStock(ctx context.Context, target domain.StockTarget, delta int, opts MutationOptions) MutationResult {
	switch {
	case delta > 0:
		return s.mutator.Increase(ctx, target, delta, opts)
	case delta < 0:
		return s.mutator.Decrease(ctx, target, -delta, opts)
	default:
		return MutationResult{Err: domain.ErrInvalidQuantity}
	}
}

// ProcessOrderStockChanges применяет изменения по позициям заказа.
func (s *Service) ProcessOrderStockChanges(ctx context.Context, orderID string, items []domain.OrderItem, direction domain.StockChangeType, reason string) BatchResult {
	return s.ProcessOrder(ctx, BatchRequest{
		OrderID:   orderID,
		Items:     items,
		Direction: direction,
		Reason:    reason,
	})
}

// ProcessOrder — вариант ProcessOrderStockChanges с указанием пользователя.
func (s *Service) ProcessOrder(ctx context.Context, req BatchRequest) BatchResult {
	return s.batch.Process(ctx, req)
}

// GetCurrentStock возвращает остаток товара или варианта.
// Вариант, принадлежащий другому товару, считается отсутствующим.
func (s *Service) GetCurrentStock(ctx context.Context, productID, variantID string) (int, error) {
	if productID == "" {
		return 0, domain.ErrProductIDRequired
	}
	target := domain.StockTarget{ProductID: productID, VariantID: variantID}

	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, target)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("stock cache read failed")
		case found:
			s.metrics.RecordCacheLookup("hit")
			return cached, nil
		default:
			s.metrics.RecordCacheLookup("miss")
		}
	}

	stock, err := s.readStock(ctx, target)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, target, stock); err != nil {
			s.logger.WithError(err).Warn("stock cache write failed")
		}
	}
	return stock, nil
}

func (s *Service) readStock(ctx context.Context, target domain.StockTarget) (int, error) {
	if !target.HasVariant() {
		product, err := s.ledger.GetProduct(ctx, target.ProductID)
		if err != nil {
			return 0, err
		}
		return product.Stock, nil
	}

	variant, err := s.ledger.GetVariant(ctx, target.VariantID)
	if err != nil {
		return 0, err
	}
	if variant.ProductID != target.ProductID {
		return 0, domain.ErrVariantNotFound
	}
	return variant.Stock, nil
}

// RegisterProduct создаёт товар. Начальный остаток записывается в историю как RESTOCK
// в той же транзакции, что и сам товар.
func (s *Service) RegisterProduct(ctx context.Context, product domain.Product, userID string) (domain.Product, error) {
	initial := product.Stock
	if initial < 0 {
		return domain.Product{}, domain.ErrNegativeStock
	}
	product.Stock = 0

	target := domain.StockTarget{ProductID: product.ID}
	err := s.mutator.Register(ctx, target, initial, initialStockOptions(userID), func(ctx context.Context, tx domain.StockLedgerTx) error {
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"stock":      initial,
	}).Info("product registered")
	return s.ledger.GetProduct(ctx, product.ID)
}

// RegisterVariant создаёт вариант существующего товара с отдельным остатком.
func (s *Service) RegisterVariant(ctx context.Context, variant domain.Variant, userID string) (domain.Variant, error) {
	initial := variant.Stock
	if initial < 0 {
		return domain.Variant{}, domain.ErrNegativeStock
	}
	variant.Stock = 0

	target := domain.StockTarget{ProductID: variant.ProductID, VariantID: variant.ID}
	err := s.mutator.Register(ctx, target, initial, initialStockOptions(userID), func(ctx context.Context, tx domain.StockLedgerTx) error {
		return tx.CreateVariant(ctx, variant)
	})
	if err != nil {
		return domain.Variant{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": variant.ProductID,
		"variant_id": variant.ID,
		"stock":      initial,
	}).Info("variant registered")
	return s.ledger.GetVariant(ctx, variant.ID)
}

func initialStockOptions(userID string) MutationOptions {
	return MutationOptions{
		Reason: initialStockReason,
		Type:   domain.StockChangeRestock,
		UserID: userID,
	}
}

// ListHistory возвращает журнал изменений от новых записей к старым.
func (s *Service) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.StockHistoryRecord, error) {
	return s.ledger.ListHistory(ctx, filter)
}
