package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

// Ledger — in-memory реализация StockLedger для разработки и тестов.
// Транзакции сериализуются общей блокировкой: изменения копятся в буфере
// и применяются только при успешном завершении fn.
type Ledger struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	variants map[string]domain.Variant
	history  []domain.StockHistoryRecord
	applied  map[appliedKey]struct{}
	outbox   *OutboxRepository
	now      func() time.Time
}

type appliedKey struct {
	orderItemID string
	typ         domain.StockChangeType
}

// LedgerOption настраивает Ledger.
type LedgerOption func(*Ledger)

// WithOutbox задаёт репозиторий, куда события транзакции попадают вместе с коммитом.
func WithOutbox(outbox *OutboxRepository) LedgerOption {
	return func(l *Ledger) {
		l.outbox = outbox
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger создаёт пустое in-memory хранилище остатков.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		products: make(map[string]domain.Product),
		variants: make(map[string]domain.Variant),
		applied:  make(map[appliedKey]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetProduct возвращает товар или ErrProductNotFound.
func (l *Ledger) GetProduct(_ context.Context, id string) (domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// GetVariant возвращает вариант или ErrVariantNotFound.
func (l *Ledger) GetVariant(_ context.Context, id string) (domain.Variant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.variants[id]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return v, nil
}

// CreateProduct регистрирует товар без записи в историю.
func (l *Ledger) CreateProduct(ctx context.Context, p domain.Product) error {
	return l.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		return tx.CreateProduct(ctx, p)
	})
}

// CreateVariant регистрирует вариант существующего товара без записи в историю.
func (l *Ledger) CreateVariant(ctx context.Context, v domain.Variant) error {
	return l.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		return tx.CreateVariant(ctx, v)
	})
}

// ListHistory возвращает записи журнала от новых к старым.
func (l *Ledger) ListHistory(_ context.Context, filter domain.HistoryFilter) ([]domain.StockHistoryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.StockHistoryRecord, 0)
	for i := len(l.history) - 1; i >= 0; i-- {
		if !filter.Matches(l.history[i]) {
			continue
		}
		result = append(result, l.history[i])
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// WithinTx выполняет fn атомарно относительно других транзакций.
func (l *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.StockLedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &ledgerTx{
		ledger:      l,
		newProducts: make(map[string]domain.Product),
		newVariants: make(map[string]domain.Variant),
		products:    make(map[string]int),
		variants:    make(map[string]int),
		applied:     make(map[appliedKey]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	l.apply(tx)
	// События пишутся под той же блокировкой: снаружи не видно остатка без события.
	if l.outbox != nil {
		l.outbox.enqueueAll(tx.outbox)
	}
	return nil
}

func (l *Ledger) apply(tx *ledgerTx) {
	now := l.now()
	for id, p := range tx.newProducts {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		l.products[id] = p
	}
	for id, v := range tx.newVariants {
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
		l.variants[id] = v
	}
	for id, stock := range tx.products {
		p := l.products[id]
		p.Stock = stock
		p.UpdatedAt = now
		l.products[id] = p
	}
	for id, stock := range tx.variants {
		v := l.variants[id]
		v.Stock = stock
		v.UpdatedAt = now
		l.variants[id] = v
	}
	l.history = append(l.history, tx.history...)
	for key := range tx.applied {
		l.applied[key] = struct{}{}
	}
}

// Snapshot возвращает копию всех остатков (используется в тестах).
func (l *Ledger) Snapshot() (map[string]int, map[string]int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	products := make(map[string]int, len(l.products))
	for id, p := range l.products {
		products[id] = p.Stock
	}
	variants := make(map[string]int, len(l.variants))
	for id, v := range l.variants {
		variants[id] = v.Stock
	}
	return products, variants
}

// ledgerTx — буфер изменений одной транзакции. Вызывается под l.mu.
type ledgerTx struct {
	ledger      *Ledger
	newProducts map[string]domain.Product
	newVariants map[string]domain.Variant
	products    map[string]int
	variants    map[string]int
	history     []domain.StockHistoryRecord
	applied     map[appliedKey]struct{}
	outbox      []domain.OutboxMessage
}

func (tx *ledgerTx) product(id string) (domain.Product, bool) {
	if p, ok := tx.ledger.products[id]; ok {
		return p, true
	}
	p, ok := tx.newProducts[id]
	return p, ok
}

func (tx *ledgerTx) variant(id string) (domain.Variant, bool) {
	if v, ok := tx.ledger.variants[id]; ok {
		return v, true
	}
	v, ok := tx.newVariants[id]
	return v, ok
}

func (tx *ledgerTx) CreateProduct(_ context.Context, p domain.Product) error {
	if p.ID == "" {
		return domain.ErrProductIDRequired
	}
	if p.Stock < 0 {
		return domain.ErrNegativeStock
	}
	if _, exists := tx.product(p.ID); exists {
		return domain.ErrProductExists
	}
	tx.newProducts[p.ID] = p
	return nil
}

func (tx *ledgerTx) CreateVariant(_ context.Context, v domain.Variant) error {
	if v.ID == "" || v.ProductID == "" {
		return domain.ErrProductIDRequired
	}
	if v.Stock < 0 {
		return domain.ErrNegativeStock
	}
	if _, ok := tx.product(v.ProductID); !ok {
		return domain.ErrProductNotFound
	}
	if _, exists := tx.variant(v.ID); exists {
		return domain.ErrProductExists
	}
	tx.newVariants[v.ID] = v
	return nil
}

func (tx *ledgerTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}
	p, ok := tx.product(id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if stock, staged := tx.products[id]; staged {
		p.Stock = stock
	}
	return p, nil
}

func (tx *ledgerTx) LockVariant(ctx context.Context, id string) (domain.Variant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Variant{}, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}
	v, ok := tx.variant(id)
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	if stock, staged := tx.variants[id]; staged {
		v.Stock = stock
	}
	return v, nil
}

func (tx *ledgerTx) SetProductStock(_ context.Context, id string, stock int) error {
	if _, ok := tx.product(id); !ok {
		return domain.ErrProductNotFound
	}
	if stock < 0 {
		return domain.ErrNegativeStock
	}
	tx.products[id] = stock
	return nil
}

func (tx *ledgerTx) SetVariantStock(_ context.Context, id string, stock int) error {
	if _, ok := tx.variant(id); !ok {
		return domain.ErrVariantNotFound
	}
	if stock < 0 {
		return domain.ErrNegativeStock
	}
	tx.variants[id] = stock
	return nil
}

func (tx *ledgerTx) AppendHistory(_ context.Context, record domain.StockHistoryRecord) (domain.StockHistoryRecord, error) {
	if !record.Consistent() {
		return domain.StockHistoryRecord{}, fmt.Errorf("%w: inconsistent history record", domain.ErrStoreFailure)
	}
	if record.OrderItemID != "" {
		key := appliedKey{orderItemID: record.OrderItemID, typ: record.Type}
		if _, done := tx.ledger.applied[key]; done {
			return domain.StockHistoryRecord{}, domain.ErrStockAlreadyApplied
		}
		if _, done := tx.applied[key]; done {
			return domain.StockHistoryRecord{}, domain.ErrStockAlreadyApplied
		}
		tx.applied[key] = struct{}{}
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = tx.ledger.now()
	}
	tx.history = append(tx.history, record)
	return record, nil
}

func (tx *ledgerTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx.outbox = append(tx.outbox, msg)
	return nil
}

var (
	_ domain.StockLedger   = (*Ledger)(nil)
	_ domain.StockLedgerTx = (*ledgerTx)(nil)
)
