package domain

import "time"

// Product — товар каталога с собственным остатком.
type Product struct {
	ID        string
	Name      string
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant — вариант товара (размер, цвет и т.п.). Остаток варианта ведётся
// независимо от остатка родительского товара и никогда с ним не сверяется.
type Variant struct {
	ID        string
	ProductID string
	Name      string
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockChangeType — закрытый набор типов изменения остатка.
type StockChangeType string

const (
	// StockChangePurchase — списание при оплате заказа.
	StockChangePurchase StockChangeType = "PURCHASE"
	// StockChangeRefund — возврат на склад при возврате заказа.
	StockChangeRefund StockChangeType = "REFUND"
	// StockChangeAdjustment — ручная корректировка администратором.
	StockChangeAdjustment StockChangeType = "ADJUSTMENT"
	// StockChangeRestock — поступление товара.
	StockChangeRestock StockChangeType = "RESTOCK"
	// StockChangeDamage — списание брака.
	StockChangeDamage StockChangeType = "DAMAGE"
)

// Valid проверяет, что тип входит в допустимый набор.
func (t StockChangeType) Valid() bool {
	switch t {
	case StockChangePurchase, StockChangeRefund, StockChangeAdjustment, StockChangeRestock, StockChangeDamage:
		return true
	default:
		return false
	}
}

// StockTarget адресует остаток: товар целиком или конкретный вариант.
type StockTarget struct {
	ProductID string
	VariantID string
}

// HasVariant сообщает, что изменение адресовано варианту, а не товару.
func (t StockTarget) HasVariant() bool {
	return t.VariantID != ""
}

// StockHistoryRecord — неизменяемая запись журнала изменений остатка.
// Инвариант: NewStock == PreviousStock + Quantity.
type StockHistoryRecord struct {
	ID        string
	ProductID string
	VariantID string
	Type      StockChangeType
	// Quantity — знаковая дельта: отрицательная при списании.
	Quantity      int
	PreviousStock int
	NewStock      int
	Reason        string
	OrderID       string
	OrderItemID   string
	UserID        string
	CreatedAt     time.Time
}

// Consistent проверяет арифметику записи.
func (r StockHistoryRecord) Consistent() bool {
	return r.NewStock == r.PreviousStock+r.Quantity && r.NewStock >= 0
}

// HistoryFilter задаёт выборку журнала. Пустые поля не фильтруют.
type HistoryFilter struct {
	ProductID string
	VariantID string
	OrderID   string
	Limit     int
}

// Matches проверяет запись на соответствие фильтру (используется in-memory хранилищем).
func (f HistoryFilter) Matches(r StockHistoryRecord) bool {
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.VariantID != "" && r.VariantID != f.VariantID {
		return false
	}
	if f.OrderID != "" && r.OrderID != f.OrderID {
		return false
	}
	return true
}
