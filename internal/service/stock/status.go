package stock

import "fmt"

// Пороги статусов остатка.
const (
	lowStockMax     = 5
	limitedStockMax = 10
)

// Значения StockStatus.Status.
const (
	StatusOutOfStock   = "out_of_stock"
	StatusLowStock     = "low_stock"
	StatusLimitedStock = "limited_stock"
	StatusInStock      = "in_stock"
)

// StockStatus — отображаемый статус остатка.
type StockStatus struct {
	Status      string `json:"status"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	CanPurchase bool   `json:"can_purchase"`
}

// GetStockStatus возвращает статус по фиксированным порогам:
// 0 — нет в наличии, 1–5 — мало, 6–10 — ограниченно, больше 10 — в наличии.
func GetStockStatus(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockStatus{Status: StatusOutOfStock, Label: "Out of Stock", Color: "red", CanPurchase: false}
	case stock <= lowStockMax:
		return StockStatus{Status: StatusLowStock, Label: fmt.Sprintf("Only %d left", stock), Color: "orange", CanPurchase: true}
	case stock <= limitedStockMax:
		return StockStatus{Status: StatusLimitedStock, Label: "Limited Stock", Color: "yellow", CanPurchase: true}
	default:
		return StockStatus{Status: StatusInStock, Label: "In Stock", Color: "green", CanPurchase: true}
	}
}
