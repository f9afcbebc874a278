package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
)

// StockItem — позиция для проверки остатков.
type StockItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type ValidateStockRequest struct {
	Items []StockItem `json:"items"`
}

type ItemValidation struct {
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	IsValid           bool   `json:"is_valid"`
	AvailableStock    int    `json:"available_stock"`
	RequestedQuantity int    `json:"requested_quantity"`
	ProductName       string `json:"product_name,omitempty"`
	VariantName       string `json:"variant_name,omitempty"`
}

type ValidateStockResponse struct {
	Results []ItemValidation `json:"results"`
}

type ValidateCartResponse struct {
	IsValid      bool             `json:"is_valid"`
	Message      string           `json:"message,omitempty"`
	InvalidItems []ItemValidation `json:"invalid_items"`
}

type GetStockRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
}

type GetStockResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Stock     int    `json:"stock"`
}

// AdjustStockRequest — ручное изменение остатка на знаковую дельту.
type AdjustStockRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Delta     int    `json:"delta"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	UserID    string `json:"user_id,omitempty"`
}

type AdjustStockResponse struct {
	PreviousStock int           `json:"previous_stock"`
	NewStock      int           `json:"new_stock"`
	History       HistoryRecord `json:"history"`
}

type RegisterProductRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Stock  int    `json:"stock"`
	UserID string `json:"user_id,omitempty"`
}

type RegisterVariantRequest struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	UserID    string `json:"user_id,omitempty"`
}

type ProductResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

type OrderItem struct {
	ID        string `json:"id,omitempty"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	UserID string      `json:"user_id"`
	Items  []OrderItem `json:"items"`
}

type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    string      `json:"status"`
	Items     []OrderItem `json:"items"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	Order    Order           `json:"order"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

type ChangeOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	UserID  string `json:"user_id,omitempty"`
}

type StockChange struct {
	ItemID         string `json:"item_id"`
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	Success        bool   `json:"success"`
	AlreadyApplied bool   `json:"already_applied,omitempty"`
	NewStock       int    `json:"new_stock"`
	Error          string `json:"error,omitempty"`
}

type TransitionResponse struct {
	Message      string        `json:"message"`
	Order        Order         `json:"order"`
	StockChanges []StockChange `json:"stock_changes,omitempty"`
}

type ListStockHistoryRequest struct {
	ProductID string `json:"product_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type HistoryRecord struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	VariantID     string    `json:"variant_id,omitempty"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	Reason        string    `json:"reason"`
	OrderID       string    `json:"order_id,omitempty"`
	OrderItemID   string    `json:"order_item_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ListStockHistoryResponse struct {
	Records []HistoryRecord `json:"records"`
}

func toStockItems(items []StockItem) []stock.Item {
	result := make([]stock.Item, 0, len(items))
	for _, item := range items {
		result = append(result, stock.Item{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return result
}

func toItemValidations(results []stock.ValidationResult) []ItemValidation {
	out := make([]ItemValidation, 0, len(results))
	for _, r := range results {
		out = append(out, ItemValidation{
			ProductID:         r.ProductID,
			VariantID:         r.VariantID,
			IsValid:           r.IsValid,
			AvailableStock:    r.AvailableStock,
			RequestedQuantity: r.RequestedQuantity,
			ProductName:       r.ProductName,
			VariantName:       r.VariantName,
		})
	}
	return out
}

func toDomainItems(items []OrderItem) []domain.OrderItem {
	result := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		result = append(result, domain.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return result
}

func toOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return Order{
		ID:        order.ID,
		UserID:    order.UserID,
		Status:    string(order.Status),
		Items:     items,
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

func toTimeline(events []domain.TimelineEvent) []TimelineEvent {
	out := make([]TimelineEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, TimelineEvent{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	return out
}

func toStockChanges(results []stock.ItemResult) []StockChange {
	out := make([]StockChange, 0, len(results))
	for _, r := range results {
		change := StockChange{
			ItemID:         r.ItemID,
			ProductID:      r.ProductID,
			VariantID:      r.VariantID,
			Success:        r.Success,
			AlreadyApplied: r.AlreadyApplied,
			NewStock:       r.NewStock,
		}
		if r.Err != nil {
			change.Error = r.Err.Error()
		}
		out = append(out, change)
	}
	return out
}

func toHistoryRecord(rec domain.StockHistoryRecord) HistoryRecord {
	return HistoryRecord{
		ID:            rec.ID,
		ProductID:     rec.ProductID,
		VariantID:     rec.VariantID,
		Type:          string(rec.Type),
		Quantity:      rec.Quantity,
		PreviousStock: rec.PreviousStock,
		NewStock:      rec.NewStock,
		Reason:        rec.Reason,
		OrderID:       rec.OrderID,
		OrderItemID:   rec.OrderItemID,
		UserID:        rec.UserID,
		CreatedAt:     rec.CreatedAt,
	}
}
