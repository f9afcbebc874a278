package grpcsvc

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// StockBackend — операции над остатками, доступные через API.
type StockBackend interface {
	ValidateStockAvailability(ctx context.Context, items []stock.Item) []stock.ValidationResult
	ValidateCartStock(ctx context.Context, items []stock.Item) stock.CartValidation
	GetCurrentStock(ctx context.Context, productID, variantID string) (int, error)
	AdjustStock(ctx context.Context, target domain.StockTarget, delta int, opts stock.MutationOptions) stock.MutationResult
	RegisterProduct(ctx context.Context, product domain.Product, userID string) (domain.Product, error)
	RegisterVariant(ctx context.Context, variant domain.Variant, userID string) (domain.Variant, error)
	ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.StockHistoryRecord, error)
}

// OrderBackend — операции жизненного цикла заказа.
type OrderBackend interface {
	PlaceOrder(ctx context.Context, userID string, items []domain.OrderItem) lifecycle.Result
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	Timeline(orderID string) ([]domain.TimelineEvent, error)
	ProcessOrderPayment(ctx context.Context, orderID string) lifecycle.Result
	ProcessOrderRefund(ctx context.Context, orderID string) lifecycle.Result
	HandleOrderStatusChange(ctx context.Context, orderID string, newStatus domain.OrderStatus, userID string) lifecycle.Result
}

// StockServer реализует StockServiceServer поверх сервиса остатков и координатора заказов.
type StockServer struct {
	stock      StockBackend
	orders     OrderBackend
	deliveries domain.DeliveryRepository
	logger     *log.Entry
	now        func() time.Time
}

// NewStockServer конструирует сервер. deliveries может быть nil, тогда
// метаданные idempotency-key игнорируются.
func NewStockServer(stockBackend StockBackend, orders OrderBackend, deliveries domain.DeliveryRepository, logger *log.Entry) *StockServer {
	if logger == nil {
		logger = log.WithField("component", "grpc-stock-service")
	}
	return &StockServer{
		stock:      stockBackend,
		orders:     orders,
		deliveries: deliveries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *StockServer) ValidateStock(ctx context.Context, req *ValidateStockRequest) (*ValidateStockResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "items are required")
	}
	results := s.stock.ValidateStockAvailability(ctx, toStockItems(req.Items))
	return &ValidateStockResponse{Results: toItemValidations(results)}, nil
}

func (s *StockServer) ValidateCart(ctx context.Context, req *ValidateStockRequest) (*ValidateCartResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "items are required")
	}
	cart := s.stock.ValidateCartStock(ctx, toStockItems(req.Items))
	return &ValidateCartResponse{
		IsValid:      cart.IsValid,
		Message:      cart.Message(),
		InvalidItems: toItemValidations(cart.InvalidItems),
	}, nil
}

func (s *StockServer) GetStock(ctx context.Context, req *GetStockRequest) (*GetStockResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	current, err := s.stock.GetCurrentStock(ctx, req.ProductID, req.VariantID)
	if err != nil {
		return nil, s.fail("GetStock", err, "")
	}
	return &GetStockResponse{ProductID: req.ProductID, VariantID: req.VariantID, Stock: current}, nil
}

// AdjustStock изменяет остаток вручную. Тип по умолчанию ADJUSTMENT.
func (s *StockServer) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*AdjustStockResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, "AdjustStock", req, func(ctx context.Context) (*AdjustStockResponse, error) {
		changeType := domain.StockChangeAdjustment
		if req.Type != "" {
			changeType = domain.StockChangeType(strings.ToUpper(strings.TrimSpace(req.Type)))
		}

		result := s.stock.AdjustStock(ctx, domain.StockTarget{ProductID: req.ProductID, VariantID: req.VariantID}, req.Delta, stock.MutationOptions{
			Reason: req.Reason,
			Type:   changeType,
			UserID: req.UserID,
		})
		if !result.Success {
			return nil, s.fail("AdjustStock", result.Err, "")
		}
		return &AdjustStockResponse{
			PreviousStock: result.PreviousStock,
			NewStock:      result.NewStock,
			History:       toHistoryRecord(result.History),
		}, nil
	})
}

func (s *StockServer) RegisterProduct(ctx context.Context, req *RegisterProductRequest) (*ProductResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	product, err := s.stock.RegisterProduct(ctx, domain.Product{ID: req.ID, Name: req.Name, Stock: req.Stock}, req.UserID)
	if err != nil {
		return nil, s.fail("RegisterProduct", err, "")
	}
	return &ProductResponse{ID: product.ID, Name: product.Name, Stock: product.Stock}, nil
}

func (s *StockServer) RegisterVariant(ctx context.Context, req *RegisterVariantRequest) (*ProductResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	variant, err := s.stock.RegisterVariant(ctx, domain.Variant{
		ID:        req.ID,
		ProductID: req.ProductID,
		Name:      req.Name,
		Stock:     req.Stock,
	}, req.UserID)
	if err != nil {
		return nil, s.fail("RegisterVariant", err, "")
	}
	return &ProductResponse{ID: variant.ID, ProductID: variant.ProductID, Name: variant.Name, Stock: variant.Stock}, nil
}

// ListStockHistory возвращает журнал от новых записей к старым.
func (s *StockServer) ListStockHistory(ctx context.Context, req *ListStockHistoryRequest) (*ListStockHistoryResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	records, err := s.stock.ListHistory(ctx, domain.HistoryFilter{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		OrderID:   req.OrderID,
		Limit:     limit,
	})
	if err != nil {
		return nil, s.fail("ListStockHistory", err, "")
	}

	resp := &ListStockHistoryResponse{Records: make([]HistoryRecord, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, toHistoryRecord(rec))
	}
	return resp, nil
}

// PlaceOrder создаёт заказ в статусе PENDING после проверки остатков.
func (s *StockServer) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, "PlaceOrder", req, func(ctx context.Context) (*OrderResponse, error) {
		result := s.orders.PlaceOrder(ctx, req.UserID, toDomainItems(req.Items))
		if !result.Success {
			return nil, s.fail("PlaceOrder", result.Err, result.Message)
		}
		return &OrderResponse{Order: toOrder(result.Order), Timeline: s.timeline(result.Order.ID)}, nil
	})
}

func (s *StockServer) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.fail("GetOrder", err, "")
	}
	return &OrderResponse{Order: toOrder(order), Timeline: s.timeline(order.ID)}, nil
}

func (s *StockServer) ProcessOrderPayment(ctx context.Context, req *OrderRequest) (*TransitionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return s.transition("ProcessOrderPayment", s.orders.ProcessOrderPayment(ctx, req.OrderID))
}

func (s *StockServer) ProcessOrderRefund(ctx context.Context, req *OrderRequest) (*TransitionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return s.transition("ProcessOrderRefund", s.orders.ProcessOrderRefund(ctx, req.OrderID))
}

func (s *StockServer) ChangeOrderStatus(ctx context.Context, req *ChangeOrderStatusRequest) (*TransitionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	return s.transition("ChangeOrderStatus", s.orders.HandleOrderStatusChange(ctx, req.OrderID, target, req.UserID))
}

func (s *StockServer) transition(method string, result lifecycle.Result) (*TransitionResponse, error) {
	if !result.Success {
		return nil, s.fail(method, result.Err, result.Message)
	}
	return &TransitionResponse{
		Message:      result.Message,
		Order:        toOrder(result.Order),
		StockChanges: toStockChanges(result.StockChanges),
	}, nil
}

func (s *StockServer) timeline(orderID string) []TimelineEvent {
	events, err := s.orders.Timeline(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order timeline")
		return nil
	}
	return toTimeline(events)
}

func (s *StockServer) fail(method string, err error, message string) error {
	if err == nil {
		err = errors.New(message)
	}
	st := toStatus(err, message)
	entry := s.logger.WithError(err).WithField("method", method)
	if code := status.Code(st); code == codes.Internal || code == codes.Unavailable {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	return st
}

var _ StockServiceServer = (*StockServer)(nil)
