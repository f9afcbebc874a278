package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/stockledger/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	methodScenario    = "scenario"
)

// stockClient — методы StockService, которые использует нагрузочный прогон.
type stockClient interface {
	RegisterProduct(ctx context.Context, in *grpcsvc.RegisterProductRequest, opts ...grpc.CallOption) (*grpcsvc.ProductResponse, error)
	GetStock(ctx context.Context, in *grpcsvc.GetStockRequest, opts ...grpc.CallOption) (*grpcsvc.GetStockResponse, error)
	ValidateCart(ctx context.Context, in *grpcsvc.ValidateStockRequest, opts ...grpc.CallOption) (*grpcsvc.ValidateCartResponse, error)
	PlaceOrder(ctx context.Context, in *grpcsvc.PlaceOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
	ProcessOrderPayment(ctx context.Context, in *grpcsvc.OrderRequest, opts ...grpc.CallOption) (*grpcsvc.TransitionResponse, error)
	ChangeOrderStatus(ctx context.Context, in *grpcsvc.ChangeOrderStatusRequest, opts ...grpc.CallOption) (*grpcsvc.TransitionResponse, error)
	ProcessOrderRefund(ctx context.Context, in *grpcsvc.OrderRequest, opts ...grpc.CallOption) (*grpcsvc.TransitionResponse, error)
}

var _ stockClient = (*grpcsvc.StockServiceClient)(nil)

// errRejected — сценарий отклонён бизнес-правилом, а не сбоем сервиса.
var errRejected = errors.New("scenario rejected")

// runner гоняет сценарии и считает подтверждённые покупки и возвраты для сверки остатка.
type runner struct {
	cfg       config
	runID     string
	col       *collector
	purchased atomic.Int64
	refunded  atomic.Int64
}

func newRunner(cfg config, runID string) *runner {
	return &runner{cfg: cfg, runID: runID, col: newCollector()}
}

// seed регистрирует товар с начальным остатком и возвращает фактический остаток перед прогоном.
func (r *runner) seed(ctx context.Context, client stockClient) (int, error) {
	if r.cfg.seedStock > 0 {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
		_, err := client.RegisterProduct(callCtx, &grpcsvc.RegisterProductRequest{
			ID:    r.cfg.productID,
			Name:  "load test product",
			Stock: r.cfg.seedStock,
		})
		cancel()
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return 0, fmt.Errorf("register product: %w", err)
		}
	}
	return r.currentStock(ctx, client)
}

func (r *runner) currentStock(ctx context.Context, client stockClient) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	resp, err := client.GetStock(callCtx, &grpcsvc.GetStockRequest{ProductID: r.cfg.productID})
	if err != nil {
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return resp.Stock, nil
}

// run раздаёт сценарии воркерам; клиенты назначаются воркерам по кругу.
func (r *runner) run(ctx context.Context, clients []stockClient) {
	jobs := make(chan int, r.cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < r.cfg.concurrency; workerID++ {
		client := clients[workerID%len(clients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = r.scenario(ctx, client, id)
			}
		}()
	}

	dispatchJobs(ctx, jobs, r.cfg)
	wg.Wait()
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func (r *runner) scenario(ctx context.Context, client stockClient, index int) (err error) {
	start := time.Now()
	defer func() {
		code := codes.OK
		switch {
		case errors.Is(err, errRejected):
			r.col.reject()
		case err != nil:
			code = grpcCode(err)
			if code == codes.OK {
				code = codes.Unknown
			}
		}
		r.col.record(methodScenario, time.Since(start), code)
	}()

	items := []grpcsvc.StockItem{{ProductID: r.cfg.productID, Quantity: r.cfg.quantity}}

	if r.cfg.mode == modeValidate {
		_, err := call(ctx, r, "ValidateCart", "", func(ctx context.Context) (*grpcsvc.ValidateCartResponse, error) {
			return client.ValidateCart(ctx, &grpcsvc.ValidateStockRequest{Items: items})
		})
		return err
	}

	placed, err := call(ctx, r, "PlaceOrder", r.key("order", index), func(ctx context.Context) (*grpcsvc.OrderResponse, error) {
		return client.PlaceOrder(ctx, &grpcsvc.PlaceOrderRequest{
			UserID: fmt.Sprintf("%s-%s-%d", r.cfg.userTag, r.runID, index),
			Items:  []grpcsvc.OrderItem{{ProductID: r.cfg.productID, Quantity: r.cfg.quantity}},
		})
	})
	if err != nil {
		return rejectable(err)
	}
	orderID := placed.Order.ID
	if orderID == "" {
		return status.Error(codes.Internal, "place order returned empty order id")
	}
	if r.cfg.mode == modeOrder {
		return nil
	}

	req := &grpcsvc.OrderRequest{OrderID: orderID}
	if _, err := call(ctx, r, "ProcessOrderPayment", "", func(ctx context.Context) (*grpcsvc.TransitionResponse, error) {
		return client.ProcessOrderPayment(ctx, req)
	}); err != nil {
		return rejectable(err)
	}
	r.purchased.Add(int64(r.cfg.quantity))

	if r.cfg.mode == modeOrderPay && !shouldRefund(index, r.cfg.refundRate) {
		return nil
	}

	if _, err := call(ctx, r, "ChangeOrderStatus", "", func(ctx context.Context) (*grpcsvc.TransitionResponse, error) {
		return client.ChangeOrderStatus(ctx, &grpcsvc.ChangeOrderStatusRequest{OrderID: orderID, Status: "REFUND_REQUESTED"})
	}); err != nil {
		return err
	}
	if _, err := call(ctx, r, "ProcessOrderRefund", "", func(ctx context.Context) (*grpcsvc.TransitionResponse, error) {
		return client.ProcessOrderRefund(ctx, req)
	}); err != nil {
		return err
	}
	r.refunded.Add(int64(r.cfg.quantity))
	return nil
}

func (r *runner) key(op string, index int) string {
	return fmt.Sprintf("lt-%s-%s-%d", op, r.runID, index)
}

// check сверяет фактический остаток с ожидаемым после прогона.
func (r *runner) check(initial, actual int) stockCheck {
	purchased := r.purchased.Load()
	refunded := r.refunded.Load()
	expected := initial - int(purchased) + int(refunded)
	return stockCheck{
		ProductID:  r.cfg.productID,
		Initial:    initial,
		Purchased:  purchased,
		Refunded:   refunded,
		Expected:   expected,
		Actual:     actual,
		Consistent: actual == expected && actual >= 0,
	}
}

// call выполняет RPC с таймаутом и необязательным ключом идемпотентности и пишет метрику метода.
func call[T any](ctx context.Context, r *runner, method, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	}

	resp, err := fn(ctx)
	r.col.record(method, time.Since(start), grpcCode(err))
	return resp, err
}

// rejectable превращает нехватку остатка в errRejected: под конкуренцией это ожидаемый исход.
func rejectable(err error) error {
	if status.Code(err) == codes.FailedPrecondition {
		return fmt.Errorf("%w: %v", errRejected, err)
	}
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldRefund(index, refundRate int) bool {
	if refundRate <= 0 {
		return false
	}
	if refundRate >= 100 {
		return true
	}
	return index%100 < refundRate
}
