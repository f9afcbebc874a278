package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/stockledger/internal/service/grpc"
)

// fakeStock — минимальная модель StockService: покупка списывает остаток при оплате.
type fakeStock struct {
	mu      sync.Mutex
	stock   int
	orders  map[string]int
	nextID  int
	failPay bool
}

func newFakeStock() *fakeStock {
	return &fakeStock{orders: make(map[string]int)}
}

func (f *fakeStock) RegisterProduct(_ context.Context, in *grpcsvc.RegisterProductRequest, _ ...grpc.CallOption) (*grpcsvc.ProductResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stock > 0 {
		return nil, status.Error(codes.AlreadyExists, "product already exists")
	}
	f.stock = in.Stock
	return &grpcsvc.ProductResponse{ID: in.ID, Stock: in.Stock}, nil
}

func (f *fakeStock) GetStock(_ context.Context, in *grpcsvc.GetStockRequest, _ ...grpc.CallOption) (*grpcsvc.GetStockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &grpcsvc.GetStockResponse{ProductID: in.ProductID, Stock: f.stock}, nil
}

func (f *fakeStock) ValidateCart(_ context.Context, in *grpcsvc.ValidateStockRequest, _ ...grpc.CallOption) (*grpcsvc.ValidateCartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &grpcsvc.ValidateCartResponse{IsValid: in.Items[0].Quantity <= f.stock}, nil
}

func (f *fakeStock) PlaceOrder(_ context.Context, in *grpcsvc.PlaceOrderRequest, _ ...grpc.CallOption) (*grpcsvc.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Items[0].Quantity > f.stock {
		return nil, status.Error(codes.FailedPrecondition, "insufficient stock")
	}
	f.nextID++
	id := fmt.Sprintf("order-%d", f.nextID)
	f.orders[id] = in.Items[0].Quantity
	return &grpcsvc.OrderResponse{Order: grpcsvc.Order{ID: id, Status: "PENDING"}}, nil
}

func (f *fakeStock) ProcessOrderPayment(_ context.Context, in *grpcsvc.OrderRequest, _ ...grpc.CallOption) (*grpcsvc.TransitionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPay {
		return nil, status.Error(codes.Unavailable, "stock store is unavailable")
	}
	qty := f.orders[in.OrderID]
	if qty > f.stock {
		return nil, status.Error(codes.FailedPrecondition, "insufficient stock")
	}
	f.stock -= qty
	return &grpcsvc.TransitionResponse{Order: grpcsvc.Order{ID: in.OrderID, Status: "PAID"}}, nil
}

func (f *fakeStock) ChangeOrderStatus(_ context.Context, in *grpcsvc.ChangeOrderStatusRequest, _ ...grpc.CallOption) (*grpcsvc.TransitionResponse, error) {
	return &grpcsvc.TransitionResponse{Order: grpcsvc.Order{ID: in.OrderID, Status: in.Status}}, nil
}

func (f *fakeStock) ProcessOrderRefund(_ context.Context, in *grpcsvc.OrderRequest, _ ...grpc.CallOption) (*grpcsvc.TransitionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock += f.orders[in.OrderID]
	return &grpcsvc.TransitionResponse{Order: grpcsvc.Order{ID: in.OrderID, Status: "REFUNDED"}}, nil
}

func testConfig(mode loadMode) config {
	return config{
		total:       50,
		concurrency: 8,
		connections: 1,
		timeout:     time.Second,
		mode:        mode,
		productID:   "p1",
		seedStock:   20,
		quantity:    1,
		userTag:     "load",
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-mode=order-pay-refund", "-duration=1m", "-product= sku-1 ", "-quantity=2"})
	require.NoError(t, err)
	require.Equal(t, modeOrderPayRefund, cfg.mode)
	require.Equal(t, time.Minute, cfg.duration)
	require.False(t, cfg.totalSet)
	require.Equal(t, "sku-1", cfg.productID)
	require.Equal(t, 2, cfg.quantity)
	require.Equal(t, "duration:1m0s", runTarget(cfg))

	cfg, err = parseConfig([]string{"-total=10"})
	require.NoError(t, err)
	require.True(t, cfg.totalSet)
	require.Equal(t, modeOrderPay, cfg.mode)
	require.Equal(t, "count:10", runTarget(cfg))
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string][]string{
		"mode":        {"-mode=cancel"},
		"total":       {"-total=0"},
		"concurrency": {"-concurrency=0"},
		"connections": {"-connections=0"},
		"timeout":     {"-timeout=0s"},
		"quantity":    {"-quantity=0"},
		"seed-stock":  {"-seed-stock=-1"},
		"refund-rate": {"-refund-rate=101"},
		"product":     {"-product= "},
		"user-tag":    {"-user-tag="},
		"duration":    {"-duration=-1s"},
		"unknown":     {"-currency=USD"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args)
			require.Error(t, err)
		})
	}
}

func TestExecute_ContentionNeverOversells(t *testing.T) {
	fake := newFakeStock()
	cfg := testConfig(modeOrderPay)

	result, err := execute(context.Background(), cfg, []stockClient{fake})
	require.NoError(t, err)

	require.EqualValues(t, 50, result.TotalScenarios)
	require.EqualValues(t, 20, result.SuccessScenarios)
	require.EqualValues(t, 30, result.RejectedScenarios)
	require.Zero(t, result.FailedScenarios)
	require.NotNil(t, result.Stock)
	require.True(t, result.Stock.Consistent)
	require.Equal(t, 0, result.Stock.Actual)
	require.EqualValues(t, 20, result.Stock.Purchased)
}

func TestExecute_RefundRestoresStock(t *testing.T) {
	fake := newFakeStock()
	cfg := testConfig(modeOrderPayRefund)
	cfg.total = 10

	result, err := execute(context.Background(), cfg, []stockClient{fake})
	require.NoError(t, err)
	require.EqualValues(t, 10, result.SuccessScenarios)
	require.EqualValues(t, 10, result.Stock.Refunded)
	require.Equal(t, 20, result.Stock.Actual)
	require.True(t, result.Stock.Consistent)
	require.EqualValues(t, 10, result.Methods["ProcessOrderRefund"].Success)
}

func TestExecute_ServiceFailuresAreFailed(t *testing.T) {
	fake := newFakeStock()
	fake.failPay = true
	cfg := testConfig(modeOrderPay)
	cfg.total = 5

	result, err := execute(context.Background(), cfg, []stockClient{fake})
	require.NoError(t, err)
	require.EqualValues(t, 5, result.FailedScenarios)
	require.EqualValues(t, 5, result.Methods["ProcessOrderPayment"].Codes[codes.Unavailable.String()])
	require.True(t, result.Stock.Consistent)
}

func TestExecute_ValidateModeSkipsStockCheck(t *testing.T) {
	cfg := testConfig(modeValidate)
	cfg.total = 3

	result, err := execute(context.Background(), cfg, []stockClient{newFakeStock()})
	require.NoError(t, err)
	require.Nil(t, result.Stock)
	require.EqualValues(t, 3, result.Methods["ValidateCart"].Calls)
}

func TestExecute_RequiresClient(t *testing.T) {
	_, err := execute(context.Background(), testConfig(modeOrder), nil)
	require.Error(t, err)
}

func TestDispatchJobs_DurationWithoutTotal(t *testing.T) {
	jobs := make(chan int)
	cfg := config{duration: 20 * time.Millisecond}

	done := make(chan struct{})
	count := 0
	go func() {
		for range jobs {
			count++
		}
		close(done)
	}()

	dispatchJobs(context.Background(), jobs, cfg)
	<-done
	require.Positive(t, count)
}

func TestShouldRefund(t *testing.T) {
	require.False(t, shouldRefund(1, 0))
	require.True(t, shouldRefund(99, 100))
	require.True(t, shouldRefund(10, 25))
	require.False(t, shouldRefund(30, 25))
}

func TestPercentileAndSummary(t *testing.T) {
	require.Zero(t, percentile(nil, 50))
	require.Equal(t, 5.0, percentile([]float64{5}, 99))

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	require.Equal(t, 1.0, summary.Min)
	require.Equal(t, 4.0, summary.Max)
	require.Equal(t, 2.5, summary.Avg)
	require.InDelta(t, 2.5, summary.P50, 1e-9)
	require.False(t, math.IsNaN(summary.P99))
	require.Zero(t, ratio(1, 0))
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{
		TotalScenarios: 2,
		Methods:        map[string]methodReport{"PlaceOrder": {Calls: 2, Success: 2}, methodScenario: {Calls: 2}},
		Stock:          &stockCheck{ProductID: "p1", Initial: 5, Purchased: 2, Expected: 3, Actual: 3, Consistent: true},
	}, testConfig(modeOrder))

	out := buf.String()
	require.Contains(t, out, "PlaceOrder: calls=2")
	require.NotContains(t, out, "scenario: calls")
	require.Contains(t, out, "stock p1: initial=5 purchased=2")
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", report{TotalScenarios: 1}))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), `"total_scenarios": 1`))

	require.Error(t, writeJSONReport(".", report{}))
	require.Error(t, writeJSONReport("../escape.json", report{}))
}
