package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/stockledger/internal/httpapi"
	grpcsvc "github.com/vladislavdragonenkov/stockledger/internal/service/grpc"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestApplication(t *testing.T, cfg Config) *application {
	t.Helper()

	registry := prometheus.NewRegistry()
	a, err := newApplication(context.Background(), cfg, registry, registry)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestNewApplication_MemoryWithoutBrokers(t *testing.T) {
	a := newTestApplication(t, testConfig())

	require.NotNil(t, a.stock)
	require.NotNil(t, a.coordinator)
	require.NotNil(t, a.cleanupWorker)
	require.Nil(t, a.outboxWorker, "outbox worker needs an events broker")
	require.Nil(t, a.consumer, "payments consumer needs kafka")
	require.Nil(t, a.redisClient)
	require.NotNil(t, a.grpcServer.GetServiceInfo()[grpcsvc.ServiceName])
}

func TestNewApplication_InvalidBatchPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.BatchPolicy = "eventual"

	registry := prometheus.NewRegistry()
	_, err := newApplication(context.Background(), cfg, registry, registry)
	require.Error(t, err)
}

func TestNewApplication_UnavailableRedisDisablesCache(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}

	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	a := newTestApplication(t, cfg)
	require.Nil(t, a.redisClient)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "sqlite"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

func TestServe_ServesGRPCAndHTTPUntilCancelled(t *testing.T) {
	a := newTestApplication(t, testConfig())
	require.NoError(t, a.listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	baseURL := "http://" + a.httpListener.Addr().String()
	conn, err := grpc.NewClient(a.grpcListener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()

	healthResp, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthResp.GetStatus())

	client := grpcsvc.NewStockServiceClient(conn)
	_, err = client.RegisterProduct(rpcCtx, &grpcsvc.RegisterProductRequest{ID: "p1", Name: "Widget", Stock: 10})
	require.NoError(t, err)

	placed, err := client.PlaceOrder(rpcCtx, &grpcsvc.PlaceOrderRequest{
		UserID: "u1",
		Items:  []grpcsvc.OrderItem{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "PENDING", placed.Order.Status)

	body := []byte(`{"order_id":"` + placed.Order.ID + `","event":"captured"}`)
	req, err := http.NewRequestWithContext(rpcCtx, http.MethodPost, baseURL+"/webhooks/payments", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(httpapi.DeliveryIDHeader, "delivery-1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	order, err := client.GetOrder(rpcCtx, &grpcsvc.OrderRequest{OrderID: placed.Order.ID})
	require.NoError(t, err)
	require.Equal(t, "PAID", order.Order.Status)

	stock, err := client.GetStock(rpcCtx, &grpcsvc.GetStockRequest{ProductID: "p1"})
	require.NoError(t, err)
	require.Equal(t, 8, stock.Stock)

	for path, want := range map[string]string{"/livez": "", "/readyz": "ready", "/metrics": "stock_mutations_total"} {
		resp, err := http.Get(baseURL + path)
		require.NoError(t, err)
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.Contains(t, string(payload), want, path)
	}

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestListen_AddressInUse(t *testing.T) {
	first := newTestApplication(t, testConfig())
	require.NoError(t, first.listen())
	defer first.grpcListener.Close()
	defer first.httpListener.Close()

	cfg := testConfig()
	cfg.GRPCAddr = first.grpcListener.Addr().String()
	second := newTestApplication(t, cfg)

	err := second.listen()
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen grpc")
}
