package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/health"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/memory"
)

type stubProcessor struct {
	mu       sync.Mutex
	calls    []string
	result   lifecycle.Result
	override func() lifecycle.Result
}

func (s *stubProcessor) record(kind, orderID string) lifecycle.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, kind+":"+orderID)
	if s.override != nil {
		return s.override()
	}
	return s.result
}

func (s *stubProcessor) ProcessOrderPayment(_ context.Context, orderID string) lifecycle.Result {
	return s.record("pay", orderID)
}

func (s *stubProcessor) ProcessOrderRefund(_ context.Context, orderID string) lifecycle.Result {
	return s.record("refund", orderID)
}

func paidResult(orderID string) lifecycle.Result {
	return lifecycle.Result{
		Success: true,
		Message: "Order status changed from PENDING to PAID",
		Order:   domain.Order{ID: orderID, Status: domain.OrderStatusPaid},
	}
}

func newTestRouter(processor *stubProcessor) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	webhook := NewWebhookHandler(processor, memory.NewDeliveryRepository(), metrics.NewStockMetricsWithRegisterer(reg), nil)
	healthHandler := health.NewHandler("test")
	healthHandler.RegisterCritical("store", health.NewPingChecker(func(context.Context) error { return nil }))

	return NewRouter(RouterConfig{
		Webhook: webhook,
		Health:  healthHandler,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}), reg
}

func postWebhook(t *testing.T, router http.Handler, deliveryID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	if deliveryID != "" {
		req.Header.Set(DeliveryIDHeader, deliveryID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWebhook_CapturedAppliesPayment(t *testing.T) {
	processor := &stubProcessor{result: paidResult("o1")}
	router, _ := newTestRouter(processor)

	w := postWebhook(t, router, "d1", `{"order_id":"o1","event":"captured"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.Equal(t, webhookApplied, resp.Status)
	require.Equal(t, "PAID", resp.OrderStatus)
	require.Equal(t, []string{"pay:o1"}, processor.calls)
}

func TestWebhook_DuplicateDeliveryIsReplayed(t *testing.T) {
	processor := &stubProcessor{result: paidResult("o1")}
	router, _ := newTestRouter(processor)
	body := `{"order_id":"o1","event":"captured"}`

	first := postWebhook(t, router, "d1", body)
	second := postWebhook(t, router, "d1", body)

	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get(ReplayedHeader))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Len(t, processor.calls, 1)
}

func TestWebhook_DeliveryIDReusedWithOtherBody(t *testing.T) {
	processor := &stubProcessor{result: paidResult("o1")}
	router, _ := newTestRouter(processor)

	postWebhook(t, router, "d1", `{"order_id":"o1","event":"captured"}`)
	w := postWebhook(t, router, "d1", `{"order_id":"o2","event":"captured"}`)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, processor.calls, 1)
}

func TestWebhook_BusinessRejectionIsAcknowledged(t *testing.T) {
	processor := &stubProcessor{result: lifecycle.Result{
		Message: "Insufficient stock: Widget: requested 5, available 1",
		Order:   domain.Order{ID: "o1", Status: domain.OrderStatusPending},
		Err:     fmt.Errorf("%w: Widget", domain.ErrInsufficientStock),
	}}
	router, reg := newTestRouter(processor)

	w := postWebhook(t, router, "d1", `{"order_id":"o1","event":"captured"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.Equal(t, webhookRejected, resp.Status)
	require.Equal(t, "PENDING", resp.OrderStatus)
	require.Contains(t, resp.Message, "Insufficient stock")

	require.Equal(t, float64(1), paymentEvents(t, reg, metrics.ResultRejected))
}

func paymentEvents(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "stock_payment_events_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["source"] == webhookSource && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestWebhook_StoreFailureAllowsRetry(t *testing.T) {
	failing := true
	processor := &stubProcessor{}
	processor.override = func() lifecycle.Result {
		if failing {
			return lifecycle.Result{Err: fmt.Errorf("%w: connection reset", domain.ErrStoreFailure)}
		}
		return paidResult("o1")
	}
	router, _ := newTestRouter(processor)
	body := `{"order_id":"o1","event":"captured"}`

	w := postWebhook(t, router, "d1", body)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, webhookError, decodeResponse(t, w).Status)

	failing = false
	w = postWebhook(t, router, "d1", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get(ReplayedHeader))
	require.Len(t, processor.calls, 2)
}

func TestWebhook_RefundEvent(t *testing.T) {
	processor := &stubProcessor{result: lifecycle.Result{Success: true, Order: domain.Order{ID: "o1", Status: domain.OrderStatusRefunded}}}
	router, _ := newTestRouter(processor)

	w := postWebhook(t, router, "d1", `{"order_id":"o1","event":" REFUNDED "}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"refund:o1"}, processor.calls)
}

func TestWebhook_InvalidRequests(t *testing.T) {
	tests := []struct {
		name       string
		deliveryID string
		body       string
	}{
		{name: "missing delivery id", body: `{"order_id":"o1","event":"captured"}`},
		{name: "invalid json", deliveryID: "d1", body: `{"order_id":`},
		{name: "missing order", deliveryID: "d2", body: `{"event":"captured"}`},
		{name: "unknown event", deliveryID: "d3", body: `{"order_id":"o1","event":"authorized"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{result: paidResult("o1")}
			router, _ := newTestRouter(processor)

			w := postWebhook(t, router, tt.deliveryID, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Empty(t, processor.calls)
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	processor := &stubProcessor{result: paidResult("o1")}
	router, _ := newTestRouter(processor)

	w := postWebhook(t, router, "d1", strings.Repeat("x", maxBodyBytes+10))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRouter_OpsEndpoints(t *testing.T) {
	router, _ := newTestRouter(&stubProcessor{})

	for path, want := range map[string]int{
		"/livez":   http.StatusOK,
		"/readyz":  http.StatusOK,
		"/healthz": http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, want, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/payments", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
