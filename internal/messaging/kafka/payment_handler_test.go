package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
)

type stubProcessor struct {
	payments []string
	refunds  []string
	result   lifecycle.Result
}

func (s *stubProcessor) ProcessOrderPayment(_ context.Context, orderID string) lifecycle.Result {
	s.payments = append(s.payments, orderID)
	return s.result
}

func (s *stubProcessor) ProcessOrderRefund(_ context.Context, orderID string) lifecycle.Result {
	s.refunds = append(s.refunds, orderID)
	return s.result
}

func paymentEventMessage(eventType PaymentEventType, orderID string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic: TopicPayments,
		Value: []byte(fmt.Sprintf(`{"event_id":"e1","event_type":%q,"order_id":%q}`, eventType, orderID)),
	}
}

func paymentEventCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "stock_payment_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newTestPaymentHandler(result lifecycle.Result) (*PaymentHandler, *stubProcessor, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	processor := &stubProcessor{result: result}
	return NewPaymentHandler(processor, metrics.NewStockMetricsWithRegisterer(reg), nil), processor, reg
}

func TestPaymentHandler_CapturedAppliesPayment(t *testing.T) {
	handler, processor, reg := newTestPaymentHandler(lifecycle.Result{Success: true})

	require.NoError(t, handler.Handle(context.Background(), paymentEventMessage(PaymentCaptured, "o1")))
	require.Equal(t, []string{"o1"}, processor.payments)
	require.Empty(t, processor.refunds)
	require.Equal(t, float64(1), paymentEventCount(t, reg, metrics.ResultOK))
}

func TestPaymentHandler_RefundedAppliesRefund(t *testing.T) {
	handler, processor, _ := newTestPaymentHandler(lifecycle.Result{Success: true})

	require.NoError(t, handler.Handle(context.Background(), paymentEventMessage(PaymentRefunded, "o2")))
	require.Equal(t, []string{"o2"}, processor.refunds)
}

func TestPaymentHandler_EventTypeFromHeader(t *testing.T) {
	handler, processor, _ := newTestPaymentHandler(lifecycle.Result{Success: true})
	msg := &sarama.ConsumerMessage{
		Value:   []byte(`{"order_id":"o3"}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderEventType), Value: []byte(PaymentCaptured)}},
	}

	require.NoError(t, handler.Handle(context.Background(), msg))
	require.Equal(t, []string{"o3"}, processor.payments)
}

func TestPaymentHandler_BusinessRejectionIsAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "insufficient stock", err: &domain.InsufficientStockError{Name: "Widget", Requested: 5, Available: 1}},
		{name: "already processed", err: domain.ErrOrderAlreadyProcessed},
		{name: "invalid transition", err: domain.ErrInvalidTransition},
		{name: "order not found", err: domain.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, reg := newTestPaymentHandler(lifecycle.Result{Message: "rejected", Err: tt.err})

			require.NoError(t, handler.Handle(context.Background(), paymentEventMessage(PaymentCaptured, "o1")))
			require.Equal(t, float64(1), paymentEventCount(t, reg, metrics.ResultRejected))
		})
	}
}

func TestPaymentHandler_StoreFailureIsRetried(t *testing.T) {
	storeErr := fmt.Errorf("%w: connection reset", domain.ErrStoreFailure)
	handler, _, reg := newTestPaymentHandler(lifecycle.Result{Err: storeErr})

	err := handler.Handle(context.Background(), paymentEventMessage(PaymentCaptured, "o1"))
	require.ErrorIs(t, err, domain.ErrStoreFailure)
	require.Equal(t, float64(1), paymentEventCount(t, reg, metrics.ResultError))
}

func TestPaymentHandler_DeadlineIsRetried(t *testing.T) {
	handler, _, _ := newTestPaymentHandler(lifecycle.Result{Err: context.DeadlineExceeded})

	err := handler.Handle(context.Background(), paymentEventMessage(PaymentRefunded, "o1"))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPaymentHandler_MalformedMessageIsSkipped(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "invalid json", value: `{"order_id":`},
		{name: "missing order", value: `{"event_type":"payment.captured","order_id":"  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, processor, reg := newTestPaymentHandler(lifecycle.Result{Success: true})

			require.NoError(t, handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(tt.value)}))
			require.Empty(t, processor.payments)
			require.Equal(t, float64(1), paymentEventCount(t, reg, metrics.ResultRejected))
		})
	}
}

func TestPaymentHandler_UnknownTypeIsIgnored(t *testing.T) {
	handler, processor, reg := newTestPaymentHandler(lifecycle.Result{Success: true})

	require.NoError(t, handler.Handle(context.Background(), paymentEventMessage("payment.authorized", "o1")))
	require.Empty(t, processor.payments)
	require.Empty(t, processor.refunds)
	require.Equal(t, float64(1), paymentEventCount(t, reg, "ignored"))
}

func TestParsePaymentEvent(t *testing.T) {
	event, err := ParsePaymentEvent(paymentEventMessage(PaymentCaptured, " o9 "))
	require.NoError(t, err)
	require.Equal(t, "o9", event.OrderID)
	require.Equal(t, PaymentCaptured, event.EventType)
	require.Equal(t, "e1", event.EventID)

	_, err = ParsePaymentEvent(&sarama.ConsumerMessage{Value: []byte("not json")})
	require.ErrorIs(t, err, errPaymentEventInvalid)
}
