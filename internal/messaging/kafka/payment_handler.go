package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
)

const paymentSource = "kafka"

// PaymentProcessor — операции жизненного цикла заказа, вызываемые событиями платежей.
type PaymentProcessor interface {
	ProcessOrderPayment(ctx context.Context, orderID string) lifecycle.Result
	ProcessOrderRefund(ctx context.Context, orderID string) lifecycle.Result
}

// PaymentHandler переводит события платёжного шлюза в переходы статусов заказа.
type PaymentHandler struct {
	processor PaymentProcessor
	metrics   *metrics.StockMetrics
	logger    *log.Entry
}

// NewPaymentHandler создаёт обработчик событий платежей.
func NewPaymentHandler(processor PaymentProcessor, m *metrics.StockMetrics, logger *log.Entry) *PaymentHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-payment-handler")
	}
	return &PaymentHandler{processor: processor, metrics: m, logger: logger}
}

// Handle обрабатывает одно сообщение. Бизнес-отказы (нехватка остатков, повторная
// оплата, недопустимый переход) подтверждаются; ошибка возвращается только при сбое
// хранилища, чтобы сообщение было обработано повторно.
func (h *PaymentHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := ParsePaymentEvent(message)
	if err != nil {
		h.metrics.RecordPaymentEvent(paymentSource, metrics.ResultRejected)
		h.logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed payment event")
		return nil
	}

	entry := h.logger.WithFields(log.Fields{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"order_id":   event.OrderID,
	})

	var result lifecycle.Result
	switch event.EventType {
	case PaymentCaptured:
		result = h.processor.ProcessOrderPayment(ctx, event.OrderID)
	case PaymentRefunded:
		result = h.processor.ProcessOrderRefund(ctx, event.OrderID)
	default:
		h.metrics.RecordPaymentEvent(paymentSource, "ignored")
		entry.Debug("ignoring payment event type")
		return nil
	}

	switch {
	case result.Success:
		h.metrics.RecordPaymentEvent(paymentSource, metrics.ResultOK)
		entry.Info("payment event applied")
		return nil
	case domain.IsStoreFailure(result.Err) || errors.Is(result.Err, context.DeadlineExceeded):
		h.metrics.RecordPaymentEvent(paymentSource, metrics.ResultError)
		entry.WithError(result.Err).Error("payment event failed, will retry")
		return result.Err
	default:
		h.metrics.RecordPaymentEvent(paymentSource, metrics.ResultRejected)
		entry.WithError(result.Err).WithField("message", result.Message).Warn("payment event rejected")
		return nil
	}
}
