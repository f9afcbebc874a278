package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Topics по умолчанию.
const (
	TopicStockEvents     = "stock.events"
	TopicPayments        = "payments.events"
	TopicDeadLetterQueue = "stock.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderAttempts      = "x-attempts"
)

// PaymentEventType — тип события платёжного шлюза.
type PaymentEventType string

const (
	PaymentCaptured PaymentEventType = "payment.captured"
	PaymentRefunded PaymentEventType = "payment.refunded"
)

var errPaymentEventInvalid = errors.New("invalid payment event")

// PaymentEvent — событие об оплате или возврате заказа.
type PaymentEvent struct {
	EventID    string           `json:"event_id"`
	EventType  PaymentEventType `json:"event_type"`
	OrderID    string           `json:"order_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ParsePaymentEvent разбирает и проверяет событие платежа из сообщения.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", errPaymentEventInvalid, err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return PaymentEvent{}, fmt.Errorf("%w: order_id is required", errPaymentEventInvalid)
	}
	if event.EventType == "" {
		event.EventType = PaymentEventType(headerValue(message, HeaderEventType))
	}
	return event, nil
}

// Envelope — формат outbox-события в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — сообщение, которое не удалось обработать consumer'ом.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
