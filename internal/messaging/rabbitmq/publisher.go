package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

const (
	// EventsExchange — topic exchange для событий об остатках и заказах.
	EventsExchange = "stockledger.events"

	publishTimeout = 3 * time.Second
	contentJSON    = "application/json"
)

var errPublisherClosed = errors.New("rabbitmq publisher is closed")

// channel — операции amqp.Channel, которые нужны publisher'у.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// message — тело сообщения в exchange.
type message struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Publisher публикует outbox-события в RabbitMQ. Routing key — тип события
// с суффиксом версии, например stock.changed.v1.
type Publisher struct {
	ch       channel
	exchange string
}

// Dial открывает соединение и канал с объявленным exchange.
func Dial(url, exchange string) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	publisher, err := NewPublisher(conn, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return publisher, conn, nil
}

// NewPublisher открывает канал на соединении и объявляет durable topic exchange.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	publisher, err := newPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return publisher, nil
}

func newPublisher(ch channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = EventsExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish отправляет событие как persistent-сообщение.
func (p *Publisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.ch == nil {
		return errPublisherClosed
	}

	body, err := json.Marshal(message{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.EventType), false, false, amqp.Publishing{
		ContentType:  contentJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.EventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}
	return nil
}

// Close закрывает канал.
func (p *Publisher) Close() error {
	if p == nil || p.ch == nil {
		return nil
	}
	return p.ch.Close()
}

// RoutingKey возвращает routing key для типа события.
func RoutingKey(eventType string) string {
	return eventType + ".v1"
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
