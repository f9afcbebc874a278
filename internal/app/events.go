package app

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockledger/internal/messaging/rabbitmq"
)

// events — подключения к брокерам: публикация outbox и DLQ.
type events struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	producer  *kafka.Producer
	closers   []func() error
}

// initEvents открывает publisher выбранного брокера. Kafka producer создаётся
// и при брокере none, если заданы brokers: он нужен DLQ consumer'а платежей.
func initEvents(cfg Config, logger *log.Entry) (*events, error) {
	ev := &events{}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			if cfg.EventsBroker == EventsBrokerKafka {
				return nil, err
			}
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			ev.producer = producer
			ev.closers = append(ev.closers, producer.Close)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		}
	}

	switch cfg.EventsBroker {
	case EventsBrokerKafka:
		ev.publisher = kafka.NewOutboxPublisher(ev.producer, cfg.KafkaEventsTopic)
		ev.dlq = kafka.NewOutboxPublisher(ev.producer, kafka.TopicDeadLetterQueue)
	case EventsBrokerRabbitMQ:
		publisher, conn, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			_ = ev.close()
			return nil, err
		}
		ev.publisher = publisher
		ev.closers = append(ev.closers, publisher.Close, conn.Close)
		if ev.producer != nil {
			ev.dlq = kafka.NewOutboxPublisher(ev.producer, kafka.TopicDeadLetterQueue)
		}
		logger.WithField("exchange", cfg.RabbitMQExchange).Info("rabbitmq publisher initialized")
	case EventsBrokerNone, "":
		logger.Info("events broker disabled, outbox events stay pending")
	default:
		_ = ev.close()
		return nil, fmt.Errorf("unsupported events broker %q", cfg.EventsBroker)
	}

	return ev, nil
}

// close закрывает подключения в обратном порядке.
func (e *events) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
