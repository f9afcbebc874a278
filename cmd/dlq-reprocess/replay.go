package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockledger/internal/service/outbox"
)

// headerReplayedFrom помечает повторно отправленное сообщение исходным offset'ом в DLQ.
const headerReplayedFrom = "x-replayed-from"

var errNotDeadLetter = errors.New("message is not a dead letter")

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

// replayStats — итог прохода по DLQ.
type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayMessage — сообщение для повторной публикации.
type replayMessage struct {
	kind    string
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

func run(ctx context.Context, cfg config) (replayStats, error) {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"events_topic": cfg.eventsTopic,
		"kind":         cfg.kind,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}()

	r := &replayer{cfg: cfg, client: client, consumer: consumer, producer: producer}
	return r.replay(ctx)
}

// replayer читает DLQ по партициям и возвращает сообщения в исходные topics.
type replayer struct {
	cfg      config
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (r *replayer) replay(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= r.cfg.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			if err := r.handle(msg); err != nil {
				if !errors.Is(err, errSkipped) {
					return stats, err
				}
				stats.skipped++
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

var errSkipped = errors.New("skipped")

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := extractReplayMessage(msg, r.cfg.eventsTopic)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
		return errSkipped
	}
	if r.cfg.kind != kindAll && replay.kind != r.cfg.kind {
		return errSkipped
	}

	entry = entry.WithFields(log.Fields{"kind": replay.kind, "target_topic": replay.topic, "key": replay.key})
	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		return nil
	}

	if _, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     replay.topic,
		Key:       sarama.StringEncoder(replay.key),
		Value:     sarama.ByteEncoder(replay.value),
		Headers:   replay.headers,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	entry.Debug("dlq message replayed")
	return nil
}

// extractReplayMessage распознаёт два формата DLQ: DeadLetter consumer'а платежей
// (возвращается в исходный topic как есть) и DeadLetter outbox worker'а
// (снова упаковывается в Envelope и уходит в eventsTopic).
func extractReplayMessage(msg *sarama.ConsumerMessage, eventsTopic string) (replayMessage, error) {
	origin := sarama.RecordHeader{
		Key:   []byte(headerReplayedFrom),
		Value: []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)),
	}

	var consumerLetter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &consumerLetter); err == nil && consumerLetter.OriginalValue != "" {
		topic := strings.TrimSpace(consumerLetter.OriginalTopic)
		if topic == "" {
			topic = kafka.TopicPayments
		}
		return replayMessage{
			kind:    kindPayments,
			topic:   topic,
			key:     consumerLetter.OriginalKey,
			value:   []byte(consumerLetter.OriginalValue),
			headers: []sarama.RecordHeader{origin},
		}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotDeadLetter
	}

	var outboxLetter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &outboxLetter); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(outboxLetter.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dead letter does not contain original event payload")
	}

	replayed := kafka.Envelope{
		ID:            firstNonEmpty(outboxLetter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(outboxLetter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(outboxLetter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(outboxLetter.EventType, envelope.EventType),
		Payload:       outboxLetter.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replayed)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		kind:  kindOutbox,
		topic: eventsTopic,
		key:   firstNonEmpty(replayed.AggregateID, replayed.ID),
		value: encoded,
		headers: []sarama.RecordHeader{
			origin,
			{Key: []byte(kafka.HeaderEventType), Value: []byte(replayed.EventType)},
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
