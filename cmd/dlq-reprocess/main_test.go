package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/stockledger/internal/service/outbox"
)

type fakeOffsetClient struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
	err        error
}

func (c *fakeOffsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return c.oldest[partition], nil
	}
	return c.newest[partition], nil
}

func (c *fakeOffsetClient) Partitions(string) ([]int32, error) { return c.partitions, c.err }
func (c *fakeOffsetClient) Close() error                       { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (c *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return c.messages }
func (c *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return c.errors }
func (c *fakePartitionConsumer) Close() error                             { return nil }

type fakeSource struct {
	messages map[int32][]*sarama.ConsumerMessage
	offsets  map[int32]int64
}

func (s *fakeSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if s.offsets == nil {
		s.offsets = make(map[int32]int64)
	}
	s.offsets[partition] = offset

	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(s.messages[partition])),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range s.messages[partition] {
		if msg.Offset >= offset {
			pc.messages <- msg
		}
	}
	return pc, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeProducer struct {
	sent []*sarama.ProducerMessage
	err  error
}

func (p *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}

func (p *fakeProducer) Close() error { return nil }

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func paymentDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(kafka.DeadLetter{
		OriginalTopic: kafka.TopicPayments,
		OriginalKey:   "order-1",
		OriginalValue: `{"order_id":"order-1","type":"payment.captured"}`,
		ErrorMessage:  "stock store unavailable",
		Attempts:      3,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: offset, Value: raw}
}

func outboxDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	letter, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "evt-1",
		AggregateType: "product",
		AggregateID:   "p1",
		EventType:     "stock.changed",
		Payload:       json.RawMessage(`{"product_id":"p1","new_stock":8}`),
		PublishError:  "timeout",
		Attempts:      3,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(kafka.Envelope{
		ID:            "evt-1",
		AggregateType: "product",
		AggregateID:   "p1",
		EventType:     "stock.changed",
		Payload:       letter,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: offset, Value: raw}
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-execute", "-kind=Payments", "-limit=5"}, lookupFrom(map[string]string{
		envKafkaBrokers: " broker-1:9092, ,broker-2:9092 ",
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicStockEvents, cfg.eventsTopic)
	require.Equal(t, kindPayments, cfg.kind)
	require.Equal(t, 5, cfg.limit)
	require.True(t, cfg.execute)
	require.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := parseConfig([]string{"-kind=orders", "-limit=0", "-idle-timeout=0s", "-source-topic= "}, lookupFrom(nil))
	require.Error(t, err)
	for _, want := range []string{"kafka brokers are required", "source-topic is required", `unsupported kind "orders"`, "limit must be > 0", "idle-timeout must be > 0"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestExtractReplayMessage_PaymentDeadLetter(t *testing.T) {
	got, err := extractReplayMessage(paymentDeadLetter(t, 4), kafka.TopicStockEvents)
	require.NoError(t, err)
	require.Equal(t, kindPayments, got.kind)
	require.Equal(t, kafka.TopicPayments, got.topic)
	require.Equal(t, "order-1", got.key)
	require.JSONEq(t, `{"order_id":"order-1","type":"payment.captured"}`, string(got.value))
	require.Len(t, got.headers, 1)
	require.Equal(t, "stock.dlq/0/4", string(got.headers[0].Value))
}

func TestExtractReplayMessage_OutboxDeadLetter(t *testing.T) {
	got, err := extractReplayMessage(outboxDeadLetter(t, 1), "custom.events")
	require.NoError(t, err)
	require.Equal(t, kindOutbox, got.kind)
	require.Equal(t, "custom.events", got.topic)
	require.Equal(t, "p1", got.key)

	var envelope kafka.Envelope
	require.NoError(t, json.Unmarshal(got.value, &envelope))
	require.Equal(t, "evt-1", envelope.ID)
	require.Equal(t, "stock.changed", envelope.EventType)
	require.JSONEq(t, `{"product_id":"p1","new_stock":8}`, string(envelope.Payload))
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "events")
	require.ErrorIs(t, err, errNotDeadLetter)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)}, "events")
	require.ErrorIs(t, err, errNotDeadLetter)

	raw, _ := json.Marshal(kafka.Envelope{ID: "evt-1", Payload: json.RawMessage(`{"outbox_id":"evt-1"}`)})
	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "events")
	require.Error(t, err)
	require.Contains(t, err.Error(), "original event payload")
}

func newTestReplayer(t *testing.T, cfg config, producer replayProducer, messages ...*sarama.ConsumerMessage) (*replayer, *fakeSource) {
	t.Helper()
	source := &fakeSource{messages: map[int32][]*sarama.ConsumerMessage{0: messages}}
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: int64(len(messages))},
	}
	if cfg.idleTimeout == 0 {
		cfg.idleTimeout = 200 * time.Millisecond
	}
	if cfg.limit == 0 {
		cfg.limit = defaultReplayLimit
	}
	if cfg.kind == "" {
		cfg.kind = kindAll
	}
	if cfg.sourceTopic == "" {
		cfg.sourceTopic = kafka.TopicDeadLetterQueue
	}
	if cfg.eventsTopic == "" {
		cfg.eventsTopic = kafka.TopicStockEvents
	}
	return &replayer{cfg: cfg, client: client, consumer: source, producer: producer}, source
}

func TestReplay_ExecuteRepublishesAllKinds(t *testing.T) {
	producer := &fakeProducer{}
	r, _ := newTestReplayer(t, config{execute: true}, producer,
		paymentDeadLetter(t, 0),
		&sarama.ConsumerMessage{Offset: 1, Value: []byte(`garbage`)},
		outboxDeadLetter(t, 2),
	)

	stats, err := r.replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)

	require.Len(t, producer.sent, 2)
	require.Equal(t, kafka.TopicPayments, producer.sent[0].Topic)
	require.Equal(t, kafka.TopicStockEvents, producer.sent[1].Topic)
	require.Equal(t, "stock.changed", headerValue(producer.sent[1], kafka.HeaderEventType))
	require.Equal(t, "stock.dlq/0/2", headerValue(producer.sent[1], headerReplayedFrom))
}

func TestReplay_DryRunDoesNotPublish(t *testing.T) {
	r, _ := newTestReplayer(t, config{}, nil, paymentDeadLetter(t, 0), outboxDeadLetter(t, 1))

	stats, err := r.replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
}

func TestReplay_KindFilter(t *testing.T) {
	producer := &fakeProducer{}
	r, _ := newTestReplayer(t, config{execute: true, kind: kindOutbox}, producer, paymentDeadLetter(t, 0), outboxDeadLetter(t, 1))

	stats, err := r.replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	require.Len(t, producer.sent, 1)
	require.Equal(t, kafka.TopicStockEvents, producer.sent[0].Topic)
}

func TestReplay_LimitFromNewest(t *testing.T) {
	producer := &fakeProducer{}
	r, source := newTestReplayer(t, config{execute: true, limit: 1, fromNewest: true}, producer,
		paymentDeadLetter(t, 0), paymentDeadLetter(t, 1), paymentDeadLetter(t, 2))

	stats, err := r.replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.processed)
	require.Equal(t, int64(2), source.offsets[0])
	require.Equal(t, "stock.dlq/0/2", headerValue(producer.sent[0], headerReplayedFrom))
}

func TestReplay_ProducerError(t *testing.T) {
	boom := errors.New("broker down")
	r, _ := newTestReplayer(t, config{execute: true}, &fakeProducer{err: boom}, paymentDeadLetter(t, 0))

	stats, err := r.replay(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, stats.processed)
}

func TestReplay_ExecuteRequiresProducer(t *testing.T) {
	r, _ := newTestReplayer(t, config{execute: true}, nil, paymentDeadLetter(t, 0))

	_, err := r.replay(context.Background())
	require.Error(t, err)
}

func TestReplay_PartitionsError(t *testing.T) {
	r := &replayer{
		cfg:      config{sourceTopic: "dlq", limit: 1, idleTimeout: time.Second},
		client:   &fakeOffsetClient{err: errors.New("metadata unavailable")},
		consumer: &fakeSource{},
	}

	_, err := r.replay(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "get partitions")
}

func TestRun_UsesInjectedDependencies(t *testing.T) {
	original := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = original })

	producer := &fakeProducer{}
	newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return &fakeOffsetClient{
				partitions: []int32{0},
				oldest:     map[int32]int64{0: 0},
				newest:     map[int32]int64{0: 1},
			},
			&fakeSource{messages: map[int32][]*sarama.ConsumerMessage{0: {paymentDeadLetter(t, 0)}}},
			producer, nil
	}

	stats, err := run(context.Background(), config{
		brokers:     []string{"broker:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		eventsTopic: kafka.TopicStockEvents,
		kind:        kindAll,
		limit:       10,
		execute:     true,
		idleTimeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.Len(t, producer.sent, 1)
}
