package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// StockMetrics содержит метрики изменений остатков и жизненного цикла заказов.
// Все методы безопасны для nil-получателя.
type StockMetrics struct {
	mutations        *prometheus.CounterVec
	insufficient     prometheus.Counter
	batchDuration    *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
	validationItems  *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	timelineEvents   prometheus.Counter
	outboxEnqueued   *prometheus.CounterVec
	paymentEvents    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// NewStockMetrics регистрирует метрики в DefaultRegisterer.
func NewStockMetrics() *StockMetrics {
	return NewStockMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStockMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewStockMetricsWithRegisterer(registerer prometheus.Registerer) *StockMetrics {
	registerer = orDefault(registerer)

	return &StockMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_mutations_total",
			Help: "Total number of stock mutations grouped by operation, change type and result.",
		}, []string{"operation", "type", "result"}),
		insufficient: registerCounter(registerer, prometheus.CounterOpts{
			Name: "stock_insufficient_total",
			Help: "Total number of decreases rejected because of insufficient stock.",
		}),
		batchDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "stock_batch_duration_seconds",
			Help:    "Duration of order batch stock processing in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"direction"}),
		batchItems: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_batch_items_total",
			Help: "Total number of order items processed by batch stock processing.",
		}, []string{"direction", "result"}),
		validationItems: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_validation_items_total",
			Help: "Total number of validated cart items grouped by result.",
		}, []string{"result"}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_order_transitions_total",
			Help: "Total number of requested order status transitions.",
		}, []string{"to", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "stock_timeline_events_total",
			Help: "Total number of order timeline events recorded.",
		}),
		outboxEnqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_outbox_enqueued_total",
			Help: "Total number of events written to the transactional outbox.",
		}, []string{"event_type"}),
		paymentEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_payment_events_total",
			Help: "Total number of payment events received grouped by source and result.",
		}, []string{"source", "result"}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_cache_lookups_total",
			Help: "Total number of stock cache lookups grouped by result.",
		}, []string{"result"}),
	}
}

// RecordMutation учитывает одно изменение остатка.
func (m *StockMetrics) RecordMutation(operation, changeType, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, changeType, result).Inc()
}

// RecordInsufficientStock учитывает отказ по нехватке остатка.
func (m *StockMetrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.insufficient.Inc()
}

// RecordBatch учитывает пакетную обработку заказа.
func (m *StockMetrics) RecordBatch(direction string, duration time.Duration, succeeded, failed int) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(direction).Observe(duration.Seconds())
	m.batchItems.WithLabelValues(direction, ResultOK).Add(float64(succeeded))
	m.batchItems.WithLabelValues(direction, ResultError).Add(float64(failed))
}

// RecordValidation учитывает результаты проверки позиций.
func (m *StockMetrics) RecordValidation(valid, invalid int) {
	if m == nil {
		return
	}
	m.validationItems.WithLabelValues(ResultOK).Add(float64(valid))
	m.validationItems.WithLabelValues(ResultRejected).Add(float64(invalid))
}

// RecordTransition учитывает запрошенную смену статуса заказа.
func (m *StockMetrics) RecordTransition(to, result string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий журнала заказа.
func (m *StockMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent учитывает событие, записанное в outbox.
func (m *StockMetrics) RecordOutboxEvent(eventType string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(eventType).Inc()
}

// RecordPaymentEvent учитывает платёжное уведомление (webhook или kafka).
func (m *StockMetrics) RecordPaymentEvent(source, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(source, result).Inc()
}

// RecordCacheLookup учитывает попадание (hit) или промах (miss) кэша.
func (m *StockMetrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
