package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/service/lifecycle"
)

const (
	// DeliveryIDHeader — уникальный идентификатор доставки уведомления от шлюза.
	DeliveryIDHeader = "X-Delivery-ID"
	// ReplayedHeader выставляется, когда ответ взят из сохранённой доставки.
	ReplayedHeader = "X-Delivery-Replayed"

	webhookSource      = "webhook"
	deliveryKeyPrefix  = "webhook:"
	defaultDeliveryTTL = 72 * time.Hour
	maxBodyBytes       = 1 << 20
)

// События, которые принимает webhook.
const (
	EventCaptured = "captured"
	EventRefunded = "refunded"
)

// PaymentProcessor применяет события оплаты и возврата к заказу.
type PaymentProcessor interface {
	ProcessOrderPayment(ctx context.Context, orderID string) lifecycle.Result
	ProcessOrderRefund(ctx context.Context, orderID string) lifecycle.Result
}

// PaymentNotification — тело уведомления платёжного шлюза.
type PaymentNotification struct {
	OrderID string `json:"order_id"`
	Event   string `json:"event"`
}

// WebhookResponse — ответ на уведомление. Сохраняется и отдаётся повторно
// при повторной доставке с тем же X-Delivery-ID.
type WebhookResponse struct {
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Статусы обработки уведомления.
const (
	webhookApplied  = "applied"
	webhookRejected = "rejected"
	webhookError    = "error"
)

// WebhookHandler принимает уведомления о платежах. Каждая доставка обрабатывается
// один раз; бизнес-отказы подтверждаются ответом 200, чтобы шлюз не повторял их.
type WebhookHandler struct {
	processor  PaymentProcessor
	deliveries domain.DeliveryRepository
	metrics    *metrics.StockMetrics
	logger     *log.Entry
	ttl        time.Duration
	now        func() time.Time
}

// NewWebhookHandler создаёт обработчик. deliveries обязателен.
func NewWebhookHandler(processor PaymentProcessor, deliveries domain.DeliveryRepository, m *metrics.StockMetrics, logger *log.Entry) *WebhookHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-webhook")
	}
	return &WebhookHandler{
		processor:  processor,
		deliveries: deliveries,
		metrics:    m,
		logger:     logger,
		ttl:        defaultDeliveryTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetDeliveryTTL задаёт срок хранения записей о доставках.
func (h *WebhookHandler) SetDeliveryTTL(ttl time.Duration) {
	if ttl > 0 {
		h.ttl = ttl
	}
}

// ServeHTTP обрабатывает POST /webhooks/payments.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deliveryID := strings.TrimSpace(r.Header.Get(DeliveryIDHeader))
	if deliveryID == "" {
		writeError(w, http.StatusBadRequest, DeliveryIDHeader+" header is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body is too large")
		return
	}

	notification, err := parseNotification(body)
	if err != nil {
		h.metrics.RecordPaymentEvent(webhookSource, metrics.ResultRejected)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := h.logger.WithFields(log.Fields{
		"delivery_id": deliveryID,
		"order_id":    notification.OrderID,
		"event":       notification.Event,
	})

	key := deliveryKeyPrefix + deliveryID
	record, err := h.deliveries.Begin(r.Context(), key, bodyHash(body), h.now().Add(h.ttl))
	if err != nil {
		h.replay(w, entry, err, record)
		return
	}

	code, resp := h.process(r.Context(), entry, notification)

	payload, err := json.Marshal(resp)
	if err != nil {
		entry.WithError(err).Error("failed to encode webhook response")
		code, payload = http.StatusInternalServerError, []byte(`{"status":"error"}`)
	}
	deliveryStatus := domain.DeliveryStatusDone
	if code >= http.StatusInternalServerError {
		deliveryStatus = domain.DeliveryStatusFailed
	}
	if err := h.deliveries.Finish(context.WithoutCancel(r.Context()), key, deliveryStatus, payload, code); err != nil {
		entry.WithError(err).Warn("failed to store delivery result")
	}

	writeRaw(w, code, payload)
}

func (h *WebhookHandler) process(ctx context.Context, entry *log.Entry, n PaymentNotification) (int, WebhookResponse) {
	var result lifecycle.Result
	switch n.Event {
	case EventCaptured:
		result = h.processor.ProcessOrderPayment(ctx, n.OrderID)
	case EventRefunded:
		result = h.processor.ProcessOrderRefund(ctx, n.OrderID)
	}

	resp := WebhookResponse{OrderID: n.OrderID, Message: result.Message}
	if result.Order.ID != "" {
		resp.OrderStatus = string(result.Order.Status)
	}

	switch {
	case result.Success:
		h.metrics.RecordPaymentEvent(webhookSource, metrics.ResultOK)
		entry.Info("payment notification applied")
		resp.Status = webhookApplied
		return http.StatusOK, resp
	case domain.IsStoreFailure(result.Err) || errors.Is(result.Err, context.DeadlineExceeded):
		h.metrics.RecordPaymentEvent(webhookSource, metrics.ResultError)
		entry.WithError(result.Err).Error("payment notification failed")
		resp.Status = webhookError
		resp.Message = "temporary failure, retry later"
		return http.StatusServiceUnavailable, resp
	default:
		h.metrics.RecordPaymentEvent(webhookSource, metrics.ResultRejected)
		entry.WithError(result.Err).Warn("payment notification rejected")
		resp.Status = webhookRejected
		return http.StatusOK, resp
	}
}

func (h *WebhookHandler) replay(w http.ResponseWriter, entry *log.Entry, beginErr error, record domain.Delivery) {
	switch {
	case errors.Is(beginErr, domain.ErrDeliveryHashMismatch):
		writeError(w, http.StatusConflict, "delivery id is already used with a different payload")
	case errors.Is(beginErr, domain.ErrDeliveryDuplicate):
		if record.Status != domain.DeliveryStatusDone {
			writeError(w, http.StatusConflict, "delivery is being processed")
			return
		}
		entry.Debug("replaying stored webhook response")
		w.Header().Set(ReplayedHeader, "true")
		code := record.HTTPStatus
		if code == 0 {
			code = http.StatusOK
		}
		writeRaw(w, code, record.ResponseBody)
	default:
		entry.WithError(beginErr).Error("failed to register delivery")
		writeError(w, http.StatusServiceUnavailable, "temporary failure, retry later")
	}
}

var errNotificationInvalid = errors.New("invalid payment notification")

func parseNotification(body []byte) (PaymentNotification, error) {
	var n PaymentNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return PaymentNotification{}, errNotificationInvalid
	}
	n.OrderID = strings.TrimSpace(n.OrderID)
	n.Event = strings.ToLower(strings.TrimSpace(n.Event))
	if n.OrderID == "" {
		return PaymentNotification{}, errors.New("order_id is required")
	}
	if n.Event != EventCaptured && n.Event != EventRefunded {
		return PaymentNotification{}, errors.New("event must be captured or refunded")
	}
	return n, nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func writeRaw(w http.ResponseWriter, code int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, WebhookResponse{Status: webhookError, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
