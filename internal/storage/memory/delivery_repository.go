package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

const defaultDeliveryTTL = 24 * time.Hour

type deliveryRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Delivery
}

// NewDeliveryRepository создаёт in-memory реализацию DeliveryRepository.
func NewDeliveryRepository() domain.DeliveryRepository {
	return &deliveryRepositoryInMemory{
		items: make(map[string]domain.Delivery),
	}
}

func (r *deliveryRepositoryInMemory) Begin(_ context.Context, key, requestHash string, expiresAt time.Time) (domain.Delivery, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.Delivery{}, domain.ErrDeliveryKeyRequired
	}
	if requestHash == "" {
		return domain.Delivery{}, domain.ErrDeliveryHashRequired
	}

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultDeliveryTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok {
		if existing.RequestHash != requestHash {
			return cloneDelivery(existing), domain.ErrDeliveryHashMismatch
		}
		// Упавшую доставку разрешаем обработать повторно.
		if existing.Status != domain.DeliveryStatusFailed {
			return cloneDelivery(existing), domain.ErrDeliveryDuplicate
		}
	}

	record := domain.Delivery{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.DeliveryStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[key] = record
	return cloneDelivery(record), nil
}

func (r *deliveryRepositoryInMemory) Get(_ context.Context, key string) (domain.Delivery, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Delivery{}, domain.ErrDeliveryKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[key]
	if !ok {
		return domain.Delivery{}, domain.ErrDeliveryNotFound
	}
	return cloneDelivery(record), nil
}

func (r *deliveryRepositoryInMemory) Finish(_ context.Context, key string, status domain.DeliveryStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrDeliveryKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrDeliveryNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = time.Now().UTC()
	r.items[key] = record
	return nil
}

func (r *deliveryRepositoryInMemory) Purge(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.items {
		if record.ExpiresAt.After(before) {
			continue
		}
		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func cloneDelivery(src domain.Delivery) domain.Delivery {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.DeliveryRepository = (*deliveryRepositoryInMemory)(nil)
