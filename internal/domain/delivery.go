package domain

import (
	"context"
	"errors"
	"time"
)

// DeliveryStatus — состояние обработки входящего платёжного уведомления.
type DeliveryStatus string

const (
	// DeliveryStatusProcessing — уведомление принято и обрабатывается.
	DeliveryStatusProcessing DeliveryStatus = "processing"
	// DeliveryStatusDone — обработано, ответ сохранён для повторов.
	DeliveryStatusDone DeliveryStatus = "done"
	// DeliveryStatusFailed — обработка завершилась ошибкой, повтор разрешён.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusProcessing, DeliveryStatusDone, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrDeliveryKeyRequired — у уведомления нет ключа доставки.
	ErrDeliveryKeyRequired = errors.New("delivery key is required")
	// ErrDeliveryHashRequired — не посчитан хеш тела уведомления.
	ErrDeliveryHashRequired = errors.New("delivery request hash is required")
	// ErrDeliveryNotFound — запись о доставке не найдена.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrDeliveryDuplicate — уведомление с этим ключом уже принималось.
	ErrDeliveryDuplicate = errors.New("delivery already registered")
	// ErrDeliveryHashMismatch — ключ повторно использован с другим телом.
	ErrDeliveryHashMismatch = errors.New("delivery key reused with different payload")
)

// Delivery — запись о входящем уведомлении платёжного шлюза.
// Позволяет отвечать на повторные доставки сохранённым результатом.
type Delivery struct {
	Key          string
	RequestHash  string
	Status       DeliveryStatus
	ResponseBody []byte
	HTTPStatus   int
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeliveryRepository хранит состояние обработки уведомлений по ключу доставки.
type DeliveryRepository interface {
	// Begin регистрирует уведомление. ErrDeliveryDuplicate или ErrDeliveryHashMismatch
	// возвращаются вместе с уже существующей записью.
	Begin(ctx context.Context, key, requestHash string, expiresAt time.Time) (Delivery, error)
	Get(ctx context.Context, key string) (Delivery, error)
	// Finish фиксирует итог обработки и ответ.
	Finish(ctx context.Context, key string, status DeliveryStatus, responseBody []byte, httpStatus int) error
	// Purge удаляет до limit записей с ExpiresAt <= before.
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}

// IsDeliveryConflict сообщает, что уведомление уже регистрировалось.
func IsDeliveryConflict(err error) bool {
	return errors.Is(err, ErrDeliveryDuplicate) || errors.Is(err, ErrDeliveryHashMismatch)
}
