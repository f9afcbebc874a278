package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

const defaultDeliveryTTL = 24 * time.Hour

type deliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создаёт PostgreSQL-реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store) domain.DeliveryRepository {
	return &deliveryRepository{db: store.DB()}
}

// Begin регистрирует уведомление. Упавшая ранее доставка переводится обратно в processing.
func (r *deliveryRepository) Begin(ctx context.Context, key, requestHash string, expiresAt time.Time) (domain.Delivery, error) {
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			key, request_hash, status, response_body, http_status, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,NULL,NULL,$4,$5,$5)
		ON CONFLICT (key) DO UPDATE
		SET status = EXCLUDED.status,
		    response_body = NULL,
		    http_status = NULL,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE webhook_deliveries.status = $6
		  AND webhook_deliveries.request_hash = EXCLUDED.request_hash
	`, key, requestHash, string(domain.DeliveryStatusProcessing), expiresAt, now, string(domain.DeliveryStatusFailed))
	if err != nil {
		return domain.Delivery{}, storeError("begin webhook delivery", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Delivery{}, storeError("webhook delivery rows affected", err)
	}
	if affected == 0 {
		existing, getErr := r.Get(ctx, key)
		if domain.IsStoreFailure(getErr) {
			return domain.Delivery{}, getErr
		}
		if getErr != nil {
			return domain.Delivery{}, domain.ErrDeliveryDuplicate
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrDeliveryHashMismatch
		}
		return existing, domain.ErrDeliveryDuplicate
	}

	return domain.Delivery{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.DeliveryStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *deliveryRepository) Get(ctx context.Context, key string) (domain.Delivery, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Delivery{}, domain.ErrDeliveryKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record     domain.Delivery
		status     string
		httpStatus sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, status, response_body, http_status, expires_at, created_at, updated_at
		FROM webhook_deliveries
		WHERE key = $1
	`, key).Scan(
		&record.Key, &record.RequestHash, &status, &record.ResponseBody, &httpStatus,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Delivery{}, domain.ErrDeliveryNotFound
		}
		return domain.Delivery{}, storeError("get webhook delivery", err)
	}

	record.Status = domain.DeliveryStatus(status)
	if !record.Status.Valid() {
		return domain.Delivery{}, fmt.Errorf("invalid delivery status %q for key %s", status, key)
	}
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	return record, nil
}

func (r *deliveryRepository) Finish(ctx context.Context, key string, status domain.DeliveryStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrDeliveryKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1,
		    response_body = $2,
		    http_status = $3,
		    updated_at = $4
		WHERE key = $5
	`, string(status), responseBody, httpStatus, time.Now().UTC(), key)
	if err != nil {
		return storeError("finish webhook delivery", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("webhook delivery rows affected", err)
	}
	if affected == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func (r *deliveryRepository) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM webhook_deliveries
			WHERE key IN (
				SELECT key
				FROM webhook_deliveries
				WHERE expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE expires_at <= $1`, before)
	}
	if err != nil {
		return 0, storeError("purge webhook deliveries", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("webhook delivery rows affected", err)
	}
	return int(affected), nil
}

var _ domain.DeliveryRepository = (*deliveryRepository)(nil)
