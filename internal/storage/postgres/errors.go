package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

// Коды ошибок PostgreSQL, которые различает ledger.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// storeError оборачивает инфраструктурную ошибку в доменную классификацию.
// Конфликты сериализации отдаются как ErrStoreConflict: вызывающий может повторить.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreConflict, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreFailure, err)
	}
}
