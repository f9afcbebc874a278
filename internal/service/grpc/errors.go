package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/service/stock"
)

// codeFor сопоставляет доменную ошибку коду gRPC.
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrProductExists):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderAlreadyProcessed),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStockAlreadyApplied),
		errors.Is(err, stock.ErrBatchRolledBack):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrNegativeStock),
		errors.Is(err, domain.ErrStockTypeInvalid),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrDirectionInvalid),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrStatusInvalid):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrStoreConflict),
		errors.Is(err, domain.ErrOrderVersionConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrStoreFailure):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus превращает ошибку в status. Внутренние ошибки не раскрываются клиенту.
func toStatus(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codeFor(err)
	switch {
	case code == codes.Internal || code == codes.Unavailable:
		message = "stock store is unavailable"
		if code == codes.Internal {
			message = "internal error"
		}
	case message == "":
		message = err.Error()
	}
	return status.Error(code, message)
}
