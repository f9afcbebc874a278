package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
	deliveryKeyPrefix    = "grpc:"
)

type idempotencyErrorPayload struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на ключ из метаданных
// idempotency-key. Повтор с тем же телом получает сохранённый ответ. Без ключа
// handler вызывается как обычно.
func withIdempotency[T any](
	s *StockServer,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.deliveries == nil {
		return handler(ctx)
	}
	key, ok := readIdempotencyKey(ctx)
	if !ok {
		return handler(ctx)
	}
	deliveryKey := deliveryKeyPrefix + key
	entry := s.logger.WithField("idempotency_key", key)

	hash, err := requestHash(method, req)
	if err != nil {
		entry.WithError(err).Warn("failed to hash request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.deliveries.Begin(ctx, deliveryKey, hash, s.now().Add(idempotencyTTL))
	if err != nil {
		return replay[T](s, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		st := status.Convert(runErr)
		payload, _ := json.Marshal(idempotencyErrorPayload{Code: uint32(st.Code()), Message: st.Message()})
		if err := s.deliveries.Finish(ctx, deliveryKey, domain.DeliveryStatusFailed, payload, int(st.Code())); err != nil {
			entry.WithError(err).Warn("failed to store idempotent failure")
		}
		return nil, runErr
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = s.deliveries.Finish(ctx, deliveryKey, domain.DeliveryStatusDone, body, int(codes.OK))
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}
	return resp, nil
}

func replay[T any](s *StockServer, beginErr error, record domain.Delivery) (*T, error) {
	switch {
	case errors.Is(beginErr, domain.ErrDeliveryHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(beginErr, domain.ErrDeliveryDuplicate):
		switch record.Status {
		case domain.DeliveryStatusDone:
			resp := new(T)
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.DeliveryStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		default:
			return nil, decodeFailure(record)
		}
	case errors.Is(beginErr, domain.ErrDeliveryKeyRequired), errors.Is(beginErr, domain.ErrDeliveryHashRequired):
		return nil, status.Error(codes.InvalidArgument, beginErr.Error())
	default:
		s.logger.WithError(beginErr).Warn("failed to register idempotency key")
		return nil, status.Error(codes.Unavailable, "failed to initialize idempotency request")
	}
}

func decodeFailure(record domain.Delivery) error {
	var payload idempotencyErrorPayload
	if err := json.Unmarshal(record.ResponseBody, &payload); err == nil && payload.Code != 0 && payload.Code <= uint32(codes.Unauthenticated) {
		return status.Error(codes.Code(payload.Code), payload.Message)
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func readIdempotencyKey(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get(idempotencyKeyHeader) {
		if key := strings.TrimSpace(value); key != "" {
			return key, true
		}
	}
	return "", false
}

func requestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(append([]byte(method+":"), data...))
	return hex.EncodeToString(sum[:]), nil
}
