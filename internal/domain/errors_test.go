package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsufficientStockError(t *testing.T) {
	err := fmt.Errorf("decrease: %w", &InsufficientStockError{Name: "Widget", Requested: 10, Available: 3})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match ErrInsufficientStock")
	}

	var shortfall *InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatal("expected errors.As to extract InsufficientStockError")
	}
	if shortfall.Error() != "Widget: requested 10, available 3" {
		t.Fatalf("unexpected message: %q", shortfall.Error())
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		store    bool
		business bool
	}{
		{name: "nil", err: nil},
		{name: "store failure", err: fmt.Errorf("%w: conn reset", ErrStoreFailure), store: true},
		{name: "store conflict", err: ErrStoreConflict, store: true},
		{name: "insufficient", err: &InsufficientStockError{Name: "x"}, business: true},
		{name: "not found", err: ErrProductNotFound, business: true},
		{name: "already processed", err: ErrOrderAlreadyProcessed, business: true},
		{name: "already applied", err: ErrStockAlreadyApplied, business: true},
		{name: "unknown", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStoreFailure(tt.err); got != tt.store {
				t.Errorf("IsStoreFailure() = %v, want %v", got, tt.store)
			}
			if got := IsBusinessRejection(tt.err); got != tt.business {
				t.Errorf("IsBusinessRejection() = %v, want %v", got, tt.business)
			}
		})
	}
}

func TestIsDeliveryConflict(t *testing.T) {
	if !IsDeliveryConflict(ErrDeliveryDuplicate) || !IsDeliveryConflict(ErrDeliveryHashMismatch) {
		t.Fatal("expected delivery conflicts to be detected")
	}
	if IsDeliveryConflict(ErrDeliveryNotFound) {
		t.Fatal("not found is not a conflict")
	}
}
