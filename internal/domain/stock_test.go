package domain

import "testing"

func TestStockChangeTypeValid(t *testing.T) {
	tests := []struct {
		name string
		typ  StockChangeType
		want bool
	}{
		{name: "purchase", typ: StockChangePurchase, want: true},
		{name: "refund", typ: StockChangeRefund, want: true},
		{name: "adjustment", typ: StockChangeAdjustment, want: true},
		{name: "restock", typ: StockChangeRestock, want: true},
		{name: "damage", typ: StockChangeDamage, want: true},
		{name: "lowercase", typ: StockChangeType("purchase"), want: false},
		{name: "empty", typ: "", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.typ.Valid(); got != tc.want {
				t.Fatalf("type %q valid=%v, want %v", tc.typ, got, tc.want)
			}
		})
	}
}

func TestStockHistoryRecordConsistent(t *testing.T) {
	ok := StockHistoryRecord{Quantity: -10, PreviousStock: 50, NewStock: 40}
	if !ok.Consistent() {
		t.Fatal("expected record to be consistent")
	}

	broken := StockHistoryRecord{Quantity: -10, PreviousStock: 50, NewStock: 41}
	if broken.Consistent() {
		t.Fatal("expected arithmetic mismatch to be detected")
	}

	negative := StockHistoryRecord{Quantity: -10, PreviousStock: 5, NewStock: -5}
	if negative.Consistent() {
		t.Fatal("expected negative stock to be rejected")
	}
}

func TestHistoryFilterMatches(t *testing.T) {
	record := StockHistoryRecord{ProductID: "p1", VariantID: "v1", OrderID: "o1"}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   bool
	}{
		{name: "empty", filter: HistoryFilter{}, want: true},
		{name: "product", filter: HistoryFilter{ProductID: "p1"}, want: true},
		{name: "other product", filter: HistoryFilter{ProductID: "p2"}, want: false},
		{name: "variant", filter: HistoryFilter{VariantID: "v1"}, want: true},
		{name: "order mismatch", filter: HistoryFilter{ProductID: "p1", OrderID: "o2"}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(record); got != tc.want {
				t.Fatalf("Matches()=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeliveryStatusValid(t *testing.T) {
	for _, s := range []DeliveryStatus{DeliveryStatusProcessing, DeliveryStatusDone, DeliveryStatusFailed} {
		if !s.Valid() {
			t.Fatalf("status %q expected valid", s)
		}
	}
	if DeliveryStatus("broken").Valid() {
		t.Fatal("unexpected valid status")
	}
}
