package models

import (
	"testing"
	"time"
)

func TestOrderBookCloneIsDeep(t *testing.T) {
	book := OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []PriceLevel{{Price: "100", Quantity: "1", Total: 100}},
		Asks:   []PriceLevel{{Price: "101", Quantity: "2", Total: 202}},
	}
	clone := book.Clone()
	clone.Bids[0].Price = "99"
	clone.Asks = append(clone.Asks, PriceLevel{Price: "102"})

	if book.Bids[0].Price != "100" {
		t.Fatalf("clone shares bid storage with original")
	}
	if len(book.Asks) != 1 {
		t.Fatalf("clone shares ask storage with original")
	}
}

func TestClassificationHumanRatio(t *testing.T) {
	if got := (ClassificationResult{}).HumanRatio(); got != 0 {
		t.Fatalf("empty result ratio = %v, want 0", got)
	}
	r := ClassificationResult{TotalOrders: 4, HumanOrders: 1}
	if got := r.HumanRatio(); got != 0.25 {
		t.Fatalf("ratio = %v, want 0.25", got)
	}
}

func TestAnalysisRecordTime(t *testing.T) {
	rec := AnalysisRecord{Timestamp: 1700000000}
	if !rec.Time().Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected time %v", rec.Time())
	}
}
