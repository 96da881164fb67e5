package models

import (
	"time"
)

// UpdateSource tells whether a depth update came from the REST snapshot or the live stream.
type UpdateSource string

const (
	SourceSnapshot UpdateSource = "snapshot"
	SourceStream   UpdateSource = "stream"
)

// Level is a raw price level exactly as the exchange sent it.
type Level struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// DepthUpdate carries the full top-of-book for one symbol. Applying it replaces
// whatever the store held for that symbol.
type DepthUpdate struct {
	Symbol        string       `json:"symbol"`
	Bids          []Level      `json:"bids"`
	Asks          []Level      `json:"asks"`
	FirstUpdateID int64        `json:"first_update_id,omitempty"`
	UpdateID      int64        `json:"update_id"`
	Source        UpdateSource `json:"source"`
	ReceivedAt    time.Time    `json:"received_at"`
}

// PriceLevel is a level that survived parsing. Total is price * quantity.
type PriceLevel struct {
	Price    string  `json:"price"`
	Quantity string  `json:"quantity"`
	Total    float64 `json:"total"`
}

// OrderBook is the current view of one symbol. Bids are sorted by descending
// price, asks by ascending price.
type OrderBook struct {
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	LastUpdate   time.Time    `json:"last_update"`
	LastUpdateID int64        `json:"last_update_id"`
}

// Clone returns a deep copy safe to hand to readers on other goroutines.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return out
}
