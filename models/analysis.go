package models

import "time"

const (
	SideBid = "bid"
	SideAsk = "ask"
)

// LevelVerdict is the classifier output for a single price level.
type LevelVerdict struct {
	Side       string   `json:"side"`
	Price      string   `json:"price"`
	Quantity   string   `json:"quantity"`
	Score      float64  `json:"score"`
	Human      bool     `json:"human"`
	Indicators []string `json:"indicators,omitempty"`
}

// ClassificationResult summarises one pass of the classifier over a book.
type ClassificationResult struct {
	Symbol        string             `json:"symbol"`
	Scores        map[string]float64 `json:"scores"`
	Levels        []LevelVerdict     `json:"levels"`
	HumanPatterns []string           `json:"human_patterns"`
	BotPatterns   []string           `json:"bot_patterns"`
	TotalOrders   int                `json:"total_orders"`
	HumanOrders   int                `json:"human_orders"`
	ClassifiedAt  time.Time          `json:"classified_at"`
}

// HumanRatio is human/total, or 0 for an empty book.
func (r ClassificationResult) HumanRatio() float64 {
	if r.TotalOrders == 0 {
		return 0
	}
	return float64(r.HumanOrders) / float64(r.TotalOrders)
}

// AggregationSample is one (total, human) observation kept by the rolling window.
type AggregationSample struct {
	ObservedAt  time.Time
	TotalOrders int
	HumanOrders int
}

// AnalysisRecord is the row persisted on every flush.
type AnalysisRecord struct {
	ID          int64   `json:"id,omitempty"`
	Symbol      string  `json:"symbol"`
	Timestamp   int64   `json:"timestamp"`
	TotalOrders int64   `json:"total_orders"`
	HumanOrders int64   `json:"human_orders"`
	BotOrders   int64   `json:"bot_orders"`
	HumanRatio  float64 `json:"human_ratio"`
}

// Time returns the record timestamp as a UTC time.
func (r AnalysisRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}
