package aggregator

import (
	"sync"
	"time"

	"depthwatch/models"
)

// DefaultHorizon is how long a sample stays in the rolling window.
const DefaultHorizon = 5 * time.Second

// Window keeps a rolling set of (total, human) samples per symbol. A sample
// survives while its age is at most the horizon.
type Window struct {
	mu      sync.Mutex
	horizon time.Duration
	samples map[string][]models.AggregationSample
}

func NewWindow(horizon time.Duration) *Window {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Window{
		horizon: horizon,
		samples: make(map[string][]models.AggregationSample),
	}
}

// Record appends a sample for symbol and evicts the ones that fell out of
// the horizon as of now.
func (w *Window) Record(symbol string, total, human int, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	samples := append(w.samples[symbol], models.AggregationSample{
		ObservedAt:  now,
		TotalOrders: total,
		HumanOrders: human,
	})

	cutoff := now.Add(-w.horizon)
	keep := 0
	for keep < len(samples) && samples[keep].ObservedAt.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		samples = append(samples[:0], samples[keep:]...)
	}
	w.samples[symbol] = samples
}

// Average returns the mean total and human counts over the window. ok is
// false when the window holds no samples.
func (w *Window) Average(symbol string) (avgTotal, avgHuman float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	samples := w.samples[symbol]
	if len(samples) == 0 {
		return 0, 0, false
	}
	var total, human int
	for _, s := range samples {
		total += s.TotalOrders
		human += s.HumanOrders
	}
	n := float64(len(samples))
	return float64(total) / n, float64(human) / n, true
}

// Len reports how many samples symbol currently holds.
func (w *Window) Len(symbol string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples[symbol])
}

// BuildRecord turns window averages into a persisted record. Counts are
// truncated toward zero; the ratio is 0 when avgTotal is 0.
func BuildRecord(symbol string, avgTotal, avgHuman float64, at time.Time) models.AnalysisRecord {
	ratio := 0.0
	if avgTotal > 0 {
		ratio = avgHuman / avgTotal
	}
	return models.AnalysisRecord{
		Symbol:      symbol,
		Timestamp:   at.Unix(),
		TotalOrders: int64(avgTotal),
		HumanOrders: int64(avgHuman),
		BotOrders:   int64(avgTotal - avgHuman),
		HumanRatio:  ratio,
	}
}
