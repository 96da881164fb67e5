package aggregator

import (
	"context"
	"time"

	"depthwatch/logger"
	"depthwatch/models"
)

// Inserter is the part of the persistence sink the flusher needs.
type Inserter interface {
	Insert(ctx context.Context, rec models.AnalysisRecord) error
}

// FlushOutcome reports one flush attempt.
type FlushOutcome struct {
	Record models.AnalysisRecord
	Err    error
}

// Flusher writes one averaged record per symbol every interval. Each symbol
// has its own clock. The clock resets whenever an insert is attempted, even a
// failed one, and stays put when the window is empty.
type Flusher struct {
	window    *Window
	sink      Inserter
	interval  time.Duration
	lastFlush map[string]time.Time
	log       *logger.Log
}

func NewFlusher(window *Window, sink Inserter, interval time.Duration, symbols []string, start time.Time) *Flusher {
	if interval <= 0 {
		interval = DefaultHorizon
	}
	f := &Flusher{
		window:    window,
		sink:      sink,
		interval:  interval,
		lastFlush: make(map[string]time.Time, len(symbols)),
		log:       logger.GetLogger(),
	}
	for _, s := range symbols {
		f.lastFlush[s] = start
	}
	return f
}

// FlushDue attempts a flush for every symbol whose interval has elapsed.
func (f *Flusher) FlushDue(ctx context.Context, now time.Time) []FlushOutcome {
	var outcomes []FlushOutcome
	for symbol, last := range f.lastFlush {
		if now.Sub(last) < f.interval {
			continue
		}
		avgTotal, avgHuman, ok := f.window.Average(symbol)
		if !ok {
			continue
		}

		rec := BuildRecord(symbol, avgTotal, avgHuman, now)
		err := f.sink.Insert(ctx, rec)
		f.lastFlush[symbol] = now
		logger.IncrementFlush(err == nil)

		log := f.log.WithComponent("aggregator").WithFields(logger.Fields{
			"symbol":       symbol,
			"total_orders": rec.TotalOrders,
			"human_orders": rec.HumanOrders,
			"human_ratio":  rec.HumanRatio,
		})
		if err != nil {
			log.WithError(err).Error("failed to store analysis record")
		} else {
			log.Debug("analysis record stored")
		}
		outcomes = append(outcomes, FlushOutcome{Record: rec, Err: err})
	}
	return outcomes
}

// LastFlush returns when symbol was last flushed.
func (f *Flusher) LastFlush(symbol string) time.Time {
	return f.lastFlush[symbol]
}
