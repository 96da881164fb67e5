package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"depthwatch/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func TestWindowEvictsOldSamples(t *testing.T) {
	w := NewWindow(5 * time.Second)
	w.Record("BTCUSDT", 10, 1, at(0))
	w.Record("BTCUSDT", 20, 2, at(1))
	w.Record("BTCUSDT", 30, 3, at(2))
	w.Record("BTCUSDT", 40, 4, at(6))

	if got := w.Len("BTCUSDT"); got != 3 {
		t.Fatalf("window length = %d, want 3 (t=1,2,6)", got)
	}
	total, human, ok := w.Average("BTCUSDT")
	if !ok {
		t.Fatal("expected samples in window")
	}
	if total != 30 || human != 3 {
		t.Fatalf("average = (%v, %v), want (30, 3)", total, human)
	}
}

func TestWindowAverageEmpty(t *testing.T) {
	w := NewWindow(0)
	if _, _, ok := w.Average("ETHUSDT"); ok {
		t.Fatal("empty window reported an average")
	}
}

func TestWindowSymbolsAreIndependent(t *testing.T) {
	w := NewWindow(5 * time.Second)
	w.Record("BTCUSDT", 10, 5, at(0))
	w.Record("ETHUSDT", 2, 0, at(0))
	total, _, _ := w.Average("BTCUSDT")
	if total != 10 {
		t.Fatalf("BTCUSDT average polluted: %v", total)
	}
}

func TestBuildRecord(t *testing.T) {
	rec := BuildRecord("BTCUSDT", 39.8, 12.6, at(0))
	if rec.TotalOrders != 39 || rec.HumanOrders != 12 || rec.BotOrders != 27 {
		t.Fatalf("unexpected counts: %+v", rec)
	}
	if rec.HumanRatio != 12.6/39.8 {
		t.Fatalf("ratio = %v", rec.HumanRatio)
	}
	if rec.Timestamp != t0.Unix() {
		t.Fatalf("timestamp = %d", rec.Timestamp)
	}

	zero := BuildRecord("BTCUSDT", 0, 0, at(0))
	if zero.HumanRatio != 0 {
		t.Fatalf("zero total ratio = %v, want 0", zero.HumanRatio)
	}
}

type fakeSink struct {
	records []models.AnalysisRecord
	err     error
}

func (f *fakeSink) Insert(_ context.Context, rec models.AnalysisRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

func TestFlusherWaitsForInterval(t *testing.T) {
	w := NewWindow(5 * time.Second)
	sink := &fakeSink{}
	f := NewFlusher(w, sink, 5*time.Second, []string{"BTCUSDT"}, at(0))

	w.Record("BTCUSDT", 4, 2, at(1))
	if out := f.FlushDue(context.Background(), at(4)); len(out) != 0 {
		t.Fatalf("flushed before interval: %+v", out)
	}
	out := f.FlushDue(context.Background(), at(5))
	if len(out) != 1 || len(sink.records) != 1 {
		t.Fatalf("expected one flush, got %+v", out)
	}
	if sink.records[0].HumanRatio != 0.5 {
		t.Fatalf("ratio = %v, want 0.5", sink.records[0].HumanRatio)
	}
	if !f.LastFlush("BTCUSDT").Equal(at(5)) {
		t.Fatalf("clock not reset")
	}
}

func TestFlusherEmptyWindowKeepsClock(t *testing.T) {
	w := NewWindow(5 * time.Second)
	sink := &fakeSink{}
	f := NewFlusher(w, sink, 5*time.Second, []string{"BTCUSDT"}, at(0))

	if out := f.FlushDue(context.Background(), at(6)); len(out) != 0 {
		t.Fatalf("flushed an empty window")
	}
	if !f.LastFlush("BTCUSDT").Equal(at(0)) {
		t.Fatalf("empty window reset the clock")
	}

	w.Record("BTCUSDT", 2, 1, at(7))
	if out := f.FlushDue(context.Background(), at(7)); len(out) != 1 {
		t.Fatalf("expected flush as soon as a sample exists")
	}
}

func TestFlusherResetsClockOnInsertError(t *testing.T) {
	w := NewWindow(5 * time.Second)
	sink := &fakeSink{err: errors.New("disk full")}
	f := NewFlusher(w, sink, 5*time.Second, []string{"BTCUSDT"}, at(0))
	w.Record("BTCUSDT", 2, 1, at(5))

	out := f.FlushDue(context.Background(), at(5))
	if len(out) != 1 || out[0].Err == nil {
		t.Fatalf("expected failed flush outcome, got %+v", out)
	}
	if !f.LastFlush("BTCUSDT").Equal(at(5)) {
		t.Fatalf("failed insert did not reset the clock")
	}
	if out := f.FlushDue(context.Background(), at(6)); len(out) != 0 {
		t.Fatalf("failed record retried early")
	}
}
