package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"depthwatch/config"
	"depthwatch/models"
	"depthwatch/processor"
)

type fakeSource struct {
	symbols []string
	views   map[string]processor.View
	records map[string]models.AnalysisRecord
	trend   []processor.TrendPoint
}

func (f *fakeSource) Symbols() []string { return f.symbols }

func (f *fakeSource) Latest(symbol string) (processor.View, bool) {
	v, ok := f.views[symbol]
	return v, ok
}

func (f *fakeSource) LatestRecord(_ context.Context, symbol string) (models.AnalysisRecord, bool, error) {
	r, ok := f.records[symbol]
	return r, ok, nil
}

func (f *fakeSource) Trend(_ context.Context, _ string, limit int) ([]processor.TrendPoint, error) {
	if len(f.trend) > limit {
		return f.trend[len(f.trend)-limit:], nil
	}
	return f.trend, nil
}

func newSource() *fakeSource {
	return &fakeSource{
		symbols: []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"},
		views:   map[string]processor.View{},
		records: map[string]models.AnalysisRecord{},
	}
}

func TestNextWraps(t *testing.T) {
	c := New(config.ConsoleConfig{}, newSource(), strings.NewReader(""), &bytes.Buffer{})

	if got := c.Current(); got != "BTCUSDT" {
		t.Fatalf("initial symbol = %s", got)
	}
	want := []string{"ETHUSDT", "BNBUSDT", "BTCUSDT"}
	for i, w := range want {
		if got := c.Next(); got != w {
			t.Fatalf("step %d: got %s want %s", i, got, w)
		}
	}
}

func TestRenderShowsLiveAndPersistedState(t *testing.T) {
	src := newSource()
	src.views["BTCUSDT"] = processor.View{
		Symbol: "BTCUSDT",
		Result: models.ClassificationResult{
			TotalOrders:   10,
			HumanOrders:   4,
			HumanPatterns: []string{"h1", "h2", "h3", "h4", "h5"},
			BotPatterns:   []string{"b1"},
		},
	}
	src.records["BTCUSDT"] = models.AnalysisRecord{Symbol: "BTCUSDT", Timestamp: 1700000000, TotalOrders: 10, HumanOrders: 4, BotOrders: 6, HumanRatio: 0.4}
	src.trend = []processor.TrendPoint{{Timestamp: 1, HumanPct: 25}, {Timestamp: 2, HumanPct: 40}}

	var out bytes.Buffer
	c := New(config.ConsoleConfig{HistoryPoints: 10}, src, strings.NewReader(""), &out)
	c.Render(context.Background())

	text := out.String()
	for _, want := range []string{
		"== BTCUSDT (1/3)",
		"total 10  human 4 (40.0%)  bot 6 (60.0%)",
		"h3",
		"... 2 more",
		"b1",
		"last flush: 2023-11-14T22:13:20Z  human 40.0% (4/10)",
		"trend (human %, oldest first): 25 40",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("render missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "h4") {
		t.Fatalf("render should cap patterns:\n%s", text)
	}
}

func TestRenderBeforeFirstClassification(t *testing.T) {
	var out bytes.Buffer
	c := New(config.ConsoleConfig{}, newSource(), strings.NewReader(""), &out)
	c.Render(context.Background())

	if !strings.Contains(out.String(), "waiting for first classification") || !strings.Contains(out.String(), "last flush: none yet") {
		t.Fatalf("unexpected render:\n%s", out.String())
	}
}

func TestRunHandlesCommands(t *testing.T) {
	var out bytes.Buffer
	c := New(config.ConsoleConfig{RefreshInterval: time.Hour}, newSource(), strings.NewReader("n\n\nN\nq\n"), &out)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
	if got := c.Current(); got != "BNBUSDT" {
		t.Fatalf("expected two advances, got %s", got)
	}
	if !strings.Contains(out.String(), "== BNBUSDT (3/3)") {
		t.Fatalf("expected render after switching:\n%s", out.String())
	}
}

func TestRunStopsOnCancelAfterInputEnds(t *testing.T) {
	c := New(config.ConsoleConfig{RefreshInterval: 5 * time.Millisecond}, newSource(), strings.NewReader(""), &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
}
