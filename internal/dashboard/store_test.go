package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"depthwatch/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}

	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "test", "foo": "bar"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}

	if snapshot[0].Component != "test" || snapshot[0].Fields["foo"] != "bar" {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}

	snapshot = store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}

func TestMetricStoreFilter(t *testing.T) {
	store := newMetricStore(10)
	store.handle(metrics.Metric{Component: "channel_buffers", Name: "update_buffer_length", Value: 1})
	store.handle(metrics.Metric{Component: "feed_drops", Name: "malformed_messages_dropped", Value: 1})
	store.handle(metrics.Metric{Component: "feed_drops", Name: "unknown_symbol_dropped", Symbol: "DOGEUSDT", Value: 1})

	if got := len(store.filter("feed_drops", "", "")); got != 2 {
		t.Fatalf("expected 2 feed_drops metrics, got %d", got)
	}
	if got := len(store.filter("", "update_buffer_length", "")); got != 1 {
		t.Fatalf("expected 1 metric by name, got %d", got)
	}
	if got := len(store.filter("", "", "")); got != 3 {
		t.Fatalf("expected unfiltered snapshot, got %d", got)
	}
	if got := store.filter("feed_drops", "", "doge-usdt"); len(got) != 1 || got[0].Name != "unknown_symbol_dropped" {
		t.Fatalf("expected drop metric for DOGEUSDT, got %v", got)
	}
	if got := len(store.snapshot()); got != 3 {
		t.Fatalf("filter must not modify the store, got %d", got)
	}
}

func TestLogStoreFilterByLevel(t *testing.T) {
	store := newLogStore(10)
	for _, lvl := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel} {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = lvl
		entry.Message = lvl.String()
		entry.Data = logrus.Fields{"component": "binance_connector", "symbol": "BTCUSDT"}
		_ = store.Fire(entry)
	}

	if got := len(store.filter("warning", "", "")); got != 2 {
		t.Fatalf("expected warn and error entries, got %d", got)
	}
	if got := len(store.filter("", "analyzer", "")); got != 0 {
		t.Fatalf("expected no entries for other component, got %d", got)
	}
	if got := len(store.filter("bogus", "binance_connector", "")); got != 4 {
		t.Fatalf("unknown level should not filter, got %d", got)
	}
	if got := len(store.filter("", "", "ethusdt")); got != 0 {
		t.Fatalf("expected no entries for ETHUSDT, got %d", got)
	}
	if got := len(store.filter("error", "", "btcusdt")); got != 1 {
		t.Fatalf("expected one error entry for BTCUSDT, got %d", got)
	}
}
