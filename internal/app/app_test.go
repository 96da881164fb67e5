package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/writer"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	return NewApp(&cfg, logger.GetLogger())
}

func TestOpenSinkMemoryByDefault(t *testing.T) {
	a := newTestApp(t)

	sink, err := a.openSink(context.Background())
	if err != nil {
		t.Fatalf("openSink: %v", err)
	}
	if _, ok := sink.(*writer.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", sink)
	}
}

func TestOpenSinkRejectsUnknownDriver(t *testing.T) {
	a := newTestApp(t)
	a.Config.Storage.Driver = "sqlite"

	if _, err := a.openSink(context.Background()); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenSinkPostgresFailureIsFatal(t *testing.T) {
	a := newTestApp(t)
	a.Config.Storage.Driver = "postgres"
	a.Config.Storage.Postgres.DSN = ""

	if _, err := a.openSink(context.Background()); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres error, got %v", err)
	}
}

func TestOpenPublishersDisabled(t *testing.T) {
	a := newTestApp(t)

	pubs, err := a.openPublishers(context.Background())
	if err != nil || len(pubs) != 0 {
		t.Fatalf("expected no publishers, got %v %v", pubs, err)
	}
}

func TestOpenPublishersKafkaWithoutBrokers(t *testing.T) {
	a := newTestApp(t)
	a.Config.Archive.Kafka.Enabled = true
	a.Config.Archive.Kafka.Brokers = nil

	if _, err := a.openPublishers(context.Background()); err == nil {
		t.Fatalf("expected kafka error")
	}
}

func TestHistoryValidatesOptions(t *testing.T) {
	a := newTestApp(t)

	if err := a.History(context.Background(), &bytes.Buffer{}, HistoryOptions{Symbol: "", Limit: 5}); err == nil {
		t.Fatalf("expected error without symbol")
	}
	if err := a.History(context.Background(), &bytes.Buffer{}, HistoryOptions{Symbol: "BTCUSDT", Limit: 0}); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestHistoryEmptyStore(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer

	if err := a.History(context.Background(), &out, HistoryOptions{Symbol: "btc-usdt", Limit: 5}); err != nil {
		t.Fatalf("History: %v", err)
	}
	if !strings.Contains(out.String(), "no records found for BTCUSDT") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
