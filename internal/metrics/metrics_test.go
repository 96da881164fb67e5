package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"depthwatch/internal/channel"
	"depthwatch/logger"
	"depthwatch/models"
)

func TestObserveClassificationSetsGauges(t *testing.T) {
	ObserveClassification("TESTUSDT", 40, 10, 0.25)

	if got := testutil.ToFloat64(humanRatio.WithLabelValues("TESTUSDT")); got != 0.25 {
		t.Fatalf("expected ratio 0.25, got %v", got)
	}
	if got := testutil.ToFloat64(levels.WithLabelValues("TESTUSDT", "bot")); got != 30 {
		t.Fatalf("expected 30 bot levels, got %v", got)
	}
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(updatesApplied.WithLabelValues("CNTUSDT", "stream"))
	UpdateApplied("CNTUSDT", "stream")
	UpdateApplied("CNTUSDT", "stream")
	if got := testutil.ToFloat64(updatesApplied.WithLabelValues("CNTUSDT", "stream")); got != before+2 {
		t.Fatalf("expected %v, got %v", before+2, got)
	}

	Flush("CNTUSDT", false)
	if got := testutil.ToFloat64(flushes.WithLabelValues("CNTUSDT", "error")); got < 1 {
		t.Fatalf("expected error flush to be counted")
	}
}

func TestEmitDropMetricCountsMalformed(t *testing.T) {
	before := testutil.ToFloat64(malformedMessages.WithLabelValues("missing_field"))
	EmitDropMetric(logger.GetLogger(), DropMetricMalformed, "", "missing_field")
	EmitDropMetric(logger.GetLogger(), DropMetricUnknownSymbol, "DOGEUSDT", "")
	if got := testutil.ToFloat64(malformedMessages.WithLabelValues("missing_field")); got != before+1 {
		t.Fatalf("expected malformed counter to increase by one, got %v", got-before)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	SetConnectorState(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "depthwatch_connector_state 3") {
		t.Fatalf("expected connector state in exposition, got:\n%s", body)
	}
}

func TestReportChannelTracksBlockedDelta(t *testing.T) {
	ch := channel.NewChannels(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ch.SendUpdate(ctx, models.DepthUpdate{Symbol: "BTCUSDT"})
	// second send finds the buffer full and blocks until ctx expires
	ch.SendUpdate(ctx, models.DepthUpdate{Symbol: "BTCUSDT"})

	before := testutil.ToFloat64(channelBlocked)
	last := reportChannel(logger.GetLogger(), ch, 0)
	if last != 1 {
		t.Fatalf("expected one blocked send, got %d", last)
	}
	if got := testutil.ToFloat64(channelBlocked); got != before+1 {
		t.Fatalf("expected blocked counter +1, got %v", got-before)
	}
	if got := testutil.ToFloat64(channelLength); got != 1 {
		t.Fatalf("expected channel length 1, got %v", got)
	}

	reportChannel(logger.GetLogger(), ch, last)
	if got := testutil.ToFloat64(channelBlocked); got != before+1 {
		t.Fatalf("blocked counter must not double count")
	}
}

func TestReportUsedWeight(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "42")

	used, ok := ReportUsedWeight(logger.GetLogger(), header, "BTCUSDT", 20)
	if !ok || used != 42 {
		t.Fatalf("expected 42, got %v ok=%v", used, ok)
	}

	if _, ok := ReportUsedWeight(logger.GetLogger(), http.Header{}, "BTCUSDT", 20); ok {
		t.Fatalf("expected no metric without header")
	}
}

func TestDepthSnapshotWeight(t *testing.T) {
	cases := map[int]int64{20: 5, 100: 5, 500: 25, 1000: 50, 5000: 250}
	for limit, want := range cases {
		if got := depthSnapshotWeight(limit); got != want {
			t.Fatalf("limit %d: expected %d, got %d", limit, want, got)
		}
	}
}

func TestWeightTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "7")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		if m.Name == "used_weight" {
			events <- m
		}
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	client := &http.Client{Transport: &WeightTransport{DepthLimit: 20}}
	resp, err := client.Get(srv.URL + "/api/v3/depth?symbol=ETHUSDT")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	select {
	case m := <-events:
		if m.Fields["symbol"] != "ETHUSDT" {
			t.Fatalf("unexpected fields %v", m.Fields)
		}
	case <-time.After(time.Second):
		t.Fatal("used weight metric not emitted")
	}
}
