package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"depthwatch/logger"
)

func captureCloudWatch(t *testing.T, interval time.Duration, now *time.Time) *[][]cwtypes.MetricDatum {
	t.Helper()

	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "Test"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	timeNow = func() time.Time { return *now }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(_ context.Context, _ *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	now := time.Now()
	batches := captureCloudWatch(t, 50*time.Millisecond, &now)

	metric := Metric{Component: "analyzer", Name: "human_ratio", Timestamp: now, Fields: logger.Fields{"symbol": "BTCUSDT", "unit": "percent"}}
	publishMetricDatum(metric, 1)

	now = now.Add(25 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != "human_ratio" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitPercent {
		t.Fatalf("unexpected unit %s", datum.Unit)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	now := time.Now()
	batches := captureCloudWatch(t, 50*time.Millisecond, &now)

	metric := Metric{Component: "analyzer", Name: "human_ratio", Timestamp: now, Fields: logger.Fields{"symbol": "BTCUSDT"}}
	publishMetricDatum(metric, 1)

	now = now.Add(75 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := (*batches)[1][0].Value; v == nil || *v != 2 {
		t.Fatalf("unexpected second value: %v", v)
	}
}

func TestPublishMetricDatumSeparatesSymbols(t *testing.T) {
	now := time.Now()
	batches := captureCloudWatch(t, time.Minute, &now)

	publishMetricDatum(Metric{Component: "analyzer", Name: "human_ratio", Fields: logger.Fields{"symbol": "BTCUSDT"}}, 0.4)
	publishMetricDatum(Metric{Component: "analyzer", Name: "human_ratio", Fields: logger.Fields{"symbol": "ETHUSDT"}}, 0.6)

	if len(*batches) != 2 {
		t.Fatalf("expected one publish per symbol, got %d", len(*batches))
	}
	dims := (*batches)[1][0].Dimensions
	found := false
	for _, d := range dims {
		if *d.Name == "symbol" && *d.Value == "ETHUSDT" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected symbol dimension, got %+v", dims)
	}
}

func TestPublishMetricDatumWithoutClient(t *testing.T) {
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{})
	t.Cleanup(func() { cwState.Store(prevState) })

	called := false
	publishMetricsFunc = func(context.Context, *cloudWatchState, []cwtypes.MetricDatum) { called = true }
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	publishMetricDatum(Metric{Component: "c", Name: "n"}, 1)
	if called {
		t.Fatalf("expected no publish without a client")
	}
}
