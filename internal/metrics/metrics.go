// Registers:
//
//	#depthwatch_updates_applied_total
//	#depthwatch_malformed_messages_total
//	#depthwatch_reconnects_total
//	#depthwatch_connector_state
//	#depthwatch_update_gaps_total
//	#depthwatch_human_ratio
//	#depthwatch_levels
//	#depthwatch_flushes_total
//	#depthwatch_channel_blocked_total
//	#depthwatch_channel_length
//	#go_* and process_* system metrics
//
// Exposes them through Handler, served on the configured prometheus address
// and on the dashboard.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depthwatch/logger"
)

var (
	registry = prometheus.NewRegistry()

	updatesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthwatch_updates_applied_total",
			Help: "Order book updates applied, by symbol and source",
		},
		[]string{"symbol", "source"},
	)
	malformedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthwatch_malformed_messages_total",
			Help: "Stream messages discarded before reaching the order book",
		},
		[]string{"reason"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthwatch_reconnects_total",
			Help: "Feed reconnect attempts by cause",
		},
		[]string{"reason"},
	)
	connectorState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "depthwatch_connector_state",
			Help: "Feed connector state (0 disconnected, 1 connecting, 2 snapshot, 3 streaming)",
		},
	)
	updateGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthwatch_update_gaps_total",
			Help: "Stream updates whose first id skipped past the last applied id",
		},
		[]string{"symbol"},
	)
	humanRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depthwatch_human_ratio",
			Help: "Share of levels classified as human in the latest cycle",
		},
		[]string{"symbol"},
	)
	levels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depthwatch_levels",
			Help: "Level counts of the latest classification",
		},
		[]string{"symbol", "kind"},
	)
	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthwatch_flushes_total",
			Help: "Aggregation flushes by outcome",
		},
		[]string{"symbol", "result"},
	)
	channelBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depthwatch_channel_blocked_total",
			Help: "Sends that found the update channel full",
		},
	)
	channelLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "depthwatch_channel_length",
			Help: "Updates waiting in the channel",
		},
	)
)

func init() {
	registry.MustRegister(
		updatesApplied,
		malformedMessages,
		reconnects,
		connectorState,
		updateGaps,
		humanRatio,
		levels,
		flushes,
		channelBlocked,
		channelLength,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry exposes the collector registry.
func Registry() *prometheus.Registry { return registry }

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": addr}).Info("prometheus endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func UpdateApplied(symbol, source string) {
	updatesApplied.WithLabelValues(symbol, source).Inc()
}

func MalformedMessage(reason string) {
	malformedMessages.WithLabelValues(reason).Inc()
}

func Reconnect(reason string) {
	reconnects.WithLabelValues(reason).Inc()
}

func SetConnectorState(state int) {
	connectorState.Set(float64(state))
}

func UpdateGap(symbol string) {
	updateGaps.WithLabelValues(symbol).Inc()
}

// ObserveClassification records the latest per-symbol verdict.
func ObserveClassification(symbol string, total, human int, ratio float64) {
	humanRatio.WithLabelValues(symbol).Set(ratio)
	levels.WithLabelValues(symbol, "total").Set(float64(total))
	levels.WithLabelValues(symbol, "human").Set(float64(human))
	levels.WithLabelValues(symbol, "bot").Set(float64(total - human))
}

func Flush(symbol string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	flushes.WithLabelValues(symbol, result).Inc()
}

func addChannelBlocked(n int64) {
	if n > 0 {
		channelBlocked.Add(float64(n))
	}
}

func setChannelLength(n int) {
	channelLength.Set(float64(n))
}
