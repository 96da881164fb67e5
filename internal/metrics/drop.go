package metrics

import "depthwatch/logger"

// DropMetric identifies the metric name emitted when feed data is discarded.
type DropMetric string

const (
	// DropMetricMalformed records stream frames that failed to decode.
	DropMetricMalformed DropMetric = "malformed_messages_dropped"
	// DropMetricUnknownSymbol records updates for symbols outside the watch list.
	DropMetricUnknownSymbol DropMetric = "unknown_symbol_dropped"
	// DropMetricUnparsableLevel records price levels skipped during apply.
	DropMetricUnparsableLevel DropMetric = "unparsable_levels_skipped"
)

// EmitDropMetric logs and emits a metric for one discarded item. Malformed
// frames also feed the depthwatch_malformed_messages_total counter under reason.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol, reason string) {
	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if reason != "" {
		fields["reason"] = reason
	}

	if metric == DropMetricMalformed {
		if reason == "" {
			reason = "unknown"
		}
		MalformedMessage(reason)
	}

	EmitMetric(log, "feed_drops", string(metric), 1, "counter", fields)
}
