package metrics

import (
	"net/http"
	"strconv"

	"depthwatch/logger"
)

// depthSnapshotWeight returns the request weight Binance charges for a depth
// snapshot of the given limit.
func depthSnapshotWeight(limit int) int64 {
	switch {
	case limit <= 100:
		return 5
	case limit <= 500:
		return 25
	case limit <= 1000:
		return 50
	default:
		return 250
	}
}

// ReportUsedWeight inspects Binance used-weight headers and emits a gauge when
// a numeric value is found. It returns the parsed weight and whether a metric
// was recorded.
func ReportUsedWeight(log *logger.Log, header http.Header, symbol string, depthLimit int) (float64, bool) {
	if log == nil || header == nil {
		return 0, false
	}

	for _, key := range []string{"X-MBX-USED-WEIGHT-1M", "X-MBX-USED-WEIGHT"} {
		value := header.Get(key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent("binance_snapshot").WithFields(logger.Fields{
				"header": key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		fields := logger.Fields{"window": "1m"}
		if symbol != "" {
			fields["symbol"] = symbol
		}
		if depthLimit > 0 {
			fields["request_weight"] = depthSnapshotWeight(depthLimit)
		}
		EmitMetric(log, "binance_snapshot", "used_weight", used, "gauge", fields)
		return used, true
	}
	return 0, false
}

// WeightTransport reports Binance used weight for every REST response.
type WeightTransport struct {
	Base       http.RoundTripper
	DepthLimit int
	Log        *logger.Log
}

func (t *WeightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	log := t.Log
	if log == nil {
		log = logger.GetLogger()
	}
	ReportUsedWeight(log, resp.Header, req.URL.Query().Get("symbol"), t.DepthLimit)
	return resp, nil
}
