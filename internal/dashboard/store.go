package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"depthwatch/internal/metrics"
	"depthwatch/internal/symbols"
)

// metricStore retains a bounded collection of the most recent metrics that have been
// emitted by the application. It is safe for concurrent use.
type metricStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		// keep the most recent entries only
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

// filter returns retained metrics matching component, name and symbol; empty
// arguments match everything. Symbols compare after normalisation.
func (s *metricStore) filter(component, name, symbol string) []metrics.Metric {
	all := s.snapshot()
	symbol = symbols.Normalize(symbol)
	out := all[:0]
	for _, m := range all {
		if component != "" && m.Component != component {
			continue
		}
		if name != "" && m.Name != name {
			continue
		}
		if symbol != "" && m.Symbol != symbol {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, len(s.items))
	copy(out, s.items)
	return out
}

// logRecord is the serialisable representation of a captured log entry that is
// rendered in the dashboard UI.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore retains the most recent logs that flow through the global logger. The
// store implements the logrus Hook interface so that it can be attached directly to
// the application's logger.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if symbol, ok := entry.Data["symbol"].(string); ok {
		record.Symbol = symbol
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

// filter returns retained entries at or above level for component and
// symbol. An empty or unknown level matches every entry.
func (s *logStore) filter(level, component, symbol string) []logRecord {
	all := s.snapshot()
	min, err := logrus.ParseLevel(level)
	if level == "" || err != nil {
		min = logrus.TraceLevel
	}
	symbol = symbols.Normalize(symbol)
	out := all[:0]
	for _, r := range all {
		lvl, err := logrus.ParseLevel(r.Level)
		if err == nil && lvl > min {
			continue
		}
		if component != "" && r.Component != component {
			continue
		}
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
