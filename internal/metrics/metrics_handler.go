package metrics

import (
	"sync"
	"time"

	"depthwatch/logger"
)

// Metric is one emitted metric event. Symbol is lifted from the "symbol"
// field so per-symbol consumers need not inspect Fields.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Symbol    string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes emitted metric events. Handlers run synchronously
// on the emitting goroutine and must not block.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler. Zero is never issued.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	nextID   MetricHandlerID
}

var handlers = newHandlerRegistry()

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (r *handlerRegistry) add(h MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[r.nextID] = h
	return r.nextID
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

func (r *handlerRegistry) snapshot() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// RegisterMetricHandler subscribes handler to every emitted metric, such as
// the dashboard metric store. A nil handler is ignored and yields 0.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return handlers.add(handler)
}

// UnregisterMetricHandler removes the handler registered under id.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlers.remove(id)
}

// recordMetric logs the metric line and fans the event out to handlers.
// Metrics without a name are discarded.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	userFields := cloneFields(fields)
	log.LogMetric(component, name, value, metricType, cloneFields(userFields))

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    userFields,
	}
	if sym, ok := userFields["symbol"].(string); ok {
		metric.Symbol = sym
	}

	for _, h := range handlers.snapshot() {
		h(metric)
	}
	return metric, true
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
