package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages never count as the caller. Metric lines are logged from
// inside the metrics package but belong to whoever emitted the metric.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus.",
	"depthwatch/logger.",
	"depthwatch/internal/metrics.",
}

// callerHook points entry.Caller at the first frame outside the logging and
// metric wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !wrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func wrapperFrame(fn string) bool {
	for _, prefix := range wrapperPackages {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
