package metrics

import (
	"context"
	"time"

	"depthwatch/internal/channel"
	"depthwatch/logger"
)

// StartChannelSizeMetrics reports the update channel occupancy and the number
// of blocked sends every interval until ctx is cancelled. When interval <= 0 a
// one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		var lastBlocked int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lastBlocked = reportChannel(log, channels, lastBlocked)
			}
		}
	}()
}

func reportChannel(log *logger.Log, channels *channel.Channels, lastBlocked int64) int64 {
	length := channels.Len()
	stats := channels.GetStats()

	setChannelLength(length)
	addChannelBlocked(stats.Blocked - lastBlocked)

	EmitMetric(log, "channel_buffers", "update_buffer_length", length, "gauge", logger.Fields{
		"buffer":   "updates",
		"capacity": channels.Cap(),
	})
	if stats.Blocked > lastBlocked {
		EmitMetric(log, "channel_buffers", "update_buffer_blocked", stats.Blocked-lastBlocked, "counter", logger.Fields{
			"buffer": "updates",
		})
	}
	return stats.Blocked
}
