package channel

import (
	"context"
	"sync"

	"depthwatch/logger"
	"depthwatch/models"
)

type ChannelStats struct {
	Sent     int64
	Received int64
	Blocked  int64
}

// Channels is the bounded hand-off between the feed connector and the
// analyzer. A full buffer blocks the producer; nothing is dropped.
type Channels struct {
	Updates chan models.DepthUpdate

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(updateBufferSize int) *Channels {
	if updateBufferSize <= 0 {
		updateBufferSize = 1
	}
	log := logger.GetLogger()
	c := &Channels{
		Updates: make(chan models.DepthUpdate, updateBufferSize),
		log:     log,
	}

	log.WithComponent("update_channel").WithFields(logger.Fields{
		"update_buffer_size": updateBufferSize,
	}).Info("update channel initialized")

	return c
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Updates)
		c.log.WithComponent("update_channel").Info("update channel closed")
	})
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementReceived() {
	c.statsMutex.Lock()
	c.stats.Received++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementBlocked() {
	c.statsMutex.Lock()
	c.stats.Blocked++
	c.statsMutex.Unlock()
}

// SendUpdate enqueues u, waiting for room when the buffer is full. It returns
// false only when ctx ends first.
func (c *Channels) SendUpdate(ctx context.Context, u models.DepthUpdate) bool {
	select {
	case c.Updates <- u:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
	}

	c.incrementBlocked()
	select {
	case c.Updates <- u:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	}
}

// TryReceive returns the next queued update without waiting.
func (c *Channels) TryReceive() (models.DepthUpdate, bool) {
	select {
	case u, ok := <-c.Updates:
		if !ok {
			return models.DepthUpdate{}, false
		}
		c.incrementReceived()
		return u, true
	default:
		return models.DepthUpdate{}, false
	}
}

// Len and Cap report buffer occupancy.
func (c *Channels) Len() int { return len(c.Updates) }
func (c *Channels) Cap() int { return cap(c.Updates) }

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
