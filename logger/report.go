package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream    int64
	errorsSnapshot  int64
	warnsStream     int64
	warnsSnapshot   int64
	streamReads     int64
	snapshotReads   int64
	malformedDrops  int64
	flushesWritten  int64
	flushesFailed   int64
	reconnectsTotal int64
	channels        sync.Map // map[string]*channelStat
)

// FeedCounters is a point-in-time copy of the report counters.
type FeedCounters struct {
	SnapshotReads  int64 `json:"snapshot_reads"`
	StreamReads    int64 `json:"stream_reads"`
	MalformedDrops int64 `json:"malformed_drops"`
	FlushesWritten int64 `json:"flushes_written"`
	FlushesFailed  int64 `json:"flushes_failed"`
	Reconnects     int64 `json:"reconnects"`
}

func recordWarn(component string) {
	if strings.Contains(component, "stream") || strings.Contains(component, "connector") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&warnsSnapshot, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") || strings.Contains(component, "connector") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&errorsSnapshot, 1)
	}
}

func IncrementStreamRead(size int) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel("binance_ws", size)
}

func IncrementSnapshotRead(size int) {
	atomic.AddInt64(&snapshotReads, 1)
	recordChannel("binance_rest", size)
}

func IncrementMalformed() {
	atomic.AddInt64(&malformedDrops, 1)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnectsTotal, 1)
}

// IncrementFlush counts one flush attempt that reached the sink.
func IncrementFlush(ok bool) {
	if ok {
		atomic.AddInt64(&flushesWritten, 1)
		return
	}
	atomic.AddInt64(&flushesFailed, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Counters returns the current feed counters.
func Counters() FeedCounters {
	return FeedCounters{
		SnapshotReads:  atomic.LoadInt64(&snapshotReads),
		StreamReads:    atomic.LoadInt64(&streamReads),
		MalformedDrops: atomic.LoadInt64(&malformedDrops),
		FlushesWritten: atomic.LoadInt64(&flushesWritten),
		FlushesFailed:  atomic.LoadInt64(&flushesFailed),
		Reconnects:     atomic.LoadInt64(&reconnectsTotal),
	}
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memoryMB, diskMB int64
	if memStats != nil {
		memoryMB = int64(memStats.Used) / 1024 / 1024
	}
	if diskStats != nil {
		diskMB = int64(diskStats.Used) / 1024 / 1024
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := Counters()
	fields := Fields{
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"errors_snapshot": atomic.LoadInt64(&errorsSnapshot),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"warns_snapshot":  atomic.LoadInt64(&warnsSnapshot),
		"stream_reads":    counters.StreamReads,
		"snapshot_reads":  counters.SnapshotReads,
		"malformed_drops": counters.MalformedDrops,
		"flushes_written": counters.FlushesWritten,
		"flushes_failed":  counters.FlushesFailed,
		"reconnects":      counters.Reconnects,
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       memoryMB,
		"disk_mb":         diskMB,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
