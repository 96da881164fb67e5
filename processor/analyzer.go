package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"depthwatch/config"
	"depthwatch/internal/aggregator"
	"depthwatch/internal/channel"
	"depthwatch/internal/classifier"
	"depthwatch/internal/metrics"
	"depthwatch/internal/orderbook"
	"depthwatch/logger"
	"depthwatch/models"
	"depthwatch/writer"
)

// View is the read-only picture of one symbol after the latest cycle.
type View struct {
	Symbol    string                      `json:"symbol"`
	Book      models.OrderBook            `json:"book"`
	Result    models.ClassificationResult `json:"result"`
	Gaps      int64                       `json:"gaps"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// TrendPoint is one persisted record expressed as percentages.
type TrendPoint struct {
	Timestamp int64   `json:"timestamp"`
	HumanPct  float64 `json:"human_pct"`
	BotPct    float64 `json:"bot_pct"`
}

type AnalyzerStats struct {
	Cycles         int64
	UpdatesApplied int64
	UnknownSymbols int64
	SkippedLevels  int64
	Gaps           int64
	FlushesOK      int64
	FlushesFailed  int64
}

// Analyzer is the single consumer of the update channel. Each cycle drains the
// channel, applies updates to the book store, classifies every symbol, feeds
// the rolling window and flushes due averages to the sink. The store, window
// and flusher are only touched from the cycle goroutine.
type Analyzer struct {
	config     config.AnalysisConfig
	symbols    []string
	channels   *channel.Channels
	store      *orderbook.Store
	classifier *classifier.Classifier
	window     *aggregator.Window
	flusher    *aggregator.Flusher
	sink       writer.Sink

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	now     func() time.Time
	log     *logger.Log

	viewMu sync.RWMutex
	views  map[string]View

	stats      AnalyzerStats
	statsMutex sync.RWMutex
}

func NewAnalyzer(cfg config.AnalysisConfig, syms []string, channels *channel.Channels, sink writer.Sink) *Analyzer {
	return newAnalyzer(cfg, syms, channels, sink, time.Now)
}

func newAnalyzer(cfg config.AnalysisConfig, syms []string, channels *channel.Channels, sink writer.Sink, now func() time.Time) *Analyzer {
	threshold := cfg.HumanThreshold
	if threshold <= 0 {
		threshold = classifier.DefaultThreshold
	}
	window := aggregator.NewWindow(cfg.Window)

	a := &Analyzer{
		config:     cfg,
		symbols:    append([]string(nil), syms...),
		channels:   channels,
		store:      orderbook.NewStore(syms),
		classifier: classifier.New(threshold),
		window:     window,
		flusher:    aggregator.NewFlusher(window, sink, cfg.FlushInterval, syms, now()),
		sink:       sink,
		wg:         &sync.WaitGroup{},
		now:        now,
		log:        logger.GetLogger(),
		views:      make(map[string]View, len(syms)),
	}

	a.log.WithComponent("analyzer").WithFields(logger.Fields{
		"symbols":         syms,
		"cycle_interval":  cfg.CycleInterval,
		"window":          cfg.Window,
		"flush_interval":  cfg.FlushInterval,
		"human_threshold": threshold,
	}).Info("analyzer initialized")
	return a
}

func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("analyzer already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Run(a.ctx)
	}()
	return nil
}

func (a *Analyzer) Stop() {
	a.mu.Lock()
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	a.log.WithComponent("analyzer").Info("stopping analyzer")
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.ReportStats()
	a.log.WithComponent("analyzer").Info("analyzer stopped")
}

// Run executes one cycle per tick until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	interval := a.config.CycleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.WithComponent("analyzer").Info("analyzer stopped due to context cancellation")
			return
		case <-ticker.C:
			a.cycle(ctx, a.now())
		}
	}
}

func (a *Analyzer) cycle(ctx context.Context, now time.Time) {
	a.drain()

	for _, sym := range a.symbols {
		book, ok := a.store.Book(sym)
		if !ok {
			continue
		}
		result := a.classifier.Score(book)
		a.window.Record(sym, result.TotalOrders, result.HumanOrders, now)
		metrics.ObserveClassification(sym, result.TotalOrders, result.HumanOrders, result.HumanRatio())

		a.viewMu.Lock()
		a.views[sym] = View{
			Symbol:    sym,
			Book:      book,
			Result:    result,
			Gaps:      a.store.Gaps(sym),
			UpdatedAt: now,
		}
		a.viewMu.Unlock()
	}

	for _, out := range a.flusher.FlushDue(ctx, now) {
		metrics.Flush(out.Record.Symbol, out.Err == nil)
		a.statsMutex.Lock()
		if out.Err != nil {
			a.stats.FlushesFailed++
		} else {
			a.stats.FlushesOK++
		}
		a.statsMutex.Unlock()
	}

	a.statsMutex.Lock()
	a.stats.Cycles++
	a.statsMutex.Unlock()
}

// drain applies every update queued when the cycle started, without waiting.
func (a *Analyzer) drain() {
	pending := a.channels.Len()
	for i := 0; i < pending; i++ {
		u, ok := a.channels.TryReceive()
		if !ok {
			return
		}
		a.apply(u)
	}
}

func (a *Analyzer) apply(u models.DepthUpdate) {
	res := a.store.Apply(u)

	a.statsMutex.Lock()
	defer a.statsMutex.Unlock()
	a.stats.SkippedLevels += int64(res.Skipped)

	if !res.Applied {
		a.stats.UnknownSymbols++
		metrics.EmitDropMetric(a.log, metrics.DropMetricUnknownSymbol, u.Symbol, string(u.Source))
		return
	}
	a.stats.UpdatesApplied++
	metrics.UpdateApplied(u.Symbol, string(u.Source))
	if res.Gap {
		a.stats.Gaps++
		metrics.UpdateGap(u.Symbol)
	}
	if res.Skipped > 0 {
		metrics.EmitDropMetric(a.log, metrics.DropMetricUnparsableLevel, u.Symbol, string(u.Source))
	}
}

// Latest returns the view published by the last cycle for symbol.
func (a *Analyzer) Latest(symbol string) (View, bool) {
	a.viewMu.RLock()
	defer a.viewMu.RUnlock()
	v, ok := a.views[symbol]
	return v, ok
}

// Symbols returns the configured symbols in order.
func (a *Analyzer) Symbols() []string {
	return append([]string(nil), a.symbols...)
}

// LatestRecord returns the newest persisted record for symbol.
func (a *Analyzer) LatestRecord(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error) {
	return a.sink.Latest(ctx, symbol)
}

// History returns up to limit persisted records, most recent first.
func (a *Analyzer) History(ctx context.Context, symbol string, limit int) ([]models.AnalysisRecord, error) {
	return a.sink.History(ctx, symbol, limit)
}

// Trend returns up to limit persisted records oldest first as human and bot
// percentages, ready for charting.
func (a *Analyzer) Trend(ctx context.Context, symbol string, limit int) ([]TrendPoint, error) {
	records, err := a.sink.History(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	return TrendFromHistory(records), nil
}

// TrendFromHistory reverses newest-first records into chart points.
func TrendFromHistory(records []models.AnalysisRecord) []TrendPoint {
	points := make([]TrendPoint, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		human := r.HumanRatio * 100
		points = append(points, TrendPoint{
			Timestamp: r.Timestamp,
			HumanPct:  human,
			BotPct:    100 - human,
		})
	}
	return points
}

func (a *Analyzer) GetStats() AnalyzerStats {
	a.statsMutex.RLock()
	defer a.statsMutex.RUnlock()
	return a.stats
}

// ReportStats logs the cycle counters.
func (a *Analyzer) ReportStats() {
	stats := a.GetStats()
	a.log.WithComponent("analyzer").WithFields(logger.Fields{
		"cycles":          stats.Cycles,
		"updates_applied": stats.UpdatesApplied,
		"unknown_symbols": stats.UnknownSymbols,
		"skipped_levels":  stats.SkippedLevels,
		"gaps":            stats.Gaps,
		"flushes_ok":      stats.FlushesOK,
		"flushes_failed":  stats.FlushesFailed,
		"channel_length":  a.channels.Len(),
	}).Info("analyzer stats")
}
