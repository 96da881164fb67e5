package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/logger"
	"depthwatch/models"
)

// SnapshotFetcher pulls REST depth snapshots with bounded concurrency and a
// shared request rate.
type SnapshotFetcher struct {
	client      *gobinance.Client
	limit       int
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
	log         *logger.Log
}

func NewSnapshotFetcher(cfg config.BinanceSourceConfig) *SnapshotFetcher {
	log := logger.GetLogger()

	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		MaxIdleConns:       cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:    cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:    cfg.ConnectionPool.IdleConnTimeout,
		DisableCompression: false,
	}

	httpClient := &http.Client{
		Transport: &metrics.WeightTransport{Base: transport, DepthLimit: cfg.Snapshot.Limit, Log: log},
		Timeout:   cfg.Snapshot.Timeout,
	}

	client := gobinance.NewClient("", "")
	client.HTTPClient = httpClient
	if cfg.Snapshot.URL != "" {
		client.BaseURL = strings.TrimRight(cfg.Snapshot.URL, "/")
	}

	concurrency := cfg.Snapshot.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	rps := cfg.Snapshot.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	log.WithComponent("binance_snapshot").WithFields(logger.Fields{
		"base_url":           client.BaseURL,
		"limit":              cfg.Snapshot.Limit,
		"concurrency":        concurrency,
		"requests_per_sec":   rps,
		"max_idle_conns":     cfg.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.ConnectionPool.MaxConnsPerHost,
	}).Info("binance snapshot fetcher initialized")

	return &SnapshotFetcher{
		client:      client,
		limit:       cfg.Snapshot.Limit,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(rps), concurrency),
		now:         time.Now,
		log:         log,
	}
}

// Fetch retrieves one depth snapshot as a full-replace update.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string) (models.DepthUpdate, error) {
	log := f.log.WithComponent("binance_snapshot").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_snapshot",
	})

	if err := f.limiter.Wait(ctx); err != nil {
		return models.DepthUpdate{}, err
	}

	start := f.now()
	res, err := f.client.NewDepthService().
		Symbol(symbol).
		Limit(f.limit).
		Do(ctx)
	if err != nil {
		return models.DepthUpdate{}, fmt.Errorf("fetch %s snapshot: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "binance_snapshot", "api_request", f.now().Sub(start), logger.Fields{
		"symbol": symbol,
	})

	bids := make([]models.Level, len(res.Bids))
	for i, b := range res.Bids {
		bids[i] = models.Level{Price: b.Price, Quantity: b.Quantity}
	}
	asks := make([]models.Level, len(res.Asks))
	for i, a := range res.Asks {
		asks[i] = models.Level{Price: a.Price, Quantity: a.Quantity}
	}
	logger.IncrementSnapshotRead(len(bids) + len(asks))

	return models.DepthUpdate{
		Symbol:     symbol,
		Bids:       bids,
		Asks:       asks,
		UpdateID:   res.LastUpdateID,
		Source:     models.SourceSnapshot,
		ReceivedAt: f.now(),
	}, nil
}

// FetchAll fetches every symbol and passes each snapshot to emit. Order is not
// significant. The first failure cancels the remaining requests.
func (f *SnapshotFetcher) FetchAll(ctx context.Context, syms []string, emit func(context.Context, models.DepthUpdate) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, sym := range syms {
		sym := sym
		g.Go(func() error {
			u, err := f.Fetch(gctx, sym)
			if err != nil {
				return err
			}
			return emit(gctx, u)
		})
	}
	return g.Wait()
}
