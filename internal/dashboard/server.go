package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"depthwatch/config"
	"depthwatch/internal/metrics"
	"depthwatch/internal/symbols"
	"depthwatch/logger"
	"depthwatch/models"
	"depthwatch/processor"
)

const maxHistoryLimit = 1000

// AnalysisSource is the read side of the analyzer the dashboard serves.
type AnalysisSource interface {
	Symbols() []string
	Latest(symbol string) (processor.View, bool)
	LatestRecord(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error)
	History(ctx context.Context, symbol string, limit int) ([]models.AnalysisRecord, error)
}

// Server hosts the Gin-powered read API for depthwatch.
type Server struct {
	cfg             config.DashboardConfig
	source          AnalysisSource
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, source AnalysisSource, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if source == nil {
		return nil, errors.New("dashboard requires an analysis source")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = 100
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		source:          source,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.cfg.RefreshInterval.Milliseconds(),
			"symbols":             s.source.Symbols(),
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.GET("/symbols", s.handleSymbols)
	api.GET("/analysis/:symbol", s.handleLive)
	api.GET("/analysis/:symbol/latest", s.handleLatest)
	api.GET("/analysis/:symbol/history", s.handleHistory)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	return router, nil
}

func (s *Server) knownSymbol(c *gin.Context) (string, bool) {
	sym := symbols.Normalize(c.Param("symbol"))
	if !symbols.NewSet(s.source.Symbols()).Contains(sym) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": sym})
		return "", false
	}
	return sym, true
}

func (s *Server) handleSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.source.Symbols()})
}

func (s *Server) handleLive(c *gin.Context) {
	sym, ok := s.knownSymbol(c)
	if !ok {
		return
	}
	view, ok := s.source.Latest(sym)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no classification yet", "symbol": sym})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":         view.Symbol,
		"updated_at":     view.UpdatedAt.Format(time.RFC3339Nano),
		"last_update_id": view.Book.LastUpdateID,
		"gaps":           view.Gaps,
		"total_orders":   view.Result.TotalOrders,
		"human_orders":   view.Result.HumanOrders,
		"bot_orders":     view.Result.TotalOrders - view.Result.HumanOrders,
		"human_ratio":    view.Result.HumanRatio(),
		"levels":         view.Result.Levels,
		"human_patterns": view.Result.HumanPatterns,
		"bot_patterns":   view.Result.BotPatterns,
		"bids":           view.Book.Bids,
		"asks":           view.Book.Asks,
	})
}

func (s *Server) handleLatest(c *gin.Context) {
	sym, ok := s.knownSymbol(c)
	if !ok {
		return
	}
	rec, found, err := s.source.LatestRecord(c.Request.Context(), sym)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{"symbol": sym}).Warn("failed to load latest record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no records yet", "symbol": sym})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleHistory(c *gin.Context) {
	sym, ok := s.knownSymbol(c)
	if !ok {
		return
	}
	limit, err := parseLimit(c.Query("limit"), s.cfg.HistoryLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.source.History(c.Request.Context(), sym, limit)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{"symbol": sym}).Warn("failed to load history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  sym,
		"records": records,
		"trend":   processor.TrendFromHistory(records),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	metricsSnapshot := s.metricStore.filter(c.Query("component"), c.Query("name"), c.Query("symbol"))
	payload := make([]gin.H, 0, len(metricsSnapshot))
	for _, m := range metricsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	logsSnapshot := s.logStore.filter(c.Query("level"), c.Query("component"), c.Query("symbol"))
	payload := make([]gin.H, 0, len(logsSnapshot))
	for _, l := range logsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
