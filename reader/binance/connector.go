package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"depthwatch/config"
	"depthwatch/internal/channel"
	"depthwatch/internal/metrics"
	"depthwatch/internal/symbols"
	"depthwatch/logger"
	"depthwatch/models"
)

var (
	errDial     = errors.New("dial stream")
	errSnapshot = errors.New("snapshot fetch")
)

// State is the connector lifecycle position.
type State int32

const (
	Disconnected State = iota
	Connecting
	SnapshotFetch
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case SnapshotFetch:
		return "snapshot_fetch"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connector owns the Binance connection lifecycle: it fetches REST snapshots,
// streams diff depth frames for every symbol over one combined websocket and
// reconnects with exponential backoff. It only ever hands complete updates to
// the channel.
type Connector struct {
	config    config.BinanceSourceConfig
	symbols   []string
	known     symbols.Set
	channels  *channel.Channels
	snapshots *SnapshotFetcher
	dialer    *websocket.Dialer

	state    atomic.Int32
	attempts atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	now     func() time.Time
	wait    func(ctx context.Context, delay time.Duration) bool
	log     *logger.Log
}

func NewConnector(cfg config.BinanceSourceConfig, syms []string, channels *channel.Channels) *Connector {
	c := &Connector{
		config:    cfg,
		symbols:   syms,
		known:     symbols.NewSet(syms),
		channels:  channels,
		snapshots: NewSnapshotFetcher(cfg),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		},
		wg:   &sync.WaitGroup{},
		now:  time.Now,
		wait: waitForReconnect,
		log:  logger.GetLogger(),
	}

	c.log.WithComponent("binance_connector").WithFields(logger.Fields{
		"symbols":      syms,
		"stream_url":   c.streamURL(),
		"stale_after":  cfg.Stream.StaleAfter,
		"base_delay":   cfg.Reconnect.BaseDelay,
		"multiplier":   cfg.Reconnect.Multiplier,
		"update_speed": cfg.Stream.UpdateSpeed,
	}).Info("binance connector initialized")
	return c
}

// State reports the current lifecycle state.
func (c *Connector) State() State { return State(c.state.Load()) }

// Attempts reports consecutive failed connection cycles.
func (c *Connector) Attempts() int { return int(c.attempts.Load()) }

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetConnectorState(int(s))
}

// Start runs the connector in the background until Stop or ctx cancellation.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("binance connector already running")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(c.ctx)
	}()
	return nil
}

// Stop cancels the connection loop and waits for it to exit.
func (c *Connector) Stop() {
	c.mu.Lock()
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	c.log.WithComponent("binance_connector").Info("stopping binance connector")
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.log.WithComponent("binance_connector").Info("binance connector stopped")
}

// Run connects, streams and reconnects until ctx is cancelled. Connection
// errors never end the loop.
func (c *Connector) Run(ctx context.Context) {
	log := c.log.WithComponent("binance_connector")
	c.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runOnce(ctx)
		c.setState(Disconnected)
		if ctx.Err() != nil {
			log.Info("connector stopped due to context cancellation")
			return
		}

		// a failure counts before the delay is computed; a clean close
		// waits the base delay
		reason := "clean_close"
		if err == nil {
			c.attempts.Store(0)
		} else {
			reason = reconnectReason(err)
			c.attempts.Add(1)
		}

		attempt := c.Attempts()
		delay := Backoff(c.config.Reconnect.BaseDelay, c.config.Reconnect.Multiplier, attempt, c.config.Reconnect.MaxDelay)

		entry := log.WithFields(logger.Fields{
			"reason":  reason,
			"attempt": attempt,
			"delay":   delay.String(),
		})
		if err != nil {
			entry.WithError(err).Warn("stream disconnected, reconnecting")
		} else {
			entry.Info("stream closed cleanly, reconnecting")
		}
		metrics.Reconnect(reason)
		logger.IncrementReconnect()

		if c.wait(ctx, delay) {
			return
		}
	}
}

// runOnce performs one connect, snapshot and stream cycle. It returns nil
// only when the server closed the stream cleanly.
func (c *Connector) runOnce(ctx context.Context) error {
	log := c.log.WithComponent("binance_connector")

	c.setState(Connecting)
	url := c.streamURL()
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w %s: %w", errDial, url, err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.setState(SnapshotFetch)
	if err := c.snapshots.FetchAll(ctx, c.symbols, c.emit); err != nil {
		return fmt.Errorf("%w: %w", errSnapshot, err)
	}

	c.setState(Streaming)
	log.WithFields(logger.Fields{"symbols": len(c.symbols)}).Info("streaming depth updates")
	return c.readLoop(ctx, conn)
}

func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	log := c.log.WithComponent("binance_connector")
	stale := c.config.Stream.StaleAfter
	if stale <= 0 {
		stale = 10 * time.Second
	}

	for {
		if err := conn.SetReadDeadline(c.now().Add(stale)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w: no frame for %s", ErrStaleConnection, stale)
			}
			return err
		}
		logger.IncrementStreamRead(len(msg))

		u, err := decodeDepthFrame(msg, c.now())
		if err != nil {
			reason := malformedReason(err)
			log.WithError(err).WithFields(logger.Fields{"reason": reason}).Warn("dropping malformed stream message")
			logger.IncrementMalformed()
			metrics.EmitDropMetric(c.log, metrics.DropMetricMalformed, "", reason)
			continue
		}
		if !c.known.Contains(u.Symbol) {
			metrics.EmitDropMetric(c.log, metrics.DropMetricUnknownSymbol, u.Symbol, "")
			continue
		}

		if err := c.emit(ctx, u); err != nil {
			return err
		}
	}
}

func (c *Connector) emit(ctx context.Context, u models.DepthUpdate) error {
	if !c.channels.SendUpdate(ctx, u) {
		return ctx.Err()
	}
	logger.RecordChannelMessage("updates", len(u.Bids)+len(u.Asks))
	if c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.LogDataFlowEntry(c.log.WithComponent("binance_connector"), string(u.Source), "updates", len(u.Bids)+len(u.Asks), "depth_levels")
	}
	return nil
}

func (c *Connector) streamURL() string {
	base := strings.TrimRight(c.config.Stream.URL, "/")
	topics := symbols.StreamTopics(c.symbols, c.config.Stream.UpdateSpeed)
	return base + "?streams=" + strings.Join(topics, "/")
}

func reconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrStaleConnection):
		return "stale"
	case errors.Is(err, errDial):
		return "dial"
	case errors.Is(err, errSnapshot):
		return "snapshot"
	default:
		return "read"
	}
}
