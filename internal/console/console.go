package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/models"
	"depthwatch/processor"
)

// ErrQuit is returned by Run when the operator asks to stop.
var ErrQuit = errors.New("console: quit requested")

const topPatterns = 3

// Source is the part of the analyzer the console reads from.
type Source interface {
	Symbols() []string
	Latest(symbol string) (processor.View, bool)
	LatestRecord(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error)
	Trend(ctx context.Context, symbol string, limit int) ([]processor.TrendPoint, error)
}

// Console renders the live view of one symbol at a time and reacts to
// line commands: "n" advances to the next symbol and "q" quits.
type Console struct {
	cfg    config.ConsoleConfig
	source Source
	in     io.Reader
	out    io.Writer
	log    *logger.Entry

	mu      sync.Mutex
	current int
}

func New(cfg config.ConsoleConfig, source Source, in io.Reader, out io.Writer) *Console {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.HistoryPoints <= 0 {
		cfg.HistoryPoints = 20
	}
	return &Console{
		cfg:    cfg,
		source: source,
		in:     in,
		out:    out,
		log:    logger.GetLogger().WithComponent("console"),
	}
}

// Current returns the symbol being displayed.
func (c *Console) Current() string {
	syms := c.source.Symbols()
	if len(syms) == 0 {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return syms[c.current%len(syms)]
}

// Next advances to the following symbol, wrapping after the last one.
func (c *Console) Next() string {
	syms := c.source.Symbols()
	if len(syms) == 0 {
		return ""
	}
	c.mu.Lock()
	c.current = (c.current + 1) % len(syms)
	sym := syms[c.current]
	c.mu.Unlock()
	return sym
}

// Run renders on every refresh tick until ctx is cancelled or "q" is read.
// End of input stops command handling but not rendering.
func (c *Console) Run(ctx context.Context) error {
	commands := make(chan string)
	go c.readCommands(ctx, commands)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	c.Render(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch cmd {
			case "n":
				sym := c.Next()
				c.log.WithFields(logger.Fields{"symbol": sym}).Debug("switched symbol")
				c.Render(ctx)
			case "q":
				return ErrQuit
			}
		case <-ticker.C:
			c.Render(ctx)
		}
	}
}

// readCommands forwards non-empty lines until input ends or ctx is done.
// A Scan blocked on stdin cannot be interrupted, so after cancellation this
// goroutine lives until the next line arrives or the process exits.
func (c *Console) readCommands(ctx context.Context, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if cmd == "" {
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.WithError(err).Warn("console input closed")
	}
}

// Render writes the summary for the current symbol.
func (c *Console) Render(ctx context.Context) {
	sym := c.Current()
	syms := c.source.Symbols()

	var b strings.Builder
	fmt.Fprintf(&b, "\n== %s (%d/%d) %s ==\n", sym, c.position()+1, len(syms), time.Now().UTC().Format(time.RFC3339))

	view, ok := c.source.Latest(sym)
	if !ok {
		b.WriteString("waiting for first classification\n")
	} else {
		res := view.Result
		human := res.HumanRatio() * 100
		fmt.Fprintf(&b, "orders: total %d  human %d (%.1f%%)  bot %d (%.1f%%)  gaps %d\n",
			res.TotalOrders, res.HumanOrders, human, res.TotalOrders-res.HumanOrders, 100-human, view.Gaps)
		writePatterns(&b, "human", res.HumanPatterns)
		writePatterns(&b, "bot", res.BotPatterns)
	}

	rec, found, err := c.source.LatestRecord(ctx, sym)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "last flush: unavailable (%v)\n", err)
	case !found:
		b.WriteString("last flush: none yet\n")
	default:
		fmt.Fprintf(&b, "last flush: %s  human %.1f%% (%d/%d)\n",
			rec.Time().Format(time.RFC3339), rec.HumanRatio*100, rec.HumanOrders, rec.TotalOrders)
	}

	if trend, err := c.source.Trend(ctx, sym, c.cfg.HistoryPoints); err == nil && len(trend) > 0 {
		parts := make([]string, 0, len(trend))
		for _, p := range trend {
			parts = append(parts, fmt.Sprintf("%.0f", p.HumanPct))
		}
		fmt.Fprintf(&b, "trend (human %%, oldest first): %s\n", strings.Join(parts, " "))
	}

	b.WriteString("[n] next symbol  [q] quit\n")

	if _, err := io.WriteString(c.out, b.String()); err != nil {
		c.log.WithError(err).Debug("console write failed")
	}
}

func (c *Console) position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func writePatterns(b *strings.Builder, label string, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	fmt.Fprintf(b, "top %s patterns:\n", label)
	for i, p := range patterns {
		if i == topPatterns {
			fmt.Fprintf(b, "  ... %d more\n", len(patterns)-topPatterns)
			break
		}
		fmt.Fprintf(b, "  %s\n", p)
	}
}
