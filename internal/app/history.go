package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"depthwatch/internal/symbols"
)

// HistoryOptions configures the history command.
type HistoryOptions struct {
	Symbol string
	Limit  int
}

// History prints stored analysis records for one symbol, most recent first.
func (a *App) History(ctx context.Context, out io.Writer, opts HistoryOptions) error {
	sym := symbols.Normalize(opts.Symbol)
	if sym == "" {
		return fmt.Errorf("--symbol is required")
	}
	if opts.Limit <= 0 {
		return fmt.Errorf("--limit must be greater than zero")
	}

	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	defer sink.Close()

	records, err := sink.History(ctx, sym, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no records found for %s\n", sym)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Time (UTC)\tSymbol\tTotal\tHuman\tBot\tHuman%")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\n",
			r.Time().Format(time.RFC3339), r.Symbol, r.TotalOrders, r.HumanOrders, r.BotOrders, r.HumanRatio*100)
	}
	return w.Flush()
}
