package symbols

import (
	"fmt"
	"strings"
)

// Normalize returns the canonical form used as the key everywhere in the
// process: upper case, no separators.
//
//	btcusdt  -> BTCUSDT
//	BTC-USDT -> BTCUSDT
//	btc/usdt -> BTCUSDT
func Normalize(sym string) string {
	sym = strings.TrimSpace(sym)
	sym = strings.ReplaceAll(sym, "-", "")
	sym = strings.ReplaceAll(sym, "/", "")
	return strings.ToUpper(sym)
}

// StreamTopic builds the diff depth stream name for one symbol,
// e.g. btcusdt@depth@100ms.
func StreamTopic(sym, speed string) string {
	topic := fmt.Sprintf("%s@depth", strings.ToLower(Normalize(sym)))
	if speed != "" {
		topic += "@" + speed
	}
	return topic
}

// StreamTopics maps every symbol to its stream name, preserving order.
func StreamTopics(syms []string, speed string) []string {
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		out = append(out, StreamTopic(s, speed))
	}
	return out
}

// Set is a fixed membership set of normalised symbols.
type Set map[string]struct{}

func NewSet(syms []string) Set {
	set := make(Set, len(syms))
	for _, s := range syms {
		set[Normalize(s)] = struct{}{}
	}
	return set
}

// Contains reports whether sym, in any accepted spelling, is in the set.
func (s Set) Contains(sym string) bool {
	_, ok := s[Normalize(sym)]
	return ok
}
