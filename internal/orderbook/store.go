package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/logger"
	"depthwatch/models"
)

// ApplyResult describes what Apply did with an update.
type ApplyResult struct {
	Applied bool
	// Gap is set when a stream update does not follow the previous update id.
	Gap bool
	// Skipped counts levels dropped because their price did not parse.
	Skipped int
}

// Store keeps the latest book per configured symbol. Every update fully
// replaces the previous book for its symbol.
type Store struct {
	mu    sync.RWMutex
	books map[string]*models.OrderBook
	gaps  map[string]int64
	order []string
	now   func() time.Time
	log   *logger.Log
}

func NewStore(symbols []string) *Store {
	s := &Store{
		books: make(map[string]*models.OrderBook, len(symbols)),
		gaps:  make(map[string]int64, len(symbols)),
		order: append([]string(nil), symbols...),
		now:   time.Now,
		log:   logger.GetLogger(),
	}
	for _, sym := range symbols {
		s.books[sym] = &models.OrderBook{Symbol: sym}
	}
	return s
}

// Apply replaces the book for u.Symbol. Updates for symbols the store was not
// built with are ignored.
func (s *Store) Apply(u models.DepthUpdate) ApplyResult {
	bids, skippedBids := sortLevels(u.Bids, true)
	asks, skippedAsks := sortLevels(u.Asks, false)
	res := ApplyResult{Skipped: skippedBids + skippedAsks}

	s.mu.Lock()
	book, ok := s.books[u.Symbol]
	if !ok {
		s.mu.Unlock()
		return res
	}

	prev := book.LastUpdateID
	if u.Source == models.SourceStream && prev > 0 && u.FirstUpdateID > 0 && u.FirstUpdateID > prev+1 {
		res.Gap = true
		s.gaps[u.Symbol]++
	}

	book.Bids = bids
	book.Asks = asks
	book.LastUpdateID = u.UpdateID
	book.LastUpdate = s.now()
	s.mu.Unlock()

	res.Applied = true
	if res.Skipped > 0 {
		s.log.WithComponent("orderbook_store").WithFields(logger.Fields{
			"symbol":  u.Symbol,
			"skipped": res.Skipped,
		}).Debug("skipped levels with unparsable price")
	}
	if res.Gap {
		s.log.WithComponent("orderbook_store").WithFields(logger.Fields{
			"symbol":          u.Symbol,
			"previous_id":     prev,
			"first_update_id": u.FirstUpdateID,
		}).Warn("update id gap detected")
	}
	return res
}

// Book returns a copy of the current book for symbol.
func (s *Store) Book(symbol string) (models.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[symbol]
	if !ok {
		return models.OrderBook{}, false
	}
	return book.Clone(), true
}

// Symbols returns the configured symbols in configuration order.
func (s *Store) Symbols() []string {
	return append([]string(nil), s.order...)
}

// Gaps returns how many update id gaps were seen for symbol.
func (s *Store) Gaps(symbol string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gaps[symbol]
}

type parsedLevel struct {
	price decimal.Decimal
	level models.PriceLevel
}

// sortLevels parses and orders raw levels. Levels whose price does not parse
// are dropped; equal prices keep their input order.
func sortLevels(raw []models.Level, descending bool) ([]models.PriceLevel, int) {
	parsed := make([]parsedLevel, 0, len(raw))
	skipped := 0
	for _, l := range raw {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			skipped++
			continue
		}
		total := 0.0
		if qty, err := decimal.NewFromString(l.Quantity); err == nil {
			total = price.Mul(qty).InexactFloat64()
		}
		parsed = append(parsed, parsedLevel{
			price: price,
			level: models.PriceLevel{Price: l.Price, Quantity: l.Quantity, Total: total},
		})
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		if descending {
			return parsed[i].price.GreaterThan(parsed[j].price)
		}
		return parsed[i].price.LessThan(parsed[j].price)
	})

	out := make([]models.PriceLevel, len(parsed))
	for i, p := range parsed {
		out[i] = p.level
	}
	return out, skipped
}
