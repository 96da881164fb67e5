package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/models"
)

// DefaultThreshold is the score a level must exceed to count as human.
const DefaultThreshold = 0.6

const (
	IndicatorRoundPrice = "round price"
	IndicatorRoundSize  = "round size"
	IndicatorSpacing    = "irregular spacing"
)

// Classifier scores every level of a book. It holds no state between calls.
type Classifier struct {
	threshold float64
	now       func() time.Time
}

func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold, now: time.Now}
}

type candidate struct {
	side     string
	raw      models.PriceLevel
	price    decimal.Decimal
	qty      decimal.Decimal
	spacing  bool
	hasSpace bool
}

// Score runs the three heuristics over book. A level's score is the share of
// applicable heuristics that hold; the last level of each side has no
// neighbour, so only two heuristics apply to it. Levels whose price or
// quantity does not parse get no verdict.
func (c *Classifier) Score(book models.OrderBook) models.ClassificationResult {
	res := models.ClassificationResult{
		Symbol:       book.Symbol,
		Scores:       make(map[string]float64, len(book.Bids)+len(book.Asks)),
		TotalOrders:  len(book.Bids) + len(book.Asks),
		ClassifiedAt: c.now(),
	}

	for _, side := range []struct {
		name   string
		levels []models.PriceLevel
	}{
		{models.SideBid, book.Bids},
		{models.SideAsk, book.Asks},
	} {
		for _, cand := range sideCandidates(side.name, side.levels) {
			verdict := c.verdict(cand)
			res.Levels = append(res.Levels, verdict)
			res.Scores[verdict.Price] = verdict.Score
			if verdict.Human {
				res.HumanOrders++
				res.HumanPatterns = append(res.HumanPatterns, describe(verdict))
			} else {
				res.BotPatterns = append(res.BotPatterns, describe(verdict))
			}
		}
	}
	return res
}

// sideCandidates parses one side and attaches each spacing verdict to the
// first price of its neighbouring pair. Spacing uses every parsable price,
// including levels whose quantity is unusable.
func sideCandidates(side string, levels []models.PriceLevel) []candidate {
	type priced struct {
		level  models.PriceLevel
		price  decimal.Decimal
		qty    decimal.Decimal
		qtyErr error
	}
	parsed := make([]priced, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		qty, qtyErr := decimal.NewFromString(l.Quantity)
		parsed = append(parsed, priced{level: l, price: price, qty: qty, qtyErr: qtyErr})
	}

	out := make([]candidate, 0, len(parsed))
	for i, p := range parsed {
		if p.qtyErr != nil {
			continue
		}
		cand := candidate{side: side, raw: p.level, price: p.price, qty: p.qty}
		if i+1 < len(parsed) {
			cand.hasSpace = true
			cand.spacing = IrregularSpacing(p.price, parsed[i+1].price)
		}
		out = append(out, cand)
	}
	return out
}

func (c *Classifier) verdict(cand candidate) models.LevelVerdict {
	var indicators []string
	applicable := 2
	if RoundPrice(cand.price) {
		indicators = append(indicators, IndicatorRoundPrice)
	}
	if RoundSize(cand.qty) {
		indicators = append(indicators, IndicatorRoundSize)
	}
	if cand.hasSpace {
		applicable++
		if cand.spacing {
			indicators = append(indicators, IndicatorSpacing)
		}
	}

	score := float64(len(indicators)) / float64(applicable)
	return models.LevelVerdict{
		Side:       cand.side,
		Price:      cand.raw.Price,
		Quantity:   cand.raw.Quantity,
		Score:      score,
		Human:      score > c.threshold,
		Indicators: indicators,
	}
}

func describe(v models.LevelVerdict) string {
	label := "automated"
	if v.Human {
		label = "human"
	}
	reasons := "none"
	if len(v.Indicators) > 0 {
		reasons = strings.Join(v.Indicators, ", ")
	}
	return fmt.Sprintf("%s %s x %s looks %s (%.2f: %s)", v.Side, v.Price, v.Quantity, label, v.Score, reasons)
}
