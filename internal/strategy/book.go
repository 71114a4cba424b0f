package strategy

import (
	"strconv"

	"polymarket-mm/pkg/types"
)

// bookLevel is a single price/size level with both values parsed to float64.
type bookLevel struct {
	Price float64
	Size  float64
}

// parsedBook is a BookResponse with its string-encoded levels parsed once.
// Bids are assumed sorted descending (best first), asks ascending (best
// first), matching what the CLOB returns.
type parsedBook struct {
	bids []bookLevel
	asks []bookLevel
}

func parseBook(resp *types.BookResponse) parsedBook {
	return parsedBook{bids: parseLevels(resp.Bids), asks: parseLevels(resp.Asks)}
}

func parseLevels(levels []types.PriceLevel) []bookLevel {
	out := make([]bookLevel, 0, len(levels))
	for _, lv := range levels {
		price, err := strconv.ParseFloat(lv.Price, 64)
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(lv.Size, 64)
		out = append(out, bookLevel{Price: price, Size: size})
	}
	return out
}

// BestBid returns the top bid price, or ok=false if the book has no bids.
func (b parsedBook) BestBid() (float64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].Price, true
}

// BestAsk returns the top ask price, or ok=false if the book has no asks.
func (b parsedBook) BestAsk() (float64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].Price, true
}

// Mid returns the midpoint of best bid and best ask. Falls back to
// whichever single side is present if the book is one-sided.
func (b parsedBook) Mid() (float64, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2, true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	default:
		return 0, false
	}
}

// BidAt returns the i-th bid level's price (0 = best bid), or ok=false if
// the book is too shallow.
func (b parsedBook) BidAt(i int) (float64, bool) {
	if i < 0 || i >= len(b.bids) {
		return 0, false
	}
	return b.bids[i].Price, true
}
