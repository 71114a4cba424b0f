// Package strategy implements the five trading strategies the supervisor
// (internal/runtime) runs concurrently: the LP selector with smart refresh
// (C11), the LP flip state machine (C12), YES+NO arbitrage (C13), and
// copy-trading / forecast-edge (C14). Each type satisfies runtime.Strategy
// (Name, ScanInterval, Scan, Shutdown); none of them place orders directly
// — they emit types.Signal values that flow through the shared execution
// manager (internal/execution), the same pipeline every other strategy uses.
//
// Two exceptions call the exchange client directly rather than through a
// Signal: cancelling a resting order that's no longer wanted, and reading
// book/price/open-order state to decide what to quote next. Neither moves
// money, so neither needs risk-gate or persistence involvement.
//
// A strategy's own resting GTC orders fill asynchronously, off the
// execution manager's hot path — the manager only calls Ledger.OnFill for
// fills it observes directly (FOK signals, immediate GTC matches). A
// strategy that places GTC liquidity orders is responsible for detecting
// its own fills (by diffing the exchange's open-order list) and reporting
// them to the ledger itself. Ledger's methods are already safe for this:
// each strategy goroutine only ever touches the rows it owns.
package strategy

import (
	"math"
	"strconv"

	"polymarket-mm/pkg/types"
)

// RoundToTick snaps price to the nearest valid increment for tick, matching
// the CLOB's own price validation. Idempotent: rounding an already-aligned
// price returns it unchanged (within float64 precision).
func RoundToTick(price float64, tick types.TickSize) float64 {
	step := tickStep(tick)
	if step <= 0 {
		return price
	}
	return roundDecimals(math.Round(price/step)*step, tick.Decimals())
}

func tickStep(tick types.TickSize) float64 {
	v, err := strconv.ParseFloat(string(tick), 64)
	if err != nil || v <= 0 {
		return 0.01
	}
	return v
}

func roundDecimals(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(value, hi))
}

// RewardScore computes a single book level's share of a market's liquidity
// reward pool: S(v,s) = ((v-s)/v)^2 * size, zero outside the reward band.
// maxSpread is the market's max_incentive_spread; actualSpread is this
// level's distance from the adjusted midpoint.
func RewardScore(maxSpread, actualSpread, size float64) float64 {
	if maxSpread <= 0 || actualSpread >= maxSpread || actualSpread < 0 {
		return 0
	}
	ratio := (maxSpread - actualSpread) / maxSpread
	return ratio * ratio * size
}

// KellyCriterion sizes a bet as a fraction of bankroll given an edge (fair
// probability minus market price) and fraction (a Kelly fraction below 1.0
// for safety, e.g. 0.25 for quarter-Kelly). Returns 0 when there is no edge
// or the inputs are degenerate.
func KellyCriterion(edge, price, fraction float64) float64 {
	if price <= 0 || price >= 1 || edge <= 0 {
		return 0
	}
	b := 1.0/price - 1.0
	p := price + edge
	q := 1.0 - p
	if p <= 0 || p >= 1 || b <= 0 {
		return 0
	}
	kelly := (b*p - q) / b
	return math.Max(0, kelly*fraction)
}
