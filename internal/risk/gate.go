package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-mm/pkg/types"
)

// InventorySnapshot is the read-only view of portfolio state the gate needs
// to evaluate a signal. strategy-layer inventories implement it structurally
// so this package never imports the strategy package.
type InventorySnapshot interface {
	PortfolioValueUSD() float64
	MarketExposureUSD(conditionID string) float64
	TotalExposureUSD() float64
	OpenPositionCount() int
}

// GateConfig bounds what the gate will approve. StartingBalanceUSD and
// MaxDrawdownUSD define the drawdown halt: once portfolio value falls to or
// below StartingBalanceUSD-MaxDrawdownUSD, the gate latches closed and stays
// closed for the remainder of the process lifetime.
type GateConfig struct {
	StartingBalanceUSD   float64
	MaxDrawdownUSD       float64
	MaxTradeSizeUSD      float64
	MaxDailyVolumeUSD    float64
	MaxOpenPositions     int
	MaxPositionPerMarket float64
	MaxPortfolioExposure float64
}

// Gate is the synchronous risk check every Signal passes through before it
// reaches the order manager. Gate.Check is called inline on the hot path
// and returns a verdict immediately.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger

	mu       sync.Mutex
	halted   atomic.Bool // fast-path mirror of the drawdown latch, safe to read lock-free
	haltedAt time.Time
	reason   string
}

// NewGate creates a risk gate. It logs under the "risk_gate" component tag.
func NewGate(cfg GateConfig, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger.With("component", "risk_gate")}
}

// MaxPositionPerMarket returns the configured per-market exposure cap, so
// callers that size an order before submitting it (the LP selector's
// skip-if-too-big quoting rule) can stay under the same ceiling the gate
// would otherwise downsize them to.
func (g *Gate) MaxPositionPerMarket() float64 {
	return g.cfg.MaxPositionPerMarket
}

// Halted reports whether the drawdown latch has tripped. Safe to call from
// any goroutine without locking. The LP selector polls it each scan after
// its fill and exit checks, and the flip strategy before opening a new
// cycle; the other strategies do not read it and are stopped by Check.
func (g *Gate) Halted() bool {
	return g.halted.Load()
}

// Check runs the six ordered risk checks against sig: (1) drawdown kill
// switch, (2) per-trade size cap, (3) daily volume cap, (4) open-position
// count, (5) per-market exposure (BUY only), (6) portfolio exposure. Checks
// 2, 3, 5, and 6 downsize the signal when possible rather than rejecting
// outright; 1 and 4 always reject. The first check that rejects decides the
// verdict — later checks never run. A drawdown warning raised by check 1 is
// carried on the approved verdict.
func (g *Gate) Check(sig types.Signal, inv InventorySnapshot, dailyVolumeUSD float64) types.RiskVerdict {
	drawdown := g.checkDrawdown(sig, inv)
	if !drawdown.Approved {
		return drawdown
	}

	sig = g.checkTradeSize(sig)

	if v, ok := g.checkDailyVolume(sig, dailyVolumeUSD); !ok {
		return v
	} else if v.Adjusted != nil {
		sig = *v.Adjusted
	}

	if g.cfg.MaxOpenPositions > 0 && inv.OpenPositionCount() >= g.cfg.MaxOpenPositions {
		return types.Reject("max open positions")
	}

	if sig.Side == types.BUY {
		if v, ok := g.checkMarketExposure(sig, inv); !ok {
			return v
		} else if v.Adjusted != nil {
			sig = *v.Adjusted
		}
	}

	if v, ok := g.checkPortfolioExposure(sig, inv); !ok {
		return v
	} else if v.Adjusted != nil {
		sig = *v.Adjusted
	}

	if sig.Size <= 0 {
		return types.Reject("signal downsized to zero")
	}
	verdict := types.ApproveAdjusted(sig)
	verdict.Warning = drawdown.Warning
	return verdict
}

// checkDrawdown compares current portfolio value against the starting
// balance. Once breached it latches: even if PortfolioValueUSD recovers on
// a later call, the gate stays halted until the process restarts, since a
// drawdown this deep means something about the strategy assumptions broke.
// At 80% of the drawdown budget consumed (but not yet breached) it approves
// with a warning so the dashboard can surface the approach to the limit.
//
// Once latched, every signal is rejected — BUY and SELL alike — for the
// remainder of the process lifetime; there is no side-based exception here.
func (g *Gate) checkDrawdown(sig types.Signal, inv InventorySnapshot) types.RiskVerdict {
	if g.halted.Load() {
		g.mu.Lock()
		reason := g.reason
		g.mu.Unlock()
		verdict := types.Reject(reason)
		verdict.Halted = true
		return verdict
	}

	maxLoss := g.cfg.MaxDrawdownUSD
	floor := g.cfg.StartingBalanceUSD - maxLoss
	value := inv.PortfolioValueUSD()

	if value <= floor {
		reason := fmt.Sprintf("drawdown halt: portfolio %.2f <= floor %.2f", value, floor)
		g.mu.Lock()
		g.halted.Store(true)
		g.haltedAt = time.Now()
		g.reason = reason
		g.mu.Unlock()

		g.logger.Error("DRAWDOWN HALT", "portfolio_value", value, "floor", floor)
		verdict := types.Reject(reason)
		verdict.Halted = true
		return verdict
	}

	consumed := g.cfg.StartingBalanceUSD - value
	if maxLoss > 0 && consumed >= 0.8*maxLoss {
		verdict := types.Approve()
		verdict.Warning = fmt.Sprintf("drawdown at %.0f%% of budget", 100*consumed/maxLoss)
		return verdict
	}
	return types.Approve()
}

// checkTradeSize downsizes sig so its notional never exceeds MaxTradeSizeUSD.
func (g *Gate) checkTradeSize(sig types.Signal) types.Signal {
	if g.cfg.MaxTradeSizeUSD <= 0 || sig.Price <= 0 {
		return sig
	}
	if sig.NotionalUSD() > g.cfg.MaxTradeSizeUSD {
		sig.Size = g.cfg.MaxTradeSizeUSD / sig.Price
	}
	return sig
}

// checkDailyVolume downsizes sig to fit the remaining daily volume budget,
// rejecting only if no budget remains at all.
func (g *Gate) checkDailyVolume(sig types.Signal, dailyVolumeUSD float64) (types.RiskVerdict, bool) {
	if g.cfg.MaxDailyVolumeUSD <= 0 {
		return types.Approve(), true
	}
	remaining := g.cfg.MaxDailyVolumeUSD - dailyVolumeUSD
	if remaining <= 0 {
		return types.Reject("daily volume cap exhausted"), false
	}
	if sig.NotionalUSD() > remaining && sig.Price > 0 {
		sig.Size = remaining / sig.Price
		return types.ApproveAdjusted(sig), true
	}
	return types.Approve(), true
}

// checkMarketExposure downsizes a BUY sig to fit the per-market exposure
// cap, rejecting only if the market is already at or over the cap.
func (g *Gate) checkMarketExposure(sig types.Signal, inv InventorySnapshot) (types.RiskVerdict, bool) {
	if g.cfg.MaxPositionPerMarket <= 0 {
		return types.Approve(), true
	}
	headroom := g.cfg.MaxPositionPerMarket - inv.MarketExposureUSD(sig.ConditionID)
	if headroom <= 0 {
		return types.Reject("per-market position limit"), false
	}
	if sig.NotionalUSD() > headroom && sig.Price > 0 {
		sig.Size = headroom / sig.Price
		return types.ApproveAdjusted(sig), true
	}
	return types.Approve(), true
}

// checkPortfolioExposure downsizes sig to fit the global exposure cap,
// rejecting only if the portfolio is already at or over the cap.
func (g *Gate) checkPortfolioExposure(sig types.Signal, inv InventorySnapshot) (types.RiskVerdict, bool) {
	if g.cfg.MaxPortfolioExposure <= 0 {
		return types.Approve(), true
	}
	headroom := g.cfg.MaxPortfolioExposure - inv.TotalExposureUSD()
	if headroom <= 0 {
		return types.Reject("portfolio exposure limit"), false
	}
	if sig.NotionalUSD() > headroom && sig.Price > 0 {
		sig.Size = headroom / sig.Price
		return types.ApproveAdjusted(sig), true
	}
	return types.Approve(), true
}
