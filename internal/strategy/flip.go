// LP flip (C12): a single-market-at-a-time entry/exit cycle. The
// strategy rests a BUY quote on one outcome token; once that fills, it
// rests a BUY quote on the complementary outcome token at the same size.
// Holding min(entry_shares, exit_shares) of each side is redeemable for
// $1 via CTF merge regardless of which side resolves, so profit is that
// redeemable amount minus what both legs cost. A stop-loss on the entry
// leg's mark-to-market value cuts the cycle short if the exit leg hasn't
// filled and the entry side has since dropped in price.
//
// Phase dispatch happens once per Scan call rather than through the
// Python source's three separate blocking loops (_do_idle/_do_resting_
// entry/_do_resting_exit, each with its own sleep) — the supervisor
// already provides the tick cadence, so this type just needs to look at
// FlipCycle.Status and act once per tick.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

// FlipSnapshot is a read-only view of the flip cycle's current state, for
// a dashboard projection to poll.
type FlipSnapshot struct {
	Phase        types.FlipStatus
	ConditionID  string
	EntryPrice   float64
	ExitPrice    float64
	TotalProfit  float64
	TotalFlips   int
	RecentCycles []types.FlipCycle
}

// LPFlip implements runtime.Strategy for C12.
type LPFlip struct {
	client *exchange.Client
	ledger *ledger.Ledger
	store  *persist.Store
	bus    *eventbus.Bus
	gate   *risk.Gate
	cfg    config.FlipConfig
	lp     config.LPConfig // shared market-selection thresholds (min best bid, min estimated reward)
	jitter config.JitterConfig
	logger *slog.Logger

	restored       bool
	cycle          *types.FlipCycle
	legPlacedAt    map[string]time.Time // tokenID -> when this leg's quote was placed, for fill-detection grace
	errorCooldowns map[string]time.Time // conditionID -> last emergency exit, avoids immediately re-entering the same market
	meta           map[string]types.MarketInfo

	totalProfit float64
	totalFlips  int
	recent      []types.FlipCycle
}

// NewLPFlip wires the flip strategy against the shared infrastructure. lp
// supplies the reward-market selection thresholds this strategy shares
// with the LP selector (C11), since the underlying market-ranking rules
// are the same program the liquidity reward pool funds.
func NewLPFlip(client *exchange.Client, led *ledger.Ledger, store *persist.Store, bus *eventbus.Bus, gate *risk.Gate, cfg config.FlipConfig, lp config.LPConfig, jitter config.JitterConfig, logger *slog.Logger) *LPFlip {
	return &LPFlip{
		client:         client,
		ledger:         led,
		store:          store,
		bus:            bus,
		gate:           gate,
		cfg:            cfg,
		lp:             lp,
		jitter:         jitter,
		logger:         logger.With("component", "lp_flip"),
		legPlacedAt:    make(map[string]time.Time),
		errorCooldowns: make(map[string]time.Time),
		meta:           make(map[string]types.MarketInfo),
	}
}

func (s *LPFlip) Name() types.Strategy { return types.StrategyLPFlip }

func (s *LPFlip) ScanInterval() time.Duration {
	if s.cfg.ScanInterval <= 0 {
		return 15 * time.Second
	}
	return s.cfg.ScanInterval * time.Second
}

// Scan dispatches on the current cycle's phase, restoring any
// still-open cycle from persistence on its first call.
func (s *LPFlip) Scan(ctx context.Context) ([]types.Signal, error) {
	if !s.restored {
		s.restoreCycle(ctx)
		s.restored = true
	}

	if s.cycle == nil {
		if s.gate.Halted() {
			return nil, nil
		}
		return s.doIdle(ctx)
	}

	switch s.cycle.Status {
	case types.FlipRestingEntry:
		return s.doRestingEntry(ctx)
	case types.FlipRestingExit:
		return s.doRestingExit(ctx)
	default:
		s.cycle = nil
		return nil, nil
	}
}

// Shutdown cancels whatever leg is currently resting.
func (s *LPFlip) Shutdown(ctx context.Context) error {
	if s.cycle == nil {
		return nil
	}
	if _, err := s.client.CancelMarketOrders(ctx, s.cycle.ConditionID); err != nil {
		s.logger.Warn("cancel on shutdown failed", "condition_id", s.cycle.ConditionID, "error", err)
	}
	return nil
}

// Snapshot reports the current cycle and running totals for a dashboard
// projection to read.
func (s *LPFlip) Snapshot() FlipSnapshot {
	snap := FlipSnapshot{Phase: types.FlipIdle, TotalProfit: s.totalProfit, TotalFlips: s.totalFlips, RecentCycles: s.recent}
	if s.cycle != nil {
		snap.Phase = s.cycle.Status
		snap.ConditionID = s.cycle.ConditionID
		snap.EntryPrice = s.cycle.EntryPrice
		snap.ExitPrice = s.cycle.ExitPrice
	}
	return snap
}

func (s *LPFlip) restoreCycle(ctx context.Context) {
	cycles, err := s.store.LoadOpenFlipCycles(ctx)
	if err != nil {
		s.logger.Error("restore flip cycle failed", "error", err)
		return
	}
	if len(cycles) == 0 {
		return
	}
	c := cycles[0]
	s.cycle = &c
	s.logger.Info("resumed flip cycle", "condition_id", c.ConditionID, "status", c.Status)
}

// doIdle looks for a new market to enter: the same reward-market ranking
// C11 uses, trying the YES side then the NO side on each ranked market
// until one accepts a Q-score-gated entry quote.
func (s *LPFlip) doIdle(ctx context.Context) ([]types.Signal, error) {
	markets, err := s.fetchRewardMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch reward markets: %w", err)
	}
	ranked := s.rankMarkets(markets)

	for _, m := range ranked {
		s.meta[m.ConditionID] = m
		if sig := s.tryEntrySide(ctx, m, "YES"); sig != nil {
			return []types.Signal{*sig}, nil
		}
		if sig := s.tryEntrySide(ctx, m, "NO"); sig != nil {
			return []types.Signal{*sig}, nil
		}
	}
	return nil, nil
}

func (s *LPFlip) rankMarkets(markets []types.MarketInfo) []types.MarketInfo {
	out := make([]types.MarketInfo, 0, len(markets))
	now := time.Now()
	for _, m := range markets {
		if !m.Active || m.Closed {
			continue
		}
		if m.RewardsMaxSpread <= 0 || m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}
		if m.RewardsDailyRate < s.lp.MinDailyReward {
			continue
		}
		if m.EndDate.IsZero() || m.EndDate.Sub(now) < minResolutionRunway {
			continue
		}
		if last, cooling := s.errorCooldowns[m.ConditionID]; cooling && time.Since(last) < s.cfg.ErrorCooldown*time.Second {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RewardsDailyRate > out[j].RewardsDailyRate })
	return out
}

func (s *LPFlip) fetchRewardMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	var all []types.MarketInfo
	cursor := ""
	for page := 0; page < 5; page++ {
		batch, next, err := s.client.GetRewardMarkets(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

// tryEntrySide evaluates one outcome token as the cycle's entry leg:
// book depth, two-sided reward zone, reward-band pricing, and the same
// Q-score pool-share estimate C11 uses before committing capital.
func (s *LPFlip) tryEntrySide(ctx context.Context, m types.MarketInfo, outcome string) *types.Signal {
	tokenID := m.YesTokenID
	if outcome == "NO" {
		tokenID = m.NoTokenID
	}

	book, err := s.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		s.logger.Error("get book failed", "token_id", tokenID, "error", err)
		return nil
	}
	pb := parseBook(book)

	mid, ok := pb.Mid()
	if !ok || mid < 0.10 || mid > 0.90 {
		return nil
	}
	bestBid, ok := pb.BestBid()
	if !ok || bestBid < s.lp.MinBestBid {
		return nil
	}

	tick := m.TickSize
	if tick == "" {
		tick = types.Tick001
	}
	price, ok := pb.BidAt(1)
	if !ok {
		price = RoundToTick(bestBid-tickStep(tick), tick)
	}
	price = Clamp(price, 0.01, 0.99)

	maxSpread := m.RewardsMaxSpread
	if maxSpread > 0 && mid-price > maxSpread {
		price = RoundToTick(mid-maxSpread+0.01, tick)
		if price <= 0.01 || price >= 0.99 {
			return nil
		}
	}

	shares := quoteSizeUSD(s.cfg.OrderSizeUSD, price, s.jitter.SizePct)
	if m.RewardsMinSize > 0 {
		floor := m.RewardsMinSize
		if s.jitter.SizePct > 0 && s.jitter.SizePct < 1 {
			floor /= 1 - s.jitter.SizePct
		}
		if shares < floor {
			shares = floor
		}
	}
	if shares <= 0 {
		return nil
	}
	if s.gate != nil {
		if cap := s.gate.MaxPositionPerMarket(); cap > 0 && shares*price > cap {
			return nil
		}
	}

	ourSpread := math.Abs(mid - price)
	ourQ := RewardScore(maxSpread, ourSpread, shares)
	totalQ := ourQ
	for _, lvl := range pb.bids {
		spread := math.Abs(mid - lvl.Price)
		totalQ += RewardScore(maxSpread, spread, lvl.Size)
	}
	poolShare := 0.0
	if totalQ > 0 {
		poolShare = ourQ / totalQ
	}
	if m.RewardsDailyRate*poolShare < s.lp.MinEstimatedReward {
		return nil
	}

	s.cycle = &types.FlipCycle{
		ID:          uuid.NewString(),
		ConditionID: m.ConditionID,
		TokenID:     tokenID,
		Status:      types.FlipRestingEntry,
		EntryPrice:  price,
		EntrySize:   shares,
		OpenedAt:    time.Now(),
	}
	s.legPlacedAt[tokenID] = time.Now()
	if err := s.store.SaveFlipCycle(ctx, *s.cycle); err != nil {
		s.logger.Error("save flip cycle failed", "error", err)
	}

	return &types.Signal{
		Strategy:    s.Name(),
		ConditionID: m.ConditionID,
		TokenID:     tokenID,
		Side:        types.BUY,
		OrderType:   types.OrderTypeGTC,
		Price:       price,
		Size:        shares,
		TickSize:    tick,
		Reason:      fmt.Sprintf("lp flip entry %s pool_share=%.3f", outcome, poolShare),
		GeneratedAt: time.Now(),
	}
}

// doRestingEntry waits for the entry leg to fill, cancels and abandons
// the cycle if it rests too long, and on fill places the complementary
// exit leg.
func (s *LPFlip) doRestingEntry(ctx context.Context) ([]types.Signal, error) {
	c := s.cycle

	if s.cfg.MaxRestingSec > 0 && time.Since(c.OpenedAt) > s.cfg.MaxRestingSec*time.Second {
		if _, err := s.client.CancelMarketOrders(ctx, c.ConditionID); err != nil {
			s.logger.Warn("cancel stale entry failed", "error", err)
		}
		c.Status = types.FlipCancelled
		c.ClosedAt = time.Now()
		if err := s.store.SaveFlipCycle(ctx, *c); err != nil {
			s.logger.Error("save cancelled flip cycle failed", "error", err)
		}
		s.logger.Info("entry leg timed out unfilled, returning to idle", "condition_id", c.ConditionID)
		s.cycle = nil
		return nil, nil
	}

	filled, err := s.isFilled(ctx, c.TokenID)
	if err != nil {
		return nil, err
	}
	if !filled {
		return nil, nil
	}

	s.ledger.OnFill(s.Name(), c.ConditionID, c.TokenID, types.BUY, c.EntryPrice, c.EntrySize)

	m, ok := s.meta[c.ConditionID]
	if !ok {
		m, ok = s.refetchMarket(ctx, c.ConditionID)
	}
	if !ok {
		return s.emergencyExitOnEntryFailure(ctx, c), nil
	}

	entryOutcome := "YES"
	if c.TokenID == m.NoTokenID {
		entryOutcome = "NO"
	}
	exitOutcome := oppositeOutcome(entryOutcome)
	exitTokenID := m.YesTokenID
	if exitOutcome == "NO" {
		exitTokenID = m.NoTokenID
	}

	book, err := s.client.GetOrderBook(ctx, exitTokenID)
	if err != nil {
		s.logger.Error("get exit leg book failed", "token_id", exitTokenID, "error", err)
		return s.emergencyExitOnEntryFailure(ctx, c), nil
	}
	pb := parseBook(book)
	bestBid, ok := pb.BestBid()
	if !ok {
		return s.emergencyExitOnEntryFailure(ctx, c), nil
	}

	tick := m.TickSize
	if tick == "" {
		tick = types.Tick001
	}
	price := Clamp(RoundToTick(bestBid-tickStep(tick), tick), 0.01, 0.99)

	c.ExitTokenID = exitTokenID
	c.ExitPrice = price
	c.ExitSize = c.EntrySize
	c.Status = types.FlipRestingExit
	s.legPlacedAt[exitTokenID] = time.Now()
	if err := s.store.SaveFlipCycle(ctx, *c); err != nil {
		s.logger.Error("save flip cycle failed", "error", err)
	}

	return []types.Signal{{
		Strategy:    s.Name(),
		ConditionID: c.ConditionID,
		TokenID:     exitTokenID,
		Side:        types.BUY,
		OrderType:   types.OrderTypeGTC,
		Price:       price,
		Size:        c.ExitSize,
		TickSize:    tick,
		Reason:      fmt.Sprintf("lp flip exit %s", exitOutcome),
		GeneratedAt: time.Now(),
	}}, nil
}

// doRestingExit watches the entry leg's mark-to-market value for a
// stop-loss while waiting for the exit leg to fill.
func (s *LPFlip) doRestingExit(ctx context.Context) ([]types.Signal, error) {
	c := s.cycle

	if currentPrice, err := s.client.GetPrice(ctx, c.TokenID, types.SELL); err == nil {
		lossPct := (c.EntryPrice - currentPrice) / c.EntryPrice
		if s.cfg.StopLossPct > 0 && lossPct >= s.cfg.StopLossPct {
			if _, err := s.client.CancelMarketOrders(ctx, c.ConditionID); err != nil {
				s.logger.Warn("cancel exit leg on stop-loss failed", "error", err)
			}
			tick := s.tickFor(c.ConditionID)
			sig := emergencySellSignal(s.Name(), c.ConditionID, c.TokenID, currentPrice, c.EntrySize, tick)
			profit := (currentPrice - c.EntryPrice) * c.EntrySize
			s.completeCycle(ctx, c, profit, types.FlipStopLoss)
			return []types.Signal{sig}, nil
		}
	}

	filled, err := s.isFilled(ctx, c.ExitTokenID)
	if err != nil {
		return nil, err
	}
	if !filled {
		return nil, nil
	}

	s.ledger.OnFill(s.Name(), c.ConditionID, c.ExitTokenID, types.BUY, c.ExitPrice, c.ExitSize)

	entryCost := c.EntryPrice * c.EntrySize
	exitCost := c.ExitPrice * c.ExitSize
	redeemable := math.Min(c.EntrySize, c.ExitSize)
	profit := redeemable - entryCost - exitCost
	s.completeCycle(ctx, c, profit, types.FlipCompleted)
	return nil, nil
}

// emergencyExitOnEntryFailure dumps the entry leg when the complementary
// exit leg can't be placed (book unreadable, market vanished from the
// reward listing between ticks).
func (s *LPFlip) emergencyExitOnEntryFailure(ctx context.Context, c *types.FlipCycle) []types.Signal {
	price, err := s.client.GetPrice(ctx, c.TokenID, types.SELL)
	if err != nil {
		price = c.EntryPrice
	}
	tick := s.tickFor(c.ConditionID)
	sig := emergencySellSignal(s.Name(), c.ConditionID, c.TokenID, price, c.EntrySize, tick)
	profit := (sig.Price - c.EntryPrice) * c.EntrySize
	s.completeCycle(ctx, c, profit, types.FlipError)
	return []types.Signal{sig}
}

func (s *LPFlip) completeCycle(ctx context.Context, c *types.FlipCycle, profit float64, status types.FlipStatus) {
	c.Profit = profit
	c.ClosedAt = time.Now()
	c.Status = status
	if err := s.store.SaveFlipCycle(ctx, *c); err != nil {
		s.logger.Error("save completed flip cycle failed", "error", err)
	}

	s.totalProfit += profit
	s.totalFlips++
	s.recent = append(s.recent, *c)
	if len(s.recent) > 20 {
		s.recent = s.recent[len(s.recent)-20:]
	}
	s.errorCooldowns[c.ConditionID] = time.Now()

	s.logger.Info("flip cycle closed", "condition_id", c.ConditionID, "status", status, "profit", profit)
	s.cycle = nil
}

// isFilled reports whether tokenID has dropped out of the account's
// open-order set for at least fillDetectionGrace past its placement.
func (s *LPFlip) isFilled(ctx context.Context, tokenID string) (bool, error) {
	placedAt, tracked := s.legPlacedAt[tokenID]
	if tracked && time.Since(placedAt) < fillDetectionGrace {
		return false, nil
	}

	open, err := s.client.GetOpenOrders(ctx, "")
	if err != nil {
		return false, fmt.Errorf("get open orders: %w", err)
	}
	for _, o := range open {
		if o.AssetID == tokenID {
			return false, nil
		}
	}
	return true, nil
}

func (s *LPFlip) refetchMarket(ctx context.Context, conditionID string) (types.MarketInfo, bool) {
	markets, err := s.fetchRewardMarkets(ctx)
	if err != nil {
		s.logger.Error("refetch market failed", "condition_id", conditionID, "error", err)
		return types.MarketInfo{}, false
	}
	for _, m := range markets {
		if m.ConditionID == conditionID {
			s.meta[conditionID] = m
			return m, true
		}
	}
	return types.MarketInfo{}, false
}

func (s *LPFlip) tickFor(conditionID string) types.TickSize {
	if m, ok := s.meta[conditionID]; ok && m.TickSize != "" {
		return m.TickSize
	}
	return types.Tick001
}

// emergencySellSignal is the single-tick unwind used both by a failed
// exit-leg placement and a tripped stop-loss: a single GTC SELL at half
// the current price, deep enough to clear the book immediately. Unlike
// the LP selector's FOK step-down ladder, correctness here (getting out
// of the position) matters more than execution price, so one aggressive
// resting order replaces the stepped retry loop.
func emergencySellSignal(strat types.Strategy, conditionID, tokenID string, currentPrice, size float64, tick types.TickSize) types.Signal {
	price := math.Max(0.01, RoundToTick(currentPrice*0.5, tick))
	return types.Signal{
		Strategy:    strat,
		ConditionID: conditionID,
		TokenID:     tokenID,
		Side:        types.SELL,
		OrderType:   types.OrderTypeGTC,
		Price:       price,
		Size:        size,
		TickSize:    tick,
		Reason:      "lp flip emergency exit",
		GeneratedAt: time.Now(),
	}
}

// quoteSizeUSD converts a USD order size to a token count at price,
// inflated by a headroom buffer so the worst-case downward size jitter
// the execution manager applies still clears the reward program's
// minimum order size.
func quoteSizeUSD(usd, price, sizeJitterPct float64) float64 {
	if price <= 0 || usd <= 0 {
		return 0
	}
	if sizeJitterPct > 0 && sizeJitterPct < 1 {
		usd /= 1 - sizeJitterPct
	}
	return usd / price
}
