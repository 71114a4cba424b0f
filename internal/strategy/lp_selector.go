// LP selector with smart refresh (C11): ranks reward-eligible markets,
// rests one BUY quote per market within the market's incentive-spread
// band, and unwinds whatever fills out of a stop-loss/take-profit ladder.
//
// Unlike the original Python strategy, this implementation never learns
// an order's exchange-assigned ID — the supervisor (internal/runtime)
// submits signals independently of the strategy that produced them and
// never reports back an OrderResult. Live quotes are therefore tracked by
// (conditionID, tokenID) instead of order ID, and a fill is inferred when
// a tracked tokenID stops appearing in the account's open-order list.
// Likewise, a FOK exit ladder stepping down one tick every ~300ms would
// block the strategy goroutine for the whole unwind; here it steps down
// by one tick per scan tick instead, using the ladder's actual completion
// (the ledger shows the position reduced) as the signal to stop stepping.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

// fillDetectionGrace is how long a just-placed quote is exempt from the
// "missing from open orders means filled" check, so the detector never
// races the exchange's own order-acknowledgement latency.
const fillDetectionGrace = 5 * time.Second

// minResolutionRunway is how far out a market's end date must still be
// for it to be worth quoting — a market closing within days can resolve
// mid-quote and strand the position.
const minResolutionRunway = 72 * time.Hour

// liveLPQuote is one resting BUY order this strategy believes is on the
// book, tracked by market+token since no order ID is ever reported back.
type liveLPQuote struct {
	TokenID   string
	Outcome   string // "YES" or "NO"
	Price     float64
	Mid       float64
	Shares    float64
	PlacedAt  time.Time
}

// lpFilledPosition is a quote that has filled (or was seeded from a prior
// run's ledger) and is now being monitored for stop-loss / take-profit.
type lpFilledPosition struct {
	ConditionID string
	TokenID     string
	Outcome     string
	FillPrice   float64
	ExitStep    int
}

// LPSelector implements runtime.Strategy for C11.
type LPSelector struct {
	client *exchange.Client
	ledger *ledger.Ledger
	store  *persist.Store
	bus    *eventbus.Bus
	gate   *risk.Gate
	cfg    config.LPConfig
	jitter config.JitterConfig
	logger *slog.Logger

	seeded     bool
	marketSide map[string]string // conditionID -> last quoted outcome, survives a cancel so a retry prefers the same side
	live       map[string]*liveLPQuote
	filled     map[string]*lpFilledPosition // keyed by tokenID
	cooldowns  map[string]time.Time         // conditionID -> last fill, monotonic
	meta       map[string]types.MarketInfo  // conditionID -> cached listing, for tick size and labels
}

// NewLPSelector wires the LP selector against the shared exchange client,
// ledger, and persistence/event infrastructure every strategy uses.
func NewLPSelector(client *exchange.Client, led *ledger.Ledger, store *persist.Store, bus *eventbus.Bus, gate *risk.Gate, cfg config.LPConfig, jitter config.JitterConfig, logger *slog.Logger) *LPSelector {
	return &LPSelector{
		client:     client,
		ledger:     led,
		store:      store,
		bus:        bus,
		gate:       gate,
		cfg:        cfg,
		jitter:     jitter,
		logger:     logger.With("component", "lp_selector"),
		marketSide: make(map[string]string),
		live:       make(map[string]*liveLPQuote),
		filled:     make(map[string]*lpFilledPosition),
		cooldowns:  make(map[string]time.Time),
		meta:       make(map[string]types.MarketInfo),
	}
}

func (s *LPSelector) Name() types.Strategy { return types.StrategyLiquidity }

func (s *LPSelector) ScanInterval() time.Duration {
	if s.cfg.RefreshInterval <= 0 {
		return 30 * time.Second
	}
	return s.cfg.RefreshInterval * time.Second
}

// Scan runs one full cycle: seed legacy positions (first call only), check
// for fills against the live set, step the exit ladder for anything
// filled, then — unless the drawdown kill switch has latched — rank
// reward markets and place or refresh quotes.
func (s *LPSelector) Scan(ctx context.Context) ([]types.Signal, error) {
	if !s.seeded {
		s.seedLegacyPositions()
		s.seeded = true
	}

	s.detectFills(ctx)

	signals := s.monitorExits(ctx)

	if s.gate.Halted() {
		s.logger.Warn("drawdown halt active, unwinding only")
		return signals, nil
	}

	quotes, err := s.rankAndQuote(ctx)
	if err != nil {
		return signals, fmt.Errorf("rank and quote: %w", err)
	}
	signals = append(signals, quotes...)

	s.bus.Publish(types.BotEvent{Type: types.EventMarketScanned, Strategy: s.Name(), Timestamp: time.Now()})
	return signals, nil
}

// Shutdown cancels every resting quote this strategy believes is live.
func (s *LPSelector) Shutdown(ctx context.Context) error {
	for conditionID := range s.live {
		if _, err := s.client.CancelMarketOrders(ctx, conditionID); err != nil {
			s.logger.Warn("cancel on shutdown failed", "condition_id", conditionID, "error", err)
		}
	}
	return nil
}

// seedLegacyPositions picks up any already-held position from a prior run
// (or a position opened outside this strategy's own fill detection) so
// the stop-loss/take-profit ladder covers it from process start.
func (s *LPSelector) seedLegacyPositions() {
	for _, pos := range s.ledger.Positions() {
		if pos.Size <= 0 {
			continue
		}
		if _, already := s.filled[pos.TokenID]; already {
			continue
		}
		s.filled[pos.TokenID] = &lpFilledPosition{
			ConditionID: pos.ConditionID,
			TokenID:     pos.TokenID,
			FillPrice:   pos.AvgEntryPrice,
		}
		s.logger.Info("seeded legacy position", "token_id", pos.TokenID, "size", pos.Size)
	}
}

// detectFills diffs the account's current open orders against what this
// strategy believes is resting. A tracked token absent from the open set
// for longer than fillDetectionGrace is assumed filled.
func (s *LPSelector) detectFills(ctx context.Context) {
	if len(s.live) == 0 {
		return
	}
	open, err := s.client.GetOpenOrders(ctx, "")
	if err != nil {
		s.logger.Error("get open orders failed", "error", err)
		return
	}
	stillOpen := make(map[string]bool, len(open))
	for _, o := range open {
		stillOpen[o.AssetID] = true
	}

	for conditionID, quote := range s.live {
		if stillOpen[quote.TokenID] {
			continue
		}
		if time.Since(quote.PlacedAt) < fillDetectionGrace {
			continue
		}

		s.ledger.OnFill(s.Name(), conditionID, quote.TokenID, types.BUY, quote.Price, quote.Shares)
		s.filled[quote.TokenID] = &lpFilledPosition{
			ConditionID: conditionID,
			TokenID:     quote.TokenID,
			Outcome:     quote.Outcome,
			FillPrice:   quote.Price,
		}
		s.cooldowns[conditionID] = time.Now()
		delete(s.live, conditionID)
		s.logger.Info("lp fill detected", "condition_id", conditionID, "token_id", quote.TokenID, "price", quote.Price)
	}
}

// monitorExits steps the stop-loss / take-profit ladder for every filled
// position. A position whose ledger size has dropped to zero is
// considered closed and dropped from tracking without emitting a signal.
func (s *LPSelector) monitorExits(ctx context.Context) []types.Signal {
	if !s.cfg.AutoClose || len(s.filled) == 0 {
		return nil
	}

	var signals []types.Signal
	for tokenID, fp := range s.filled {
		remaining := math.Abs(s.ledger.Position(tokenID).Size)
		if remaining <= 1e-9 {
			delete(s.filled, tokenID)
			continue
		}

		bestBid, err := s.client.GetPrice(ctx, tokenID, types.SELL)
		if err != nil {
			s.logger.Error("get exit price failed", "token_id", tokenID, "error", err)
			continue
		}

		pnlPct := (bestBid - fp.FillPrice) / fp.FillPrice
		switch {
		case pnlPct <= -s.cfg.StopLossPct:
		case pnlPct >= s.cfg.TakeProfitPct:
		default:
			continue
		}

		tick := s.tickFor(fp.ConditionID)
		step := tickStep(tick) * float64(fp.ExitStep)
		price := RoundToTick(bestBid, tick) - step
		if price < 0.01 {
			s.logger.Warn("abandoning exit ladder, price floor reached", "token_id", tokenID, "pnl_pct", pnlPct)
			delete(s.filled, tokenID)
			continue
		}

		signals = append(signals, types.Signal{
			Strategy:    s.Name(),
			ConditionID: fp.ConditionID,
			TokenID:     tokenID,
			Side:        types.SELL,
			OrderType:   types.OrderTypeFOK,
			Price:       price,
			Size:        remaining,
			TickSize:    tick,
			Reason:      fmt.Sprintf("lp exit pnl=%.1f%% step=%d", pnlPct*100, fp.ExitStep),
			GeneratedAt: time.Now(),
		})
		fp.ExitStep++
	}
	return signals
}

// rankAndQuote fetches reward-eligible markets, filters and ranks them,
// and places or refreshes quotes up to MaxMarkets concurrent slots.
// Markets no longer in this tick's target set have their quote cancelled.
func (s *LPSelector) rankAndQuote(ctx context.Context) ([]types.Signal, error) {
	markets, err := s.fetchRewardMarkets(ctx)
	if err != nil {
		return nil, err
	}
	ranked := s.rankMarkets(markets)

	var signals []types.Signal
	targeted := make(map[string]bool, s.cfg.MaxMarkets)
	active := len(s.live)

	for _, m := range ranked {
		if len(targeted) >= s.cfg.MaxMarkets {
			break
		}
		_, alreadyLive := s.live[m.ConditionID]
		if !alreadyLive && active >= s.cfg.MaxMarkets {
			continue
		}

		s.meta[m.ConditionID] = m
		targeted[m.ConditionID] = true

		sig := s.quoteOrKeep(ctx, m)
		if sig != nil {
			signals = append(signals, *sig)
			if !alreadyLive {
				active++
			}
		}
	}

	for conditionID := range s.live {
		if targeted[conditionID] {
			continue
		}
		if _, err := s.client.CancelMarketOrders(ctx, conditionID); err != nil {
			s.logger.Warn("cancel stale quote failed", "condition_id", conditionID, "error", err)
		}
		delete(s.live, conditionID)
	}

	return signals, nil
}

func (s *LPSelector) fetchRewardMarkets(ctx context.Context) ([]types.MarketInfo, error) {
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

// rankMarkets applies the eligibility filters and sorts survivors by
// daily reward descending, so the richest markets are quoted first.
func (s *LPSelector) rankMarkets(markets []types.MarketInfo) []types.MarketInfo {
	out := make([]types.MarketInfo, 0, len(markets))
	now := time.Now()
	for _, m := range markets {
		if !m.Active || m.Closed {
			continue
		}
		if m.RewardsMaxSpread <= 0 {
			continue
		}
		if m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}
		if m.RewardsDailyRate < s.cfg.MinDailyReward {
			continue
		}
		if m.EndDate.IsZero() || m.EndDate.Sub(now) < minResolutionRunway {
			continue
		}
		if last, cooling := s.cooldowns[m.ConditionID]; cooling {
			if time.Since(last) < s.cfg.CooldownAfterFill*time.Second {
				continue
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RewardsDailyRate > out[j].RewardsDailyRate })
	return out
}

// quoteOrKeep tries the market's current (or default) side; if that side
// declines to quote and there is no existing live order to preserve, it
// tries the opposite side once as a fallback.
func (s *LPSelector) quoteOrKeep(ctx context.Context, m types.MarketInfo) *types.Signal {
	existing := s.live[m.ConditionID]
	outcome := "YES"
	if existing != nil {
		outcome = existing.Outcome
	} else if prev, ok := s.marketSide[m.ConditionID]; ok {
		outcome = prev
	}

	if sig := s.tryQuoteSide(ctx, m, outcome, existing); sig != nil {
		s.marketSide[m.ConditionID] = outcome
		return sig
	}
	if existing != nil {
		return nil // smart refresh decided to keep the resting quote as-is
	}

	fallback := oppositeOutcome(outcome)
	if sig := s.tryQuoteSide(ctx, m, fallback, nil); sig != nil {
		s.marketSide[m.ConditionID] = fallback
		return sig
	}
	return nil
}

// tryQuoteSide evaluates one outcome token for quoting: book depth,
// two-sided reward zone, smart-refresh keep rule, reward-band pricing,
// and a Q-score estimate of this market's daily reward before committing.
func (s *LPSelector) tryQuoteSide(ctx context.Context, m types.MarketInfo, outcome string, existing *liveLPQuote) *types.Signal {
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
	if !ok || bestBid < s.cfg.MinBestBid {
		return nil
	}

	// Anti-manipulation keep rule: preserve the resting order as long as it
	// is still within the market's reward band, not merely because the
	// midpoint has barely moved. A naive "<2% midpoint move" rule is easy to
	// game by walking the midpoint in small steps to force cancel-replace
	// churn; anchoring to max_incentive_spread instead means the order only
	// ever gets replaced once it would stop earning rewards anyway.
	if existing != nil && existing.Outcome == outcome && math.Abs(mid-existing.Price) <= m.RewardsMaxSpread {
		return nil // within the smart-refresh band: keep the resting quote
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

	shares := s.quoteSizeShares(m, price)
	if shares <= 0 {
		return nil
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
	estDaily := m.RewardsDailyRate * poolShare
	if estDaily < s.cfg.MinEstimatedReward {
		return nil
	}

	if existing != nil {
		if _, err := s.client.CancelMarketOrders(ctx, m.ConditionID); err != nil {
			s.logger.Warn("cancel before requote failed", "condition_id", m.ConditionID, "error", err)
		}
	}

	s.live[m.ConditionID] = &liveLPQuote{
		TokenID:  tokenID,
		Outcome:  outcome,
		Price:    price,
		Mid:      mid,
		Shares:   shares,
		PlacedAt: time.Now(),
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
		Reason:      fmt.Sprintf("lp %s-bid reward=$%.0f/d pool_share=%.3f", outcome, m.RewardsDailyRate, poolShare),
		GeneratedAt: time.Now(),
	}
}

// quoteSizeShares converts the configured per-market order size in USD to
// a token count at price, inflated by a headroom buffer so the worst-case
// downward size jitter the execution manager applies still clears
// whatever minimum order size the reward program requires. If the
// market's own RewardsMinSize floor needs more shares than the configured
// order size buys, size up to the floor instead; if the resulting notional
// would exceed the per-market exposure cap, skip the market entirely (0).
func (s *LPSelector) quoteSizeShares(m types.MarketInfo, price float64) float64 {
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

	if s.gate != nil {
		if cap := s.gate.MaxPositionPerMarket(); cap > 0 && shares*price > cap {
			return 0
		}
	}
	return shares
}

func (s *LPSelector) tickFor(conditionID string) types.TickSize {
	if m, ok := s.meta[conditionID]; ok && m.TickSize != "" {
		return m.TickSize
	}
	return types.Tick001
}

func oppositeOutcome(outcome string) string {
	if outcome == "YES" {
		return "NO"
	}
	return "YES"
}
