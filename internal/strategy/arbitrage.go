// YES+NO cost-sum arbitrage (C13): in a healthy binary market, the best
// ask for YES plus the best ask for NO should sum to ~$1 since exactly
// one side resolves true. When the sum drops meaningfully below $1,
// buying both sides locks in the difference as profit, redeemable at
// resolution regardless of outcome.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/types"
)

// Arbitrage implements runtime.Strategy for C13.
type Arbitrage struct {
	client *exchange.Client
	bus    *eventbus.Bus
	cfg    config.ArbitrageConfig
	logger *slog.Logger
}

// NewArbitrage wires the arbitrage scanner against the shared exchange
// client and event bus. It needs no ledger or risk-gate dependency of its
// own: the signals it emits flow through the same execution pipeline
// every other strategy uses.
func NewArbitrage(client *exchange.Client, bus *eventbus.Bus, cfg config.ArbitrageConfig, logger *slog.Logger) *Arbitrage {
	return &Arbitrage{client: client, bus: bus, cfg: cfg, logger: logger.With("component", "arbitrage")}
}

func (a *Arbitrage) Name() types.Strategy { return types.StrategyArbitrage }

func (a *Arbitrage) ScanInterval() time.Duration {
	if a.cfg.ScanInterval <= 0 {
		return 20 * time.Second
	}
	return a.cfg.ScanInterval * time.Second
}

// Scan pages through every active two-outcome market, checks its
// best-ask cost sum against 1.0, and emits a paired BUY signal for any
// market whose locked-in profit clears the configured minimum.
func (a *Arbitrage) Scan(ctx context.Context) ([]types.Signal, error) {
	markets, err := a.fetchRewardMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch reward markets: %w", err)
	}

	var signals []types.Signal
	for _, m := range markets {
		if !m.Active || m.Closed || m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}

		yesAsk, err := a.client.GetPrice(ctx, m.YesTokenID, types.BUY)
		if err != nil {
			a.logger.Error("get yes ask failed", "condition_id", m.ConditionID, "error", err)
			continue
		}
		noAsk, err := a.client.GetPrice(ctx, m.NoTokenID, types.BUY)
		if err != nil {
			a.logger.Error("get no ask failed", "condition_id", m.ConditionID, "error", err)
			continue
		}
		if yesAsk <= 0 || noAsk <= 0 {
			continue
		}

		cost := yesAsk + noAsk
		profit := 1 - cost
		minProfit := a.cfg.MinProfitUSD
		if profit < minProfit {
			continue
		}

		tick := m.TickSize
		if tick == "" {
			tick = types.Tick001
		}
		// Each leg's share count is max_trade_size_usd scaled by the
		// other leg's counter-probability, not divided by its own ask —
		// this is what makes both legs consume equal dollars at cost
		// sum ~1.0.
		yesSize := a.cfg.MaxTradeSizeUSD * (1 - noAsk)
		noSize := a.cfg.MaxTradeSizeUSD * (1 - yesAsk)
		reason := fmt.Sprintf("arb cost=%.4f profit=%.4f", cost, profit)

		signals = append(signals,
			types.Signal{Strategy: a.Name(), ConditionID: m.ConditionID, TokenID: m.YesTokenID, Side: types.BUY, OrderType: types.OrderTypeFOK, Price: yesAsk, Size: yesSize, TickSize: tick, Reason: reason, GeneratedAt: time.Now()},
			types.Signal{Strategy: a.Name(), ConditionID: m.ConditionID, TokenID: m.NoTokenID, Side: types.BUY, OrderType: types.OrderTypeFOK, Price: noAsk, Size: noSize, TickSize: tick, Reason: reason, GeneratedAt: time.Now()},
		)
		a.bus.Publish(types.BotEvent{Type: types.EventEdgeDetected, Strategy: a.Name(), ConditionID: m.ConditionID, Data: profit, Timestamp: time.Now()})
	}
	return signals, nil
}

// Shutdown is a no-op: arbitrage only ever places FOK orders, which never rest.
func (a *Arbitrage) Shutdown(ctx context.Context) error { return nil }

func (a *Arbitrage) fetchRewardMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	var all []types.MarketInfo
	cursor := ""
	for page := 0; page < 5; page++ {
		batch, next, err := a.client.GetRewardMarkets(ctx, cursor)
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
