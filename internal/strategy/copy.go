// Copy-trading (C14a): mirrors a list of tracked wallet addresses. Each
// scan diffs a trader's current positions against the last snapshot this
// strategy saved for them; a new or larger position becomes a scaled BUY,
// a closed or smaller one becomes a scaled SELL. A random pre-publish
// delay keeps the bot's own trades from landing suspiciously close to
// the trader's.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/persist"
	"polymarket-mm/pkg/types"
)

// copySnapshot is one tracked trader's position, as last observed. A
// trader's snapshots are JSON-encoded together as one array into the
// bot_state KV table under key "copy_snapshot_<address>", one row per
// address.
type copySnapshot struct {
	TokenID     string  `json:"token_id"`
	ConditionID string  `json:"condition_id"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
}

// Copy implements runtime.Strategy for C14a.
type Copy struct {
	client *exchange.Client
	store  *persist.Store
	bus    *eventbus.Bus
	cfg    config.CopyConfig
	logger *slog.Logger
	sleep  func(time.Duration) // overridable in tests
}

// NewCopy wires the copy-trading strategy.
func NewCopy(client *exchange.Client, store *persist.Store, bus *eventbus.Bus, cfg config.CopyConfig, logger *slog.Logger) *Copy {
	return &Copy{client: client, store: store, bus: bus, cfg: cfg, logger: logger.With("component", "copy"), sleep: time.Sleep}
}

func (c *Copy) Name() types.Strategy { return types.StrategyCopy }

func (c *Copy) ScanInterval() time.Duration {
	if c.cfg.PollInterval <= 0 {
		return 60 * time.Second
	}
	return c.cfg.PollInterval * time.Second
}

// Scan checks every tracked trader in turn. Every trader's snapshot is
// overwritten unconditionally at the end of each check, whether or not it
// produced any signals, so the next scan always diffs against the truth
// as of this scan.
func (c *Copy) Scan(ctx context.Context) ([]types.Signal, error) {
	var signals []types.Signal
	for _, addr := range c.cfg.Traders {
		sigs, err := c.checkTrader(ctx, addr)
		if err != nil {
			c.logger.Error("check trader failed", "address", addr, "error", err)
			continue
		}
		signals = append(signals, sigs...)
	}

	if len(signals) > 0 {
		delay := time.Duration(rand.Int63n(int64(c.maxDelay()) + 1))
		c.sleep(delay)
		c.bus.Publish(types.BotEvent{Type: types.EventEdgeDetected, Strategy: c.Name(), Data: len(signals), Timestamp: time.Now()})
	}
	return signals, nil
}

func (c *Copy) Shutdown(ctx context.Context) error { return nil }

func (c *Copy) maxDelay() time.Duration {
	if c.cfg.MaxDelaySec <= 0 {
		return 0
	}
	return time.Duration(c.cfg.MaxDelaySec) * time.Second
}

func (c *Copy) checkTrader(ctx context.Context, address string) ([]types.Signal, error) {
	current, err := c.client.GetPositions(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	prev, err := c.loadSnapshot(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	currentByToken := make(map[string]types.Position, len(current))
	for _, pos := range current {
		currentByToken[pos.TokenID] = pos
	}

	var signals []types.Signal
	for tokenID, pos := range currentByToken {
		prevPos, existed := prev[tokenID]
		prevSize := 0.0
		if existed {
			prevSize = prevPos.Size
		}
		delta := pos.Size - prevSize
		if delta > 0 {
			if sig := c.buySignal(pos, delta); sig != nil {
				signals = append(signals, *sig)
			}
		} else if delta < 0 {
			signals = append(signals, c.sellSignal(pos, -delta))
		}
	}
	for tokenID, prevPos := range prev {
		if _, stillHeld := currentByToken[tokenID]; stillHeld {
			continue
		}
		// position fully closed since the last snapshot
		signals = append(signals, c.sellSignal(types.Position{TokenID: prevPos.TokenID, ConditionID: prevPos.ConditionID, AvgEntryPrice: prevPos.Price}, prevPos.Size))
	}

	if err := c.saveSnapshot(ctx, address, currentByToken); err != nil {
		c.logger.Error("save snapshot failed", "address", address, "error", err)
	}
	return signals, nil
}

// buySignal scales a new-or-larger position by the configured scale
// factor and drops it if the scaled notional doesn't clear the minimum
// trade size — the Python source applies this floor only to buys.
func (c *Copy) buySignal(pos types.Position, delta float64) *types.Signal {
	scaled := delta * c.cfg.ScaleFactor
	if pos.AvgEntryPrice > 0 && scaled*pos.AvgEntryPrice < c.cfg.MinTradeUSD {
		return nil
	}
	return &types.Signal{
		Strategy:    c.Name(),
		ConditionID: pos.ConditionID,
		TokenID:     pos.TokenID,
		Side:        types.BUY,
		OrderType:   types.OrderTypeGTC,
		Price:       pos.AvgEntryPrice,
		Size:        scaled,
		TickSize:    types.Tick001,
		Reason:      "copy: trader increased position",
		GeneratedAt: time.Now(),
	}
}

// sellSignal mirrors a decreased or closed position. No minimum-trade
// check applies here, matching the Python source: an exit is always
// mirrored regardless of size.
func (c *Copy) sellSignal(pos types.Position, delta float64) types.Signal {
	return types.Signal{
		Strategy:    c.Name(),
		ConditionID: pos.ConditionID,
		TokenID:     pos.TokenID,
		Side:        types.SELL,
		OrderType:   types.OrderTypeGTC,
		Price:       pos.AvgEntryPrice,
		Size:        delta * c.cfg.ScaleFactor,
		TickSize:    types.Tick001,
		Reason:      "copy: trader decreased position",
		GeneratedAt: time.Now(),
	}
}

func (c *Copy) loadSnapshot(ctx context.Context, address string) (map[string]copySnapshot, error) {
	raw, ok, err := c.store.GetState(ctx, snapshotKey(address))
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]copySnapshot{}, nil
	}
	var snaps []copySnapshot
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	out := make(map[string]copySnapshot, len(snaps))
	for _, s := range snaps {
		out[s.TokenID] = s
	}
	return out, nil
}

func (c *Copy) saveSnapshot(ctx context.Context, address string, current map[string]types.Position) error {
	snaps := make([]copySnapshot, 0, len(current))
	for _, pos := range current {
		snaps = append(snaps, copySnapshot{TokenID: pos.TokenID, ConditionID: pos.ConditionID, Size: pos.Size, Price: pos.AvgEntryPrice})
	}
	body, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.store.SetState(ctx, snapshotKey(address), string(body))
}

func snapshotKey(address string) string {
	return "copy_snapshot_" + address
}
