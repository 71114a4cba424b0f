package dashboard

import (
	"context"
	"log/slog"

	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/pkg/types"
)

// Projection is the event-bus consumer that applies every BotEvent to a
// State. It is the only writer of State; every other reader goes through
// State.Snapshot's read lock. Balance and positions value are read
// directly off the ledger on every applied event rather than carried in
// the event payload, using the ledger's own RWMutex for a consistent
// concurrent read (internal/ledger's doc comment on exactly this shape).
type Projection struct {
	state       *State
	ledger      *ledger.Ledger
	bus         *eventbus.Bus
	events      <-chan types.BotEvent
	unsubscribe func()
	logger      *slog.Logger
}

// NewProjection wires the dashboard projection against the shared event
// bus and ledger. It subscribes to the bus immediately, so events published
// between construction and Run are buffered rather than lost.
func NewProjection(state *State, led *ledger.Ledger, bus *eventbus.Bus, logger *slog.Logger) *Projection {
	ch, unsubscribe := bus.Subscribe()
	return &Projection{state: state, ledger: led, bus: bus, events: ch, unsubscribe: unsubscribe, logger: logger.With("component", "dashboard")}
}

// Run applies events from the subscription NewProjection opened until ctx
// is cancelled, then unsubscribes.
func (p *Projection) Run(ctx context.Context) {
	defer p.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.events:
			if !ok {
				return
			}
			p.apply(evt)
		}
	}
}

func (p *Projection) apply(evt types.BotEvent) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	switch evt.Type {
	case types.EventTradeExecuted:
		p.applyTrade(evt)
	case types.EventEdgeDetected:
		c := p.state.counterFor(evt.Strategy)
		c.EdgesDetected++
		c.LastActivityAt = evt.Timestamp
		p.appendActivity(evt, detailString(evt.Data))
	case types.EventMarketScanned:
		c := p.state.counterFor(evt.Strategy)
		c.MarketsScanned++
		c.LastActivityAt = evt.Timestamp
	case types.EventDrawdownHalt:
		p.state.drawdownHalted = true
		p.state.haltReason = detailString(evt.Data)
		p.appendActivity(evt, p.state.haltReason)
	case types.EventDrawdownWarning:
		p.appendActivity(evt, detailString(evt.Data))
	case types.EventStrategyError:
		c := p.state.counterFor(evt.Strategy)
		c.Errored = true
		c.LastError = detailString(evt.Data)
		c.LastActivityAt = evt.Timestamp
		p.appendActivity(evt, c.LastError)
	}
}

// applyTrade updates per-strategy counters, the daily-volume figure (only
// for fills that actually moved size, not a resting GTC placement), and
// refreshes the cash/positions-value figures from the ledger.
func (p *Projection) applyTrade(evt types.BotEvent) {
	result, ok := evt.Data.(types.OrderResult)
	if !ok {
		return
	}

	c := p.state.counterFor(evt.Strategy)
	c.TradesExecuted++
	c.LastActivityAt = evt.Timestamp
	if !result.IsResting && result.FilledSize > 0 {
		c.DailyVolumeUSD += result.FilledSize * result.FillPrice
	}

	p.state.cash = p.ledger.Cash()
	p.state.positionsValue = p.ledger.TotalExposureUSD()
	p.state.balanceHistory = append(p.state.balanceHistory, BalanceSample{
		Timestamp:      evt.Timestamp,
		Cash:           p.state.cash,
		PositionsValue: p.state.positionsValue,
	})
	if len(p.state.balanceHistory) > balanceHistoryCapacity {
		p.state.balanceHistory = p.state.balanceHistory[len(p.state.balanceHistory)-balanceHistoryCapacity:]
	}

	detail := result.Reason
	if result.Accepted {
		detail = resultDetail(result)
	}
	p.appendActivity(evt, detail)
}

func (p *Projection) appendActivity(evt types.BotEvent, detail string) {
	p.state.activity = append(p.state.activity, ActivityEntry{
		Timestamp:   evt.Timestamp,
		Strategy:    evt.Strategy,
		ConditionID: evt.ConditionID,
		Kind:        evt.Type,
		Detail:      detail,
	})
	if len(p.state.activity) > activityLogCapacity {
		p.state.activity = p.state.activity[len(p.state.activity)-activityLogCapacity:]
	}
}

func resultDetail(r types.OrderResult) string {
	if r.IsResting {
		return "resting order placed, order_id=" + r.OrderID
	}
	return "filled " + string(r.Signal.Side) + " " + r.Signal.TokenID
}

func detailString(data interface{}) string {
	if s, ok := data.(string); ok {
		return s
	}
	return ""
}
