// Package dashboard implements the event-apply projection: a read-mostly
// snapshot of bot state built entirely from the event bus, never by
// polling strategy internals directly. No HTTP/WS serving layer is
// implemented — only the state/event interface a rendering layer would
// consume.
package dashboard

import (
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// activityLogCapacity bounds the in-memory ring of recent trade/edge
// entries so a long-running process doesn't grow this list unbounded.
const activityLogCapacity = 200

// balanceHistoryCapacity bounds the sampled balance history kept for a
// simple equity-curve view.
const balanceHistoryCapacity = 500

// BalanceSample is one point on the balance history line.
type BalanceSample struct {
	Timestamp      time.Time
	Cash           float64
	PositionsValue float64
}

// StrategyCounters tracks per-strategy activity for the dashboard's
// per-strategy breakdown.
type StrategyCounters struct {
	TradesExecuted int
	EdgesDetected  int
	MarketsScanned int
	DailyVolumeUSD float64
	Errored        bool
	LastError      string
	LastActivityAt time.Time
}

// ActivityEntry is one line in the dashboard's activity log.
type ActivityEntry struct {
	Timestamp   time.Time
	Strategy    types.Strategy
	ConditionID string
	Kind        types.EventType
	Detail      string
}

// State is the mutable projection the dashboard reads. It is written
// only by Projection.apply; every other reader must go through the
// snapshot-returning accessors, which take a read lock.
type State struct {
	mu sync.RWMutex

	cash           float64
	positionsValue float64
	balanceHistory []BalanceSample
	counters       map[types.Strategy]*StrategyCounters
	activity       []ActivityEntry
	drawdownHalted bool
	haltReason     string
}

// NewState creates an empty projection seeded with the starting cash
// balance (before any fills have been applied).
func NewState(startingBalanceUSD float64) *State {
	return &State{
		cash:     startingBalanceUSD,
		counters: make(map[types.Strategy]*StrategyCounters),
	}
}

func (s *State) counterFor(strategy types.Strategy) *StrategyCounters {
	c, ok := s.counters[strategy]
	if !ok {
		c = &StrategyCounters{}
		s.counters[strategy] = c
	}
	return c
}

// Snapshot is a point-in-time copy of dashboard state safe to serialize
// or render without holding the underlying lock.
type Snapshot struct {
	Cash           float64
	PositionsValue float64
	PortfolioValue float64
	BalanceHistory []BalanceSample
	Strategies     map[types.Strategy]StrategyCounters
	Activity       []ActivityEntry
	DrawdownHalted bool
	HaltReason     string
}

// Snapshot returns a deep-enough copy of the current state for a reader
// to use without racing the projection goroutine's writes.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategies := make(map[types.Strategy]StrategyCounters, len(s.counters))
	for k, v := range s.counters {
		strategies[k] = *v
	}
	history := make([]BalanceSample, len(s.balanceHistory))
	copy(history, s.balanceHistory)
	activity := make([]ActivityEntry, len(s.activity))
	copy(activity, s.activity)

	return Snapshot{
		Cash:           s.cash,
		PositionsValue: s.positionsValue,
		PortfolioValue: s.cash + s.positionsValue,
		BalanceHistory: history,
		Strategies:     strategies,
		Activity:       activity,
		DrawdownHalted: s.drawdownHalted,
		HaltReason:     s.haltReason,
	}
}
