package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Strategies
// ————————————————————————————————————————————————————————————————————————

// Strategy tags which trading strategy originated a signal, position, or
// fill. Used to route risk budget and to group dashboard/persistence rows.
type Strategy string

const (
	StrategyArbitrage Strategy = "ARBITRAGE"
	StrategyLiquidity Strategy = "LIQUIDITY"
	StrategyLPFlip    Strategy = "LP_FLIP"
	StrategyCopy      Strategy = "COPY"
	StrategySynthEdge Strategy = "SYNTH_EDGE"
)

// ————————————————————————————————————————————————————————————————————————
// Signals and order results
// ————————————————————————————————————————————————————————————————————————

// Signal is what a strategy emits when it wants to trade. It carries no
// knowledge of risk limits or execution mechanics — those live downstream
// in the risk gate and order manager.
type Signal struct {
	Strategy    Strategy
	ConditionID string
	TokenID     string
	Side        Side
	OrderType   OrderType
	Price       float64
	Size        float64 // denominated in tokens
	TickSize    TickSize
	Reason      string // human-readable justification, logged and surfaced to the dashboard
	GeneratedAt time.Time
}

// NotionalUSD returns the approximate dollar cost of the signal at its
// quoted price (price × size, since binary-market prices are already in
// dollars-per-token).
func (s Signal) NotionalUSD() float64 {
	return s.Price * s.Size
}

// OrderResult is what the order manager returns after attempting to place
// a signal. Rejected signals carry a zero OrderID and a non-empty Reason.
// A live GTC order that rests on the book rather than filling immediately
// reports IsResting=true with FilledSize/FillPrice left at zero.
type OrderResult struct {
	Signal     Signal
	Accepted   bool
	OrderID    string
	FilledSize float64
	FillPrice  float64
	IsResting  bool
	Reason     string
	Timestamp  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Risk gate
// ————————————————————————————————————————————————————————————————————————

// RiskVerdict is the outcome of passing a Signal through the risk gate.
// A rejected verdict never reaches the exchange; Reason names the first
// check that failed. Some checks downsize rather than reject outright —
// Adjusted then carries the signal the order manager should actually
// submit instead of the original.
type RiskVerdict struct {
	Approved bool
	Adjusted *Signal
	Reason   string
	Warning  string // non-fatal, e.g. "drawdown at 80% of budget"
	Halted   bool   // true when this verdict was decided by the drawdown kill switch
}

// Approve returns an approving verdict with no size adjustment.
func Approve() RiskVerdict {
	return RiskVerdict{Approved: true}
}

// ApproveAdjusted returns an approving verdict carrying a downsized signal.
func ApproveAdjusted(sig Signal) RiskVerdict {
	return RiskVerdict{Approved: true, Adjusted: &sig}
}

// Reject returns a rejecting verdict carrying the failed check's name.
func Reject(reason string) RiskVerdict {
	return RiskVerdict{Approved: false, Reason: reason}
}

// ————————————————————————————————————————————————————————————————————————
// Inventory
// ————————————————————————————————————————————————————————————————————————

// Position is the per-token inventory ledger entry. Every strategy here
// tracks exposure one token at a time: a YES and a NO token in the same
// market are two independent Position rows.
type Position struct {
	Strategy      Strategy
	ConditionID   string
	TokenID       string
	Size          float64 // positive = long, negative = short
	AvgEntryPrice float64
	RealizedPnL   float64
	UpdatedAt     time.Time
}

// CostBasisUSD is the book-cost exposure for this position: size times
// average entry price. Used by the risk gate instead of a mark-to-market
// valuation, since a cancelled resting quote has no live mark.
func (p Position) CostBasisUSD() float64 {
	v := p.Size * p.AvgEntryPrice
	if v < 0 {
		return -v
	}
	return v
}

// ————————————————————————————————————————————————————————————————————————
// LP flip state machine
// ————————————————————————————————————————————————————————————————————————

// FlipStatus is the state of a single liquidity-provision flip cycle.
type FlipStatus string

const (
	FlipIdle         FlipStatus = "IDLE"
	FlipRestingEntry FlipStatus = "RESTING_ENTRY"
	FlipRestingExit  FlipStatus = "RESTING_EXIT"

	// Terminal statuses persisted on the FlipCycle row once a cycle leaves
	// the active IDLE/RESTING_* loop. The in-memory state machine always
	// returns to FlipIdle to accept a new cycle; these describe how the
	// *previous* cycle ended.
	FlipCompleted FlipStatus = "completed"
	FlipCancelled FlipStatus = "cancelled"
	FlipError     FlipStatus = "error"
	FlipStopLoss  FlipStatus = "stop_loss"
)

// FlipCycle tracks one entry/exit cycle for the LP flip strategy: a resting
// BUY on one outcome token, followed — once filled — by a resting BUY on
// the complementary outcome token at the same size.
type FlipCycle struct {
	ID           string
	ConditionID  string
	TokenID      string // entry token: the outcome bought into first
	ExitTokenID  string // the complementary outcome token bought on exit
	Status       FlipStatus
	EntryPrice   float64
	EntrySize    float64
	EntryOrderID string
	ExitPrice    float64
	ExitSize     float64
	ExitOrderID  string
	Profit       float64 // populated once the exit fills or the cycle stops out
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Copy trading / synthetic edge
// ————————————————————————————————————————————————————————————————————————

// SynthForecast is one externally-sourced probability estimate for a
// market's YES outcome, used by the synthetic-edge strategy to size a
// Kelly bet against the live order book price.
type SynthForecast struct {
	ConditionID   string
	TokenID       string
	FairProb      float64 // the forecaster's estimated P(YES)
	MarketPrice   float64 // live book price at the time the forecast was read
	Edge          float64 // FairProb - MarketPrice
	KellyFraction float64
	GeneratedAt   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Bot-wide events
// ————————————————————————————————————————————————————————————————————————

// EventType enumerates the kinds of events the strategy runtime publishes
// to the event bus. The dashboard projection subscribes to the stream.
type EventType string

const (
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventEdgeDetected    EventType = "EDGE_DETECTED"
	EventMarketScanned   EventType = "MARKET_SCANNED"
	EventOrderResolved   EventType = "ORDER_RESOLVED"
	EventDrawdownWarning EventType = "DRAWDOWN_WARNING"
	EventDrawdownHalt    EventType = "DRAWDOWN_HALT"
	EventStrategyError   EventType = "STRATEGY_ERROR"
)

// BotEvent is the envelope published on the event bus. Data holds a
// type-specific payload (OrderResult, Signal, error text, ...); consumers
// type-switch on Type before asserting Data.
type BotEvent struct {
	Type        EventType
	Strategy    Strategy
	ConditionID string
	Data        interface{}
	Timestamp   time.Time
}
