package models

import "time"

// SignalStatus is the lifecycle state of a detected signal.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalAccepted SignalStatus = "accepted"
	SignalRejected SignalStatus = "rejected"
	SignalExpired  SignalStatus = "expired"
	SignalExecuted SignalStatus = "executed"
)

// Terminal reports whether a signal can no longer change state.
func (s SignalStatus) Terminal() bool {
	return s == SignalRejected || s == SignalExpired || s == SignalExecuted
}

// PositionStatus is the lifecycle state of a tracked position.
type PositionStatus string

const (
	PositionOpen         PositionStatus = "open"
	PositionPartialTP1   PositionStatus = "partial_tp1"
	PositionPartialTP2   PositionStatus = "partial_tp2"
	PositionClosedTP     PositionStatus = "closed_tp"
	PositionClosedSL     PositionStatus = "closed_sl"
	PositionClosedManual PositionStatus = "closed_manual"
)

// Closed reports whether the position is in a terminal status.
func (s PositionStatus) Closed() bool {
	return s == PositionClosedTP || s == PositionClosedSL || s == PositionClosedManual
}

// OpenStatuses lists the statuses a live position can be in.
func OpenStatuses() []PositionStatus {
	return []PositionStatus{PositionOpen, PositionPartialTP1, PositionPartialTP2}
}

// TradeReason explains why a fill happened.
type TradeReason string

const (
	ReasonSignal         TradeReason = "SIGNAL"
	ReasonTP1            TradeReason = "TP1"
	ReasonTP2            TradeReason = "TP2"
	ReasonTP3            TradeReason = "TP3"
	ReasonSL             TradeReason = "SL"
	ReasonTrailing       TradeReason = "TRAILING"
	ReasonManual         TradeReason = "MANUAL"
	ReasonManualExternal TradeReason = "MANUAL_EXTERNAL"
)

// Signal is one detected breakout opportunity. Signals are append-only:
// they are never deleted, only moved through their lifecycle.
type Signal struct {
	ID     int64
	Symbol string
	Price  float64 // close at detection time

	// Metrics captured at detection.
	CandleGrowthPct   float64
	VolumeRatio       float64
	SpreadPct         float64
	RSI               float64
	EMA7              float64
	EMA14             float64
	EMA28             float64
	EMA100            float64
	AccumulationRange float64 // price range / ATR over the lookback window

	// Computed levels.
	EntryLow  float64
	EntryHigh float64
	StopLoss  float64
	TP1       float64
	TP2       float64
	TP3       float64

	Status    SignalStatus
	CreatedAt time.Time
	DecidedAt *time.Time
}

// Position is a tracked holding opened from an executed signal. SignalID is
// nil for positions discovered on the exchange rather than opened by the bot.
type Position struct {
	ID       int64
	SignalID *int64
	Symbol   string
	Side     string // spot positions are always BUY

	EntryPrice  float64
	EntryAmount float64
	EntryValue  float64 // quote value at entry
	EntryTime   time.Time

	CurrentAmount float64
	RealizedPnL   float64

	StopLoss     float64
	TP1          float64
	TP2          float64
	TrailingStop float64 // 0 until armed after TP2
	MaxPrice     float64 // high-water mark since entry

	Status      PositionStatus
	ClosedAt    *time.Time
	ClosePrice  float64
	CloseReason TradeReason
	TotalPnL    float64
	TotalPnLPct float64
}

// Trade is one immutable fill record linked to a position.
type Trade struct {
	ID         int64
	PositionID int64
	Symbol     string
	Side       string // BUY / SELL
	OrderType  string // MARKET / LIMIT

	Price  float64
	Amount float64
	Value  float64
	Fee    float64

	OrderID string

	// Realized P&L, set on sells only.
	PnL    float64
	PnLPct float64

	Reason    TradeReason
	CreatedAt time.Time
}

// Cooldown records the last signal time for an instrument.
type Cooldown struct {
	Symbol       string
	LastSignalAt time.Time
}

// OverrideMode is a manually applied risk preset. The empty value means
// automatic adjustment is in control.
type OverrideMode string

const (
	OverrideNone   OverrideMode = ""
	OverrideSoft   OverrideMode = "soft"
	OverrideNormal OverrideMode = "normal"
	OverrideHard   OverrideMode = "hard"
)

// AdaptiveState holds the per-instrument risk level and the rolling window
// of realized trade outcomes that drives it.
type AdaptiveState struct {
	Symbol         string
	RiskLevel      int
	ManualMode     OverrideMode
	TradesInManual int
	LastPnLs       []float64 // bounded rolling window, newest last
}

// DailyStats aggregates one UTC day of activity; the stop-loss counter
// feeds the scanner's daily-loss gate.
type DailyStats struct {
	Date            time.Time
	SignalsSent     int
	SignalsAccepted int
	SignalsRejected int
	TradesWon       int
	TradesLost      int
	StopLossesToday int
	TotalPnL        float64
}

// ActionType identifies a structured event emitted for the notification layer.
type ActionType string

const (
	ActionSignalFound   ActionType = "SIGNAL_FOUND"
	ActionOpened        ActionType = "OPENED"
	ActionTP1           ActionType = "TP1"
	ActionTP2           ActionType = "TP2"
	ActionSL            ActionType = "SL"
	ActionTrailing      ActionType = "TRAILING"
	ActionExternalClose ActionType = "EXTERNAL_CLOSE"
	ActionRiskChanged   ActionType = "RISK_CHANGED"
)

// Action is a structured result of one engine decision. The engine never
// formats user-facing text; a notifier renders these.
type Action struct {
	Type       ActionType
	SignalID   int64
	PositionID int64
	Symbol     string
	Side       string
	Price      float64
	Amount     float64
	Value      float64
	Reason     TradeReason
	PnL        float64
	PnLPct     float64
	RiskLevel  int
	Warning    bool
}
