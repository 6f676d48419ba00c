package store

import (
	"context"
	"errors"
	"time"

	"breakout-bot/internal/models"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary of the engine. Every record type is
// keyed; signals and trades are append-only, positions and the per-symbol
// states are updated in place.
type Store interface {
	SignalStore
	PositionStore
	TradeStore
	CooldownStore
	AdaptiveStore
	StatsStore
}

type SignalStore interface {
	// CreateSignal persists a new signal and assigns its ID.
	CreateSignal(ctx context.Context, s *models.Signal) error
	GetSignal(ctx context.Context, id int64) (*models.Signal, error)
	// UpdateSignal replaces the stored row for s.ID.
	UpdateSignal(ctx context.Context, s *models.Signal) error
	// PendingSignals returns signals still awaiting a decision, oldest first.
	PendingSignals(ctx context.Context) ([]*models.Signal, error)
}

type PositionStore interface {
	CreatePosition(ctx context.Context, p *models.Position) error
	GetPosition(ctx context.Context, id int64) (*models.Position, error)
	UpdatePosition(ctx context.Context, p *models.Position) error
	// OpenPositions returns every position not yet closed.
	OpenPositions(ctx context.Context) ([]*models.Position, error)
}

type TradeStore interface {
	CreateTrade(ctx context.Context, t *models.Trade) error
	TradesForPosition(ctx context.Context, positionID int64) ([]*models.Trade, error)
}

// CooldownStore tracks the last signal time per instrument. A separate
// cache (redis) may front the durable store; both sides answer the same
// two questions.
type CooldownStore interface {
	// SetCooldown records the signal time. ttl is the cooldown window the
	// caller is enforcing; cache implementations use it as the key expiry,
	// durable implementations may ignore it.
	SetCooldown(ctx context.Context, symbol string, at time.Time, ttl time.Duration) error
	// LastSignalAt returns the recorded time and whether one exists.
	LastSignalAt(ctx context.Context, symbol string) (time.Time, bool, error)
}

type AdaptiveStore interface {
	// GetAdaptiveState returns the stored state, or a zero-valued state
	// for symbols never seen before.
	GetAdaptiveState(ctx context.Context, symbol string) (*models.AdaptiveState, error)
	SaveAdaptiveState(ctx context.Context, st *models.AdaptiveState) error
}

type StatsStore interface {
	// GetDailyStats returns the aggregate for the UTC day of t, zeroed if
	// none exists yet.
	GetDailyStats(ctx context.Context, t time.Time) (*models.DailyStats, error)
	// AddDailyStats applies delta to the UTC day of t as one atomic
	// increment. Scan workers and the position loop mutate the same row
	// concurrently, so read-modify-write is not an option here.
	AddDailyStats(ctx context.Context, t time.Time, delta models.DailyStats) error
}

// Day truncates t to its UTC date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
