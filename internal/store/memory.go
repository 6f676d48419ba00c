package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"breakout-bot/internal/models"
)

// Memory is an in-process Store used by the order emulator and the tests.
// All records are copied on the way in and out so callers never share
// memory with the store.
type Memory struct {
	mu sync.RWMutex

	signals   map[int64]models.Signal
	positions map[int64]models.Position
	trades    map[int64]models.Trade
	cooldowns map[string]time.Time
	adaptive  map[string]models.AdaptiveState
	daily     map[string]models.DailyStats

	nextSignalID   int64
	nextPositionID int64
	nextTradeID    int64
}

func NewMemory() *Memory {
	return &Memory{
		signals:   make(map[int64]models.Signal),
		positions: make(map[int64]models.Position),
		trades:    make(map[int64]models.Trade),
		cooldowns: make(map[string]time.Time),
		adaptive:  make(map[string]models.AdaptiveState),
		daily:     make(map[string]models.DailyStats),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateSignal(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSignalID++
	s.ID = m.nextSignalID
	m.signals[s.ID] = *s
	return nil
}

func (m *Memory) GetSignal(_ context.Context, id int64) (*models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) UpdateSignal(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[s.ID]; !ok {
		return ErrNotFound
	}
	m.signals[s.ID] = *s
	return nil
}

func (m *Memory) PendingSignals(_ context.Context) ([]*models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Signal
	for _, s := range m.signals {
		if s.Status == models.SignalPending {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreatePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPositionID++
	p.ID = m.nextPositionID
	m.positions[p.ID] = *p
	return nil
}

func (m *Memory) GetPosition(_ context.Context, id int64) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpdatePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; !ok {
		return ErrNotFound
	}
	m.positions[p.ID] = *p
	return nil
}

func (m *Memory) OpenPositions(_ context.Context) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Position
	for _, p := range m.positions {
		if !p.Status.Closed() {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateTrade(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTradeID++
	t.ID = m.nextTradeID
	m.trades[t.ID] = *t
	return nil
}

func (m *Memory) TradesForPosition(_ context.Context, positionID int64) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Trade
	for _, t := range m.trades {
		if t.PositionID == positionID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCooldown(_ context.Context, symbol string, at time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[symbol] = at
	return nil
}

func (m *Memory) LastSignalAt(_ context.Context, symbol string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.cooldowns[symbol]
	return at, ok, nil
}

func (m *Memory) GetAdaptiveState(_ context.Context, symbol string) (*models.AdaptiveState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.adaptive[symbol]
	if !ok {
		return &models.AdaptiveState{Symbol: symbol}, nil
	}
	st.LastPnLs = append([]float64(nil), st.LastPnLs...)
	return &st, nil
}

func (m *Memory) SaveAdaptiveState(_ context.Context, st *models.AdaptiveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	cp.LastPnLs = append([]float64(nil), st.LastPnLs...)
	m.adaptive[st.Symbol] = cp
	return nil
}

func (m *Memory) GetDailyStats(_ context.Context, t time.Time) (*models.DailyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day := Day(t)
	st, ok := m.daily[day.Format("2006-01-02")]
	if !ok {
		return &models.DailyStats{Date: day}, nil
	}
	return &st, nil
}

func (m *Memory) AddDailyStats(_ context.Context, t time.Time, delta models.DailyStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := Day(t)
	key := day.Format("2006-01-02")
	st := m.daily[key]
	st.Date = day
	st.SignalsSent += delta.SignalsSent
	st.SignalsAccepted += delta.SignalsAccepted
	st.SignalsRejected += delta.SignalsRejected
	st.TradesWon += delta.TradesWon
	st.TradesLost += delta.TradesLost
	st.StopLossesToday += delta.StopLossesToday
	st.TotalPnL += delta.TotalPnL
	m.daily[key] = st
	return nil
}
