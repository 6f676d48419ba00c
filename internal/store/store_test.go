package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"breakout-bot/internal/models"
)

func TestDay(t *testing.T) {
	// 23:59 MSK is still 20:59 UTC on the same date.
	in := time.Date(2025, 3, 1, 23, 59, 58, 0, time.FixedZone("MSK", 3*3600))
	got := Day(in)
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %v, want %v", got, want)
	}
}

func TestMemorySignalLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sig := &models.Signal{Symbol: "PEPEUSDT", Status: models.SignalPending, CreatedAt: time.Now()}
	if err := m.CreateSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	if sig.ID == 0 {
		t.Fatal("create should assign an ID")
	}

	// Mutating the caller's copy must not leak into the store.
	sig.Status = models.SignalAccepted
	stored, err := m.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.SignalPending {
		t.Error("store shared memory with the caller")
	}

	if err := m.UpdateSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	pending, _ := m.PendingSignals(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %d after accept, want 0", len(pending))
	}

	if _, err := m.GetSignal(ctx, 999); err != ErrNotFound {
		t.Errorf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryOpenPositionsFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	open := &models.Position{Symbol: "AUSDT", Status: models.PositionOpen}
	closed := &models.Position{Symbol: "BUSDT", Status: models.PositionClosedSL}
	if err := m.CreatePosition(ctx, open); err != nil {
		t.Fatal(err)
	}
	if err := m.CreatePosition(ctx, closed); err != nil {
		t.Fatal(err)
	}

	got, err := m.OpenPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Symbol != "AUSDT" {
		t.Errorf("open positions = %+v, want only AUSDT", got)
	}
}

func TestRedisCooldownDisabledPassesThrough(t *testing.T) {
	m := NewMemory()
	// nil client: the cache layer is inert and the durable store answers.
	rc := NewRedisCooldown(nil, 2*time.Hour, m, zerolog.Nop())
	ctx := context.Background()

	if _, ok, err := rc.LastSignalAt(ctx, "PEPEUSDT"); err != nil || ok {
		t.Fatalf("fresh symbol: ok=%v err=%v", ok, err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := rc.SetCooldown(ctx, "PEPEUSDT", at, 2*time.Hour); err != nil {
		t.Fatal(err)
	}
	got, ok, err := rc.LastSignalAt(ctx, "PEPEUSDT")
	if err != nil || !ok || !got.Equal(at) {
		t.Errorf("got=%v ok=%v err=%v, want %v through the durable store", got, ok, err, at)
	}
}

type recordingCooldowns struct {
	symbol string
	at     time.Time
	ttl    time.Duration
}

func (r *recordingCooldowns) SetCooldown(_ context.Context, symbol string, at time.Time, ttl time.Duration) error {
	r.symbol, r.at, r.ttl = symbol, at, ttl
	return nil
}

func (r *recordingCooldowns) LastSignalAt(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func TestRedisCooldownForwardsCallerTTL(t *testing.T) {
	rec := &recordingCooldowns{}
	rc := NewRedisCooldown(nil, 2*time.Hour, rec, zerolog.Nop())
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// A tightened per-symbol cooldown must reach the next layer, not the
	// constructor default.
	if err := rc.SetCooldown(ctx, "PEPEUSDT", at, 3*time.Hour); err != nil {
		t.Fatal(err)
	}
	if rec.symbol != "PEPEUSDT" || !rec.at.Equal(at) || rec.ttl != 3*time.Hour {
		t.Errorf("forwarded = %+v, want the caller's symbol, time and ttl", rec)
	}
}

func TestMemoryDailyStatsAccumulate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)

	stats, err := m.GetDailyStats(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SignalsSent != 0 {
		t.Fatal("fresh day should be zeroed")
	}

	for i := 0; i < 3; i++ {
		if err := m.AddDailyStats(ctx, now, models.DailyStats{SignalsSent: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.AddDailyStats(ctx, now, models.DailyStats{StopLossesToday: 1, TotalPnL: -4.5}); err != nil {
		t.Fatal(err)
	}

	// A later instant on the same UTC day reads the same row.
	again, _ := m.GetDailyStats(ctx, now.Add(5*time.Hour))
	if again.SignalsSent != 3 || again.StopLossesToday != 1 || again.TotalPnL != -4.5 {
		t.Errorf("stats = %+v, want the accumulated row", again)
	}
	// The next day starts clean.
	next, _ := m.GetDailyStats(ctx, now.Add(24*time.Hour))
	if next.SignalsSent != 0 {
		t.Errorf("next day stats = %+v, want zeroed", next)
	}
}

func TestMemoryDailyStatsConcurrentAdds(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 40; j++ {
				if err := m.AddDailyStats(ctx, now, models.DailyStats{SignalsSent: 1}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats, _ := m.GetDailyStats(ctx, now)
	if stats.SignalsSent != writers*40 {
		t.Errorf("SignalsSent = %d, want %d: concurrent increments were lost", stats.SignalsSent, writers*40)
	}
}
