package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"breakout-bot/config"
	"breakout-bot/internal/models"
	"breakout-bot/internal/store"
)

func newSignalsFixture() (*Signals, *store.Memory, *fakeClock) {
	st := store.NewMemory()
	clk := newFakeClock()
	return NewSignals(st, st, testLogger(), clk.Now), st, clk
}

func testSignal() *models.Signal {
	return &models.Signal{
		Symbol:   "PEPEUSDT",
		Price:    0.01,
		EntryLow: 0.00998, EntryHigh: 0.01002,
		StopLoss: 0.0098,
		TP1:      0.0105, TP2: 0.011, TP3: 0.0115,
	}
}

func TestCooldownGuard(t *testing.T) {
	svc, _, clk := newSignalsFixture()
	ctx := context.Background()
	cooldown := 2 * time.Hour

	ok, err := svc.ShouldSignal(ctx, "PEPEUSDT", cooldown)
	if err != nil || !ok {
		t.Fatalf("fresh symbol should pass: ok=%v err=%v", ok, err)
	}

	if err := svc.Record(ctx, testSignal(), cooldown); err != nil {
		t.Fatal(err)
	}

	if ok, _ := svc.ShouldSignal(ctx, "PEPEUSDT", cooldown); ok {
		t.Error("symbol inside cooldown should be blocked")
	}

	clk.Advance(cooldown + time.Minute)
	if ok, _ := svc.ShouldSignal(ctx, "PEPEUSDT", cooldown); !ok {
		t.Error("symbol past cooldown should pass again")
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	svc, _, _ := newSignalsFixture()
	ctx := context.Background()
	cfg := config.DefaultStrategy()

	sig := testSignal()
	if err := svc.Record(ctx, sig, cfg.Cooldown()); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Decide(ctx, sig.ID, true, sig.Price, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SignalAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}
	firstDecided := *got.DecidedAt

	// A retried or contradictory command must not flip the outcome.
	again, err := svc.Decide(ctx, sig.ID, false, sig.Price, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.SignalAccepted {
		t.Errorf("repeat decide changed status to %s", again.Status)
	}
	if !again.DecidedAt.Equal(firstDecided) {
		t.Errorf("repeat decide changed DecidedAt")
	}
}

func TestDecideExpiresOnPriceDrift(t *testing.T) {
	svc, _, _ := newSignalsFixture()
	ctx := context.Background()
	cfg := config.DefaultStrategy()

	sig := testSignal()
	if err := svc.Record(ctx, sig, cfg.Cooldown()); err != nil {
		t.Fatal(err)
	}

	// 2% above the signal price with a 1% drift limit.
	got, err := svc.Decide(ctx, sig.ID, true, sig.Price*1.02, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SignalExpired {
		t.Errorf("status = %s, want expired on drift", got.Status)
	}
}

func TestDecideReject(t *testing.T) {
	svc, st, clk := newSignalsFixture()
	ctx := context.Background()
	cfg := config.DefaultStrategy()

	sig := testSignal()
	if err := svc.Record(ctx, sig, cfg.Cooldown()); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Decide(ctx, sig.ID, false, sig.Price, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SignalRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}

	stats, _ := st.GetDailyStats(ctx, clk.Now())
	if stats.SignalsSent != 1 || stats.SignalsRejected != 1 {
		t.Errorf("daily stats = %+v, want 1 sent / 1 rejected", stats)
	}
}

func TestRecordCountsSurviveConcurrency(t *testing.T) {
	svc, st, clk := newSignalsFixture()
	ctx := context.Background()
	cooldown := 2 * time.Hour

	// The scan worker pool records from several goroutines at once; every
	// detection must land in the daily count.
	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := testSignal()
			sig.Symbol = fmt.Sprintf("COIN%dUSDT", i)
			if err := svc.Record(ctx, sig, cooldown); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := st.GetDailyStats(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if stats.SignalsSent != n {
		t.Errorf("SignalsSent = %d, want %d", stats.SignalsSent, n)
	}
}

func TestExpireStale(t *testing.T) {
	svc, st, clk := newSignalsFixture()
	ctx := context.Background()
	cfg := config.DefaultStrategy()

	old := testSignal()
	if err := svc.Record(ctx, old, cfg.Cooldown()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Duration(cfg.SignalExpiryMin+1) * time.Minute)

	fresh := testSignal()
	fresh.Symbol = "DOGEUSDT"
	if err := svc.Record(ctx, fresh, cfg.Cooldown()); err != nil {
		t.Fatal(err)
	}

	n, err := svc.ExpireStale(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	got, _ := st.GetSignal(ctx, old.ID)
	if got.Status != models.SignalExpired {
		t.Errorf("old signal status = %s, want expired", got.Status)
	}
	got, _ = st.GetSignal(ctx, fresh.ID)
	if got.Status != models.SignalPending {
		t.Errorf("fresh signal status = %s, want pending", got.Status)
	}
}
