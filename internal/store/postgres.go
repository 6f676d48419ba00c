package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"breakout-bot/internal/models"
)

// Postgres is the durable Store backed by pgx. The schema is created on
// connect so a fresh database needs no migration step.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) bootstrap(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id                 BIGSERIAL PRIMARY KEY,
	symbol             TEXT NOT NULL,
	price              DOUBLE PRECISION NOT NULL,
	candle_growth_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume_ratio       DOUBLE PRECISION NOT NULL DEFAULT 0,
	spread_pct         DOUBLE PRECISION NOT NULL DEFAULT 0,
	rsi                DOUBLE PRECISION NOT NULL DEFAULT 0,
	ema7               DOUBLE PRECISION NOT NULL DEFAULT 0,
	ema14              DOUBLE PRECISION NOT NULL DEFAULT 0,
	ema28              DOUBLE PRECISION NOT NULL DEFAULT 0,
	ema100             DOUBLE PRECISION NOT NULL DEFAULT 0,
	accumulation_range DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_low          DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_high         DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_loss          DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp1                DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp2                DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp3                DOUBLE PRECISION NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	decided_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals (status);

CREATE TABLE IF NOT EXISTS positions (
	id             BIGSERIAL PRIMARY KEY,
	signal_id      BIGINT REFERENCES signals (id),
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	entry_price    DOUBLE PRECISION NOT NULL,
	entry_amount   DOUBLE PRECISION NOT NULL,
	entry_value    DOUBLE PRECISION NOT NULL,
	entry_time     TIMESTAMPTZ NOT NULL,
	current_amount DOUBLE PRECISION NOT NULL,
	realized_pnl   DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_loss      DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp1            DOUBLE PRECISION NOT NULL DEFAULT 0,
	tp2            DOUBLE PRECISION NOT NULL DEFAULT 0,
	trailing_stop  DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	closed_at      TIMESTAMPTZ,
	close_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
	close_reason   TEXT NOT NULL DEFAULT '',
	total_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_pnl_pct  DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);

CREATE TABLE IF NOT EXISTS trades (
	id          BIGSERIAL PRIMARY KEY,
	position_id BIGINT NOT NULL REFERENCES positions (id),
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	order_type  TEXT NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	amount      DOUBLE PRECISION NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	fee         DOUBLE PRECISION NOT NULL DEFAULT 0,
	order_id    TEXT NOT NULL DEFAULT '',
	pnl         DOUBLE PRECISION NOT NULL DEFAULT 0,
	pnl_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_position ON trades (position_id);

CREATE TABLE IF NOT EXISTS cooldowns (
	symbol         TEXT PRIMARY KEY,
	last_signal_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS adaptive_state (
	symbol           TEXT PRIMARY KEY,
	risk_level       INT NOT NULL DEFAULT 0,
	manual_mode      TEXT NOT NULL DEFAULT '',
	trades_in_manual INT NOT NULL DEFAULT 0,
	last_pnls        DOUBLE PRECISION[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS daily_stats (
	day              DATE PRIMARY KEY,
	signals_sent     INT NOT NULL DEFAULT 0,
	signals_accepted INT NOT NULL DEFAULT 0,
	signals_rejected INT NOT NULL DEFAULT 0,
	trades_won       INT NOT NULL DEFAULT 0,
	trades_lost      INT NOT NULL DEFAULT 0,
	stop_losses      INT NOT NULL DEFAULT 0,
	total_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0
);`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

const signalColumns = `symbol, price, candle_growth_pct, volume_ratio, spread_pct, rsi,
	ema7, ema14, ema28, ema100, accumulation_range,
	entry_low, entry_high, stop_loss, tp1, tp2, tp3,
	status, created_at, decided_at`

func (p *Postgres) CreateSignal(ctx context.Context, s *models.Signal) error {
	return p.pool.QueryRow(ctx, `INSERT INTO signals (`+signalColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id`,
		s.Symbol, s.Price, s.CandleGrowthPct, s.VolumeRatio, s.SpreadPct, s.RSI,
		s.EMA7, s.EMA14, s.EMA28, s.EMA100, s.AccumulationRange,
		s.EntryLow, s.EntryHigh, s.StopLoss, s.TP1, s.TP2, s.TP3,
		s.Status, s.CreatedAt, s.DecidedAt,
	).Scan(&s.ID)
}

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var s models.Signal
	err := row.Scan(&s.ID, &s.Symbol, &s.Price, &s.CandleGrowthPct, &s.VolumeRatio, &s.SpreadPct, &s.RSI,
		&s.EMA7, &s.EMA14, &s.EMA28, &s.EMA100, &s.AccumulationRange,
		&s.EntryLow, &s.EntryHigh, &s.StopLoss, &s.TP1, &s.TP2, &s.TP3,
		&s.Status, &s.CreatedAt, &s.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) GetSignal(ctx context.Context, id int64) (*models.Signal, error) {
	return scanSignal(p.pool.QueryRow(ctx, `SELECT id, `+signalColumns+` FROM signals WHERE id = $1`, id))
}

func (p *Postgres) UpdateSignal(ctx context.Context, s *models.Signal) error {
	tag, err := p.pool.Exec(ctx, `UPDATE signals SET status = $2, decided_at = $3 WHERE id = $1`,
		s.ID, s.Status, s.DecidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PendingSignals(ctx context.Context) ([]*models.Signal, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, `+signalColumns+` FROM signals
		WHERE status = $1 ORDER BY id`, models.SignalPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const positionColumns = `signal_id, symbol, side, entry_price, entry_amount, entry_value, entry_time,
	current_amount, realized_pnl, stop_loss, tp1, tp2, trailing_stop, max_price,
	status, closed_at, close_price, close_reason, total_pnl, total_pnl_pct`

func (p *Postgres) CreatePosition(ctx context.Context, pos *models.Position) error {
	return p.pool.QueryRow(ctx, `INSERT INTO positions (`+positionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id`,
		pos.SignalID, pos.Symbol, pos.Side, pos.EntryPrice, pos.EntryAmount, pos.EntryValue, pos.EntryTime,
		pos.CurrentAmount, pos.RealizedPnL, pos.StopLoss, pos.TP1, pos.TP2, pos.TrailingStop, pos.MaxPrice,
		pos.Status, pos.ClosedAt, pos.ClosePrice, pos.CloseReason, pos.TotalPnL, pos.TotalPnLPct,
	).Scan(&pos.ID)
}

func scanPosition(row pgx.Row) (*models.Position, error) {
	var pos models.Position
	err := row.Scan(&pos.ID, &pos.SignalID, &pos.Symbol, &pos.Side,
		&pos.EntryPrice, &pos.EntryAmount, &pos.EntryValue, &pos.EntryTime,
		&pos.CurrentAmount, &pos.RealizedPnL, &pos.StopLoss, &pos.TP1, &pos.TP2,
		&pos.TrailingStop, &pos.MaxPrice, &pos.Status, &pos.ClosedAt,
		&pos.ClosePrice, &pos.CloseReason, &pos.TotalPnL, &pos.TotalPnLPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (p *Postgres) GetPosition(ctx context.Context, id int64) (*models.Position, error) {
	return scanPosition(p.pool.QueryRow(ctx, `SELECT id, `+positionColumns+` FROM positions WHERE id = $1`, id))
}

func (p *Postgres) UpdatePosition(ctx context.Context, pos *models.Position) error {
	tag, err := p.pool.Exec(ctx, `UPDATE positions SET
		current_amount = $2, realized_pnl = $3, stop_loss = $4, tp1 = $5, tp2 = $6,
		trailing_stop = $7, max_price = $8, status = $9, closed_at = $10,
		close_price = $11, close_reason = $12, total_pnl = $13, total_pnl_pct = $14
		WHERE id = $1`,
		pos.ID, pos.CurrentAmount, pos.RealizedPnL, pos.StopLoss, pos.TP1, pos.TP2,
		pos.TrailingStop, pos.MaxPrice, pos.Status, pos.ClosedAt,
		pos.ClosePrice, pos.CloseReason, pos.TotalPnL, pos.TotalPnLPct)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, `+positionColumns+` FROM positions
		WHERE status = ANY($1) ORDER BY id`, statusStrings(models.OpenStatuses()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func statusStrings(statuses []models.PositionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (p *Postgres) CreateTrade(ctx context.Context, t *models.Trade) error {
	return p.pool.QueryRow(ctx, `INSERT INTO trades
		(position_id, symbol, side, order_type, price, amount, value, fee, order_id, pnl, pnl_pct, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		t.PositionID, t.Symbol, t.Side, t.OrderType, t.Price, t.Amount, t.Value,
		t.Fee, t.OrderID, t.PnL, t.PnLPct, t.Reason, t.CreatedAt,
	).Scan(&t.ID)
}

func (p *Postgres) TradesForPosition(ctx context.Context, positionID int64) ([]*models.Trade, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, position_id, symbol, side, order_type,
		price, amount, value, fee, order_id, pnl, pnl_pct, reason, created_at
		FROM trades WHERE position_id = $1 ORDER BY id`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.OrderType,
			&t.Price, &t.Amount, &t.Value, &t.Fee, &t.OrderID, &t.PnL, &t.PnLPct,
			&t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) SetCooldown(ctx context.Context, symbol string, at time.Time, _ time.Duration) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO cooldowns (symbol, last_signal_at) VALUES ($1, $2)
		ON CONFLICT (symbol) DO UPDATE SET last_signal_at = EXCLUDED.last_signal_at`, symbol, at)
	return err
}

func (p *Postgres) LastSignalAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	var at time.Time
	err := p.pool.QueryRow(ctx, `SELECT last_signal_at FROM cooldowns WHERE symbol = $1`, symbol).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (p *Postgres) GetAdaptiveState(ctx context.Context, symbol string) (*models.AdaptiveState, error) {
	st := models.AdaptiveState{Symbol: symbol}
	err := p.pool.QueryRow(ctx, `SELECT risk_level, manual_mode, trades_in_manual, last_pnls
		FROM adaptive_state WHERE symbol = $1`, symbol).
		Scan(&st.RiskLevel, &st.ManualMode, &st.TradesInManual, &st.LastPnLs)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.AdaptiveState{Symbol: symbol}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (p *Postgres) SaveAdaptiveState(ctx context.Context, st *models.AdaptiveState) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO adaptive_state
		(symbol, risk_level, manual_mode, trades_in_manual, last_pnls)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (symbol) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			manual_mode = EXCLUDED.manual_mode,
			trades_in_manual = EXCLUDED.trades_in_manual,
			last_pnls = EXCLUDED.last_pnls`,
		st.Symbol, st.RiskLevel, st.ManualMode, st.TradesInManual, st.LastPnLs)
	return err
}

func (p *Postgres) GetDailyStats(ctx context.Context, t time.Time) (*models.DailyStats, error) {
	day := Day(t)
	st := models.DailyStats{Date: day}
	err := p.pool.QueryRow(ctx, `SELECT signals_sent, signals_accepted, signals_rejected,
		trades_won, trades_lost, stop_losses, total_pnl
		FROM daily_stats WHERE day = $1`, day).
		Scan(&st.SignalsSent, &st.SignalsAccepted, &st.SignalsRejected,
			&st.TradesWon, &st.TradesLost, &st.StopLossesToday, &st.TotalPnL)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.DailyStats{Date: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// AddDailyStats is a single additive upsert so concurrent writers from
// the scan workers and the position loop never lose each other's counts.
func (p *Postgres) AddDailyStats(ctx context.Context, t time.Time, delta models.DailyStats) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO daily_stats
		(day, signals_sent, signals_accepted, signals_rejected, trades_won, trades_lost, stop_losses, total_pnl)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (day) DO UPDATE SET
			signals_sent = daily_stats.signals_sent + EXCLUDED.signals_sent,
			signals_accepted = daily_stats.signals_accepted + EXCLUDED.signals_accepted,
			signals_rejected = daily_stats.signals_rejected + EXCLUDED.signals_rejected,
			trades_won = daily_stats.trades_won + EXCLUDED.trades_won,
			trades_lost = daily_stats.trades_lost + EXCLUDED.trades_lost,
			stop_losses = daily_stats.stop_losses + EXCLUDED.stop_losses,
			total_pnl = daily_stats.total_pnl + EXCLUDED.total_pnl`,
		Day(t), delta.SignalsSent, delta.SignalsAccepted, delta.SignalsRejected,
		delta.TradesWon, delta.TradesLost, delta.StopLossesToday, delta.TotalPnL)
	return err
}
