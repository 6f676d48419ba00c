package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCooldown fronts a durable CooldownStore with a redis cache whose
// keys expire on their own. A nil client disables the cache entirely and
// every call passes straight through, so the caller never has to care
// whether redis is configured.
//
// Redis errors degrade to the durable store with a warning; the cooldown
// guard must keep working through a cache outage.
type RedisCooldown struct {
	client *redis.Client
	ttl    time.Duration
	next   CooldownStore
	log    zerolog.Logger
}

var _ CooldownStore = (*RedisCooldown)(nil)

func NewRedisCooldown(client *redis.Client, ttl time.Duration, next CooldownStore, log zerolog.Logger) *RedisCooldown {
	return &RedisCooldown{client: client, ttl: ttl, next: next, log: log}
}

func cooldownKey(symbol string) string { return "cooldown:" + symbol }

// SetCooldown writes through to the durable store, then caches with the
// caller's ttl so a tightened per-symbol cooldown also governs the key
// expiry. The constructor ttl is only the fallback.
func (r *RedisCooldown) SetCooldown(ctx context.Context, symbol string, at time.Time, ttl time.Duration) error {
	if err := r.next.SetCooldown(ctx, symbol, at, ttl); err != nil {
		return err
	}
	if r.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, cooldownKey(symbol), at.UnixMilli(), ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("cooldown cache write failed")
	}
	return nil
}

func (r *RedisCooldown) LastSignalAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	if r.client != nil {
		raw, err := r.client.Get(ctx, cooldownKey(symbol)).Result()
		switch {
		case err == nil:
			ms, perr := strconv.ParseInt(raw, 10, 64)
			if perr == nil {
				return time.UnixMilli(ms), true, nil
			}
			r.log.Warn().Str("symbol", symbol).Str("value", raw).Msg("malformed cooldown cache entry")
		case errors.Is(err, redis.Nil):
			// Expired or never set; the durable store decides.
		default:
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("cooldown cache read failed")
		}
	}
	return r.next.LastSignalAt(ctx, symbol)
}
