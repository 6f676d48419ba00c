package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"breakout-bot/config"
	"breakout-bot/internal/engine"
	"breakout-bot/internal/exchange"
	"breakout-bot/internal/notify"
	"breakout-bot/internal/scanner"
	"breakout-bot/internal/store"
	"breakout-bot/internal/trading"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, cooldown cache disabled")
			redisClient = nil
		}
	}
	cooldowns := store.NewRedisCooldown(redisClient, cfg.Strategy.Cooldown(), db, log)

	spot := exchange.NewSpotClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.BinanceTestnet)
	var gateway exchange.Gateway = exchange.NewRetryingGateway(spot, 3, log)
	if cfg.Emulator {
		log.Info().Float64("balance", cfg.EmulatorBalance).Msg("running in emulator mode")
		gateway = exchange.NewEmulator(gateway, trading.QuoteAsset, cfg.EmulatorBalance, log)
	}

	signals := trading.NewSignals(db, cooldowns, log, time.Now)
	adaptive := trading.NewAdaptive(db, log)
	executor := trading.NewExecutor(gateway, db, signals, adaptive, log, time.Now)
	manager := trading.NewManager(executor, db, log, time.Now)
	scan := scanner.New(gateway, db, signals, adaptive, cfg.Strategy, log, time.Now)

	eng := engine.New(engine.Options{
		Gateway:   gateway,
		Store:     db,
		Scanner:   scan,
		Signals:   signals,
		Executor:  executor,
		Manager:   manager,
		Adaptive:  adaptive,
		Strategy:  cfg.Strategy,
		AutoTrade: cfg.AutoTrade,
		Log:       log,
	})

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram")
		}
		eng.SetNotifier(tg)
	} else {
		log.Info().Msg("telegram not configured, running headless")
	}

	eng.Start(ctx)
	log.Info().Bool("testnet", cfg.BinanceTestnet).Bool("auto_trade", cfg.AutoTrade).Msg("bot running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	eng.Stop()
	if cfg.CloseOnExit {
		shutdownCtx, cancelClose := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelClose()
		if err := eng.CloseAllPositions(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("closing positions on exit")
		}
	}
}
