package notify

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"breakout-bot/internal/models"
)

// Telegram renders engine actions into chat messages. It is a one-way
// sink: sends happen on their own goroutine so a slow Telegram API never
// stalls a trading loop, and delivery failures only warn.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  zerolog.Logger
}

// NewTelegram builds the sender. No poller is started: the bot only
// pushes messages, it never reads updates.
func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{
		bot:  bot,
		chat: tele.ChatID(chatID),
		log:  log.With().Str("component", "telegram").Logger(),
	}, nil
}

// PromptSignal sends the signal card for a detection awaiting a decision.
func (t *Telegram) PromptSignal(sig *models.Signal) {
	t.send(fmt.Sprintf(
		"📈 Signal #%d %s\n"+
			"Price: %.8f\n"+
			"Growth: %.2f%%  Volume: %.1fx  RSI: %.0f\n"+
			"Entry: %.8f - %.8f\n"+
			"SL: %.8f\n"+
			"TP: %.8f / %.8f / %.8f",
		sig.ID, sig.Symbol, sig.Price,
		sig.CandleGrowthPct*100, sig.VolumeRatio, sig.RSI,
		sig.EntryLow, sig.EntryHigh, sig.StopLoss,
		sig.TP1, sig.TP2, sig.TP3,
	))
}

// Notify renders one engine action.
func (t *Telegram) Notify(a models.Action) {
	var text string
	switch a.Type {
	case models.ActionSignalFound:
		// The prompt carries the details; a bare found event is noise.
		return
	case models.ActionOpened:
		text = fmt.Sprintf("✅ Opened %s\n%.6f x %.8f = %.2f USDT",
			a.Symbol, a.Amount, a.Price, a.Value)
	case models.ActionTP1, models.ActionTP2:
		text = fmt.Sprintf("💰 %s %s\nSold %.6f at %.8f (%+.2f USDT, %+.2f%%)",
			a.Type, a.Symbol, a.Amount, a.Price, a.PnL, a.PnLPct)
	case models.ActionSL:
		text = fmt.Sprintf("🛑 Stop loss %s\nSold %.6f at %.8f (%+.2f USDT, %+.2f%%)",
			a.Symbol, a.Amount, a.Price, a.PnL, a.PnLPct)
	case models.ActionTrailing:
		text = fmt.Sprintf("📉 Trailing exit %s\nSold %.6f at %.8f (%+.2f USDT, %+.2f%%)",
			a.Symbol, a.Amount, a.Price, a.PnL, a.PnLPct)
	case models.ActionExternalClose:
		text = fmt.Sprintf("⚠️ %s closed outside the bot\nWrote off %.6f at %.8f (%+.2f USDT)",
			a.Symbol, a.Amount, a.Price, a.PnL)
	case models.ActionRiskChanged:
		text = fmt.Sprintf("⚖️ Risk level for %s is now %+d", a.Symbol, a.RiskLevel)
	default:
		return
	}
	t.send(text)
}

func (t *Telegram) send(text string) {
	go func() {
		if _, err := t.bot.Send(t.chat, text); err != nil {
			t.log.Warn().Err(err).Msg("telegram send failed")
		}
	}()
}
