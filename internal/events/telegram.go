package events

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink sends formatted event text to one chat. A zero-value
// sink (no token/chat id, or bot init failure) is safe to call:
// Send becomes a silent no-op, matching TelegramClient's
// TELEGRAM_ENABLED=0 behavior.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink builds a sink. enabled=false, a missing token/chatID,
// or a bot init failure all degrade to a disabled sink rather than an
// error the caller has to handle.
func NewTelegramSink(enabled bool, token, chatID string) *TelegramSink {
	if !enabled || token == "" || chatID == "" {
		return &TelegramSink{}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("events: telegram bot init failed: %v", err)
		return &TelegramSink{}
	}
	var id int64
	if _, err := fmt.Sscanf(chatID, "%d", &id); err != nil {
		log.Printf("events: invalid TELEGRAM_CHAT_ID %q", chatID)
		return &TelegramSink{}
	}
	return &TelegramSink{bot: bot, chatID: id}
}

// Send posts text as a Markdown message. Failures are logged, never
// returned; a notification is best-effort and must never interrupt the
// trading loop that triggered it.
func (s *TelegramSink) Send(text string) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := s.bot.Send(msg); err != nil {
		log.Printf("events: telegram send failed: %v", err)
	}
}

// Notifier turns dispatcher events into Telegram messages. HandleEvent
// is the subscriber callback shape Dispatcher.Subscribe expects.
type Notifier struct {
	sink *TelegramSink
}

func NewNotifier(sink *TelegramSink) *Notifier {
	return &Notifier{sink: sink}
}

// HandleEvent formats a known topic into a message; unknown topics are
// dropped rather than forwarded as raw JSON, matching
// build_message_from_event's "no message -> no send" contract.
func (n *Notifier) HandleEvent(topic string, payload map[string]any) {
	msg := formatEvent(topic, payload)
	if msg == "" {
		return
	}
	n.sink.Send(msg)
}

func formatEvent(topic string, p map[string]any) string {
	switch topic {
	case "bot.start":
		return "🤖 *BOT STARTED*"
	case "universe.refreshed":
		return fmt.Sprintf("🌐 *UNIVERSE REFRESHED*\n%s", formatSymbolList(p["symbols"]))
	case "trade.open":
		return fmt.Sprintf(
			"🟢 *TRADE OPEN*\n`%v` %v\nentry=%.6f sl=%.6f tp=%.6f conf=%.3f",
			p["symbol"], p["direction"], asFloat(p["entry_price"]), asFloat(p["sl_price"]),
			asFloat(p["tp_price"]), asFloat(p["confidence"]),
		)
	case "trade.closed":
		return fmt.Sprintf(
			"🔴 *TRADE CLOSED*\n`%v` exit=%v pnl_r=%.3f",
			p["symbol"], p["exit_type"], asFloat(p["pnl_r"]),
		)
	default:
		return ""
	}
}

func formatSymbolList(v any) string {
	syms, ok := v.([]string)
	if !ok {
		return ""
	}
	out := ""
	for _, s := range syms {
		out += fmt.Sprintf("- `%s`\n", s)
	}
	return out
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	default:
		return 0
	}
}
