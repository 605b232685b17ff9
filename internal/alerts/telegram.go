package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramChannel sends alerts to one or more Telegram chats
type TelegramChannel struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewTelegramChannel creates the channel from a bot token
func NewTelegramChannel(botToken string, chatIDs []int64) (*TelegramChannel, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alert channel initialized")

	return &TelegramChannel{api: api, chatIDs: chatIDs}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(_ context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		return nil
	}

	message := formatTelegram(alert)

	var lastErr error
	sent := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = "Markdown"

		if _, err := t.api.Send(msg); err != nil {
			log.Error().Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}
	return nil
}

func formatTelegram(alert Alert) string {
	var emoji string
	switch alert.Level {
	case LevelCritical:
		emoji = "🚨"
	case LevelWarning:
		emoji = "⚠️"
	default:
		emoji = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)
	if alert.Mode != "" {
		message += fmt.Sprintf("\n\nMode: `%s`", alert.Mode)
	}
	if alert.RiskBias > 0 {
		message += fmt.Sprintf("\nRisk bias: `%.2f`", alert.RiskBias)
	}
	for key, value := range alert.Metrics {
		message += fmt.Sprintf("\n• %s: `%v`", key, value)
	}
	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return message
}
