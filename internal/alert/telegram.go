package alert

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

// TelegramPrefix is the target prefix handled by Telegram, as in
// "telegram:-1001234567890".
const TelegramPrefix = "telegram:"

// Telegram sends alerts through a bot account.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram authenticates the bot token. endpoint may be empty for the
// public API, otherwise it is a format string like tgbotapi.APIEndpoint.
func NewTelegram(token, endpoint string, client *http.Client) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Target formats the registry target for chatID.
func Target(chatID int64) string {
	return TelegramPrefix + strconv.FormatInt(chatID, 10)
}

// Handler returns the registry handler for "telegram:<chat id>" targets.
func (t *Telegram) Handler() Handler {
	return func(ctx context.Context, target, message string) error {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(target, TelegramPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("parse telegram chat id %q: %w", target, err)
		}
		return t.Send(ctx, chatID, message)
	}
}

// Send posts text to chatID as plain text, split into API-sized parts.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into parts of at most maxTelegramMessage bytes
// without splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			parts = append(parts, text)
			break
		}
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
