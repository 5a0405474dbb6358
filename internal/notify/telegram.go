package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages to one chat through a bot.
type Telegram struct {
	api    telegramAPI
	chatID int64
}

// NewTelegram creates a Telegram sink. It calls getMe to validate the token.
func NewTelegram(token string, chatID int64, client tgbotapi.HTTPClient) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

// Name implements Sink.
func (t *Telegram) Name() string { return "telegram" }

// Send implements Sink. The bot API has no context support, so ctx is only
// checked before sending.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message to chat %d: %w", t.chatID, err)
	}
	return nil
}
