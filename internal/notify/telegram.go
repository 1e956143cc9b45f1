package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	return &Telegram{api: api}, nil
}

func (t *Telegram) Send(ctx context.Context, recipientID int64, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(recipientID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := t.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send to %d: %w", recipientID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
