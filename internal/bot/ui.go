package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const sendSpinnerInterval = 4 * time.Second

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) {
	config := tgbotapi.NewChatAction(chatID, action)
	if _, err := b.rateLimiter.Request(config); err != nil {
		b.log.ErrorContext(ctx, "Failed to send chat action",
			"error", err,
			"chatID", chatID,
			"action", action)
	}
}

// withSpinner keeps the chat action visible until fn returns. Telegram
// clears an action after five seconds.
func (b *Bot) withSpinner(ctx context.Context, chatID int64, action string, fn func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		b.sendChatAction(ctx, chatID, action)

		t := time.NewTicker(sendSpinnerInterval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.sendChatAction(ctx, chatID, action)
			}
		}
	}()

	return fn()
}
