package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	chatID := callbackChatID(callback)
	if chatID == 0 {
		return b.withEmptyCallbackAnswer(callback, func() error { return nil })
	}

	switch strings.TrimSpace(callback.Data) {
	case newDocumentCallbackData:
		return b.withEmptyCallbackAnswer(callback, func() error {
			return b.handleNewCommand(ctx, chatID)
		})
	default:
		return b.errorCallbackAnswer(callback, fmt.Errorf("unknown callback data %q", callback.Data))
	}
}

func (b *Bot) withEmptyCallbackAnswer(
	callback *tgbotapi.CallbackQuery,
	fn func() error,
) error {
	var errs []error

	if _, err := b.rateLimiter.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		errs = append(errs, b.errorCallbackAnswer(callback, fmt.Errorf("send request: %w", err)))
	}

	if err := fn(); err != nil {
		errs = append(errs, fmt.Errorf("call fn: %w", err))
	}

	return errors.Join(errs...)
}

func (b *Bot) errorCallbackAnswer(
	callback *tgbotapi.CallbackQuery,
	err error,
) error {
	if _, sendErr := b.rateLimiter.Request(tgbotapi.NewCallback(callback.ID, "❌ Failed.")); sendErr != nil {
		return errors.Join(err, fmt.Errorf("send request: %w", sendErr))
	}
	return err
}
