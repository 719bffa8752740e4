package bot

import (
	"context"
	"strings"

	"paperlens/internal/markdown"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const newDocumentCallbackData = "new_document"

func (b *Bot) sendMessageWithKeyboard(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard [][]tgbotapi.InlineKeyboardButton,
) error {
	normalizedText := strings.ToValidUTF8(text, "?")
	if normalizedText != text {
		b.log.WarnContext(ctx, "Message text had invalid UTF-8 and was normalized",
			"chatID", chatID,
			"originalLen", len(text),
			"normalizedLen", len(normalizedText))
	}

	message := tgbotapi.NewMessage(chatID, normalizedText)

	// See https://core.telegram.org/bots/api#markdownv2-style.
	message.ParseMode = tgbotapi.ModeMarkdownV2

	message.DisableWebPagePreview = true
	if len(keyboard) > 0 {
		message.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	}

	_, err := b.rateLimiter.Send(ctx, message)
	return err
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) error {
	return b.sendMessageWithKeyboard(ctx, chatID, text, nil)
}

// sendPlain escapes text before sending it.
func (b *Bot) sendPlain(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard [][]tgbotapi.InlineKeyboardButton,
) error {
	return b.sendMessageWithKeyboard(ctx, chatID, markdown.EscapeV2(text), keyboard)
}

func getNewDocumentKeyboard() [][]tgbotapi.InlineKeyboardButton {
	return [][]tgbotapi.InlineKeyboardButton{
		{tgbotapi.NewInlineKeyboardButtonData("📄 New document", newDocumentCallbackData)},
	}
}
