package bot

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"paperlens/internal/document"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"mvdan.cc/xurls/v2"
)

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID

	return b.withSpinner(ctx, chatID, tgbotapi.ChatTyping, func() error {
		if message.Document != nil {
			return b.handleDocument(ctx, message)
		}

		if message.IsCommand() {
			switch message.Command() {
			case "start", "help":
				return b.handleStartCommand(ctx, chatID)
			case "new":
				return b.handleNewCommand(ctx, chatID)
			case "text":
				return b.handleTextCommand(ctx, chatID, message.MessageID, message.CommandArguments())
			case "stats":
				return b.handleStatsCommand(ctx, chatID)
			default:
				return b.sendPlain(ctx, chatID, "✖️ Unknown command. Send /start to see what I can do.", nil)
			}
		}

		text := strings.TrimSpace(message.Text)
		if text == "" {
			return b.sendPlain(ctx, chatID, "✖️ Send a PDF or text file, a link, or the text itself.", nil)
		}

		if rawURL, ok := singleURL(text); ok {
			return b.handleURL(ctx, chatID, message.MessageID, rawURL)
		}

		if _, ok := b.workspaces.document(chatID); ok {
			return b.handleQuestion(ctx, chatID, message.MessageID, text)
		}

		return b.summarize(ctx, chatID, message.MessageID, b.normalizer.FromText(message.Text))
	})
}

func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	file := message.Document
	mimeType := fileMIMEType(file.MimeType, file.FileName)

	if _, err := b.normalizer.CheckFile(mimeType, int64(file.FileSize)); err != nil {
		return b.reportInputError(ctx, chatID, err)
	}

	body, err := b.downloadFile(ctx, file.FileID)
	if err != nil {
		errs := []error{fmt.Errorf("download file: %w", err)}

		if sendErr := b.sendPlain(ctx, chatID, "❌ Failed to download the file. Please try again.", nil); sendErr != nil {
			errs = append(errs, fmt.Errorf("send message: %w", sendErr))
		}

		return errors.Join(errs...)
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			b.log.WarnContext(ctx, "Failed to close file body",
				"error", closeErr,
				"chatID", chatID)
		}
	}()

	doc, err := b.normalizer.FromFile(file.FileName, mimeType, int64(file.FileSize), body)
	if err != nil {
		return b.reportInputError(ctx, chatID, err)
	}

	return b.summarize(ctx, chatID, message.MessageID, doc)
}

func (b *Bot) handleURL(ctx context.Context, chatID int64, messageID int, rawURL string) error {
	doc, err := b.normalizer.FromURL(ctx, rawURL)
	if err != nil {
		return b.reportInputError(ctx, chatID, err)
	}

	return b.summarize(ctx, chatID, messageID, doc)
}

// reportInputError tells the user why the input was rejected. Validation
// and fetch failures are expected and are not returned.
func (b *Bot) reportInputError(ctx context.Context, chatID int64, err error) error {
	var fetchErr *document.FetchError

	var text string
	switch {
	case errors.Is(err, document.ErrUnsupportedType):
		text = "❌ Unsupported file type. Please upload a PDF or a plain text file."
	case errors.Is(err, document.ErrFileTooLarge):
		text = fmt.Sprintf("❌ The file is too large. The limit is %s.", formatBytes(b.normalizer.MaxFileBytes()))
	case errors.Is(err, document.ErrURLTooLarge):
		text = fmt.Sprintf("❌ The file at this URL is too large. The limit is %s.",
			formatBytes(b.normalizer.MaxURLBytes()))
	case errors.As(err, &fetchErr):
		text = "❌ " + fetchErr.UserMessage()
	default:
		errs := []error{err}
		if sendErr := b.sendMessage(ctx, chatID, "❌ Failed\\."); sendErr != nil {
			errs = append(errs, fmt.Errorf("send message: %w", sendErr))
		}
		return errors.Join(errs...)
	}

	b.log.InfoContext(ctx, "Input is rejected",
		"error", err,
		"chatID", chatID)

	if sendErr := b.sendPlain(ctx, chatID, text, nil); sendErr != nil {
		return fmt.Errorf("send message: %w", sendErr)
	}

	return nil
}

// singleURL reports whether text consists of exactly one http(s) URL.
func singleURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return "", false
	}

	urlRe, err := xurls.StrictMatchingScheme(`https?://`)
	if err != nil {
		return "", false
	}

	match := urlRe.FindString(text)
	if match == "" || match != text {
		return "", false
	}

	return match, true
}

func fileMIMEType(declared, fileName string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}

	return mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
}

func formatBytes(n int64) string {
	const mib = 1024 * 1024

	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}

	return fmt.Sprintf("%d bytes", n)
}
