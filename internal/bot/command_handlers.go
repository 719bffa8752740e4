package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const welcomeText = `📄 *Welcome to PaperLens\!*

Send me a research paper and I will stream a structured summary, then answer your questions about it\.

– Upload a PDF or plain text file \(up to 10 MB\)
– Send a link to a PDF
– Paste the text directly or use /text followed by the content
– Ask follow\-up questions once the summary is ready
– Start over with /new
– See your usage with /stats`

const statsText = `📊 *Your usage*

Summaries: %d \(failed: %d\)
Questions: %d \(failed: %d\)`

func (b *Bot) handleStartCommand(ctx context.Context, chatID int64) error {
	return b.sendMessage(ctx, chatID, welcomeText)
}

func (b *Bot) handleNewCommand(ctx context.Context, chatID int64) error {
	b.workspaces.reset(chatID)
	b.sessions.Close(chatID)

	return b.sendPlain(ctx, chatID, "🗑 The document is discarded. Send a new file, link or text.", nil)
}

func (b *Bot) handleTextCommand(ctx context.Context, chatID int64, messageID int, text string) error {
	if strings.TrimSpace(text) == "" {
		return b.sendPlain(ctx, chatID, "✖️ Add the text to summarize after /text.", nil)
	}

	return b.summarize(ctx, chatID, messageID, b.normalizer.FromText(text))
}

func (b *Bot) handleStatsCommand(ctx context.Context, chatID int64) error {
	if b.journal == nil {
		return b.sendPlain(ctx, chatID, "✖️ Usage statistics are not available.", nil)
	}

	stats, err := b.journal.GetChatStats(ctx, chatID)
	if err != nil {
		errs := []error{fmt.Errorf("get chat stats: %w", err)}

		if sendErr := b.sendMessage(ctx, chatID, "❌ Failed\\."); sendErr != nil {
			errs = append(errs, fmt.Errorf("send message: %w", sendErr))
		}

		return errors.Join(errs...)
	}

	return b.sendMessage(ctx, chatID, fmt.Sprintf(statsText,
		stats.Summaries,
		stats.FailedSummaries,
		stats.Questions,
		stats.FailedQuestions))
}
