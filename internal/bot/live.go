package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperlens/internal/markdown"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMessageMaxLength = 4096
	// Telegram counts UTF-16 code units, pages are cut by runes.
	livePageLimit     = telegramMessageMaxLength - 96
	liveEditInterval  = 1500 * time.Millisecond
	livePlaceholder   = "…"
	liveStreamingMark = " ▍"
)

type messenger interface {
	Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// liveMessage shows a growing text as a series of Telegram messages that
// are edited in place. Intermediate renders are throttled, final renders
// always go through.
type liveMessage struct {
	sender   messenger
	chatID   int64
	replyTo  int
	interval time.Duration
	now      func() time.Time

	ids      []int
	pages    []string
	rendered time.Time
}

func newLiveMessage(sender messenger, chatID int64, replyTo int) *liveMessage {
	return &liveMessage{
		sender:   sender,
		chatID:   chatID,
		replyTo:  replyTo,
		interval: liveEditInterval,
		now:      time.Now,
	}
}

func (m *liveMessage) Render(ctx context.Context, text string, final bool) error {
	if !final && !m.rendered.IsZero() && m.now().Sub(m.rendered) < m.interval {
		return nil
	}

	pages := livePages(text, final)

	for i, page := range pages {
		if i < len(m.ids) {
			if m.pages[i] == page {
				continue
			}

			edit := tgbotapi.NewEditMessageText(m.chatID, m.ids[i], page)
			edit.DisableWebPagePreview = true

			if _, err := m.sender.Send(ctx, edit); err != nil {
				return fmt.Errorf("edit page %d: %w", i, err)
			}

			m.pages[i] = page
			continue
		}

		message := tgbotapi.NewMessage(m.chatID, page)
		message.DisableWebPagePreview = true
		if i == 0 && m.replyTo != 0 {
			message.ReplyToMessageID = m.replyTo
		}

		sent, err := m.sender.Send(ctx, message)
		if err != nil {
			return fmt.Errorf("send page %d: %w", i, err)
		}

		m.ids = append(m.ids, sent.MessageID)
		m.pages = append(m.pages, page)
	}

	m.rendered = m.now()

	return nil
}

// MessageID returns the first page's message, zero before the first render.
func (m *liveMessage) MessageID() int {
	if len(m.ids) == 0 {
		return 0
	}

	return m.ids[0]
}

func livePages(text string, final bool) []string {
	text = strings.ToValidUTF8(text, "?")
	if strings.TrimSpace(text) == "" {
		return []string{livePlaceholder}
	}

	pages := markdown.Split(text, livePageLimit)
	if !final {
		pages[len(pages)-1] += liveStreamingMark
	}

	return pages
}
