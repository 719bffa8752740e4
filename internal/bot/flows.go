package bot

import (
	"context"
	"errors"
	"fmt"

	"paperlens/internal/chat"
	"paperlens/internal/domain"
	"paperlens/internal/markdown"
	"paperlens/internal/summarizer"
)

// summarize binds doc to the chat, opens its chat session and streams the
// summary into a live message.
func (b *Bot) summarize(ctx context.Context, chatID int64, replyTo int, doc domain.Document) error {
	generation, ok := b.workspaces.beginSummary(chatID, doc)
	if !ok {
		return b.sendPlain(ctx, chatID, "⏳ A summary is still being generated. Please wait until it finishes.", nil)
	}

	// Any return before the orchestrator finishes must release the gate.
	finished := false
	defer func() {
		if !finished {
			b.workspaces.updateSummary(chatID, generation, summarizer.State{
				Phase:        summarizer.PhaseFailed,
				ErrorMessage: summarizer.FailureMessage,
			})
		}
	}()

	session, _, err := b.sessions.Open(chatID, doc.Payload)
	if err != nil {
		errs := []error{fmt.Errorf("open chat session: %w", err)}
		if sendErr := b.sendPlain(ctx, chatID, "⚠️ "+summarizer.FailureMessage, b.newDocKeyboard); sendErr != nil {
			errs = append(errs, fmt.Errorf("send message: %w", sendErr))
		}

		return errors.Join(errs...)
	}

	if err = b.sendMessage(ctx, chatID, fmt.Sprintf("📄 *%s*\n%s, %s",
		markdown.EscapeV2(doc.Name),
		markdown.EscapeV2(doc.MIMEType()),
		markdown.EscapeV2(formatBytes(doc.Size)))); err != nil {
		return fmt.Errorf("send document header: %w", err)
	}

	requestID := b.startRequest(ctx, domain.RequestRecord{
		ChatID:   chatID,
		Kind:     domain.RequestKindSummary,
		Source:   doc.Source,
		MIMEType: doc.MIMEType(),
		Size:     doc.Size,
	})

	live := newLiveMessage(b.rateLimiter, chatID, replyTo)

	var renderErr error
	state, runErr := b.summarizer.Run(ctx, doc.Payload, func(state summarizer.State) {
		b.workspaces.updateSummary(chatID, generation, state)

		if renderErr != nil || state.Phase == summarizer.PhaseRequesting {
			return
		}

		if state.Phase == summarizer.PhaseFailed && state.Text == "" && live.MessageID() == 0 {
			return
		}

		if err := live.Render(ctx, state.Text, state.Finished()); err != nil {
			renderErr = err
		}
	})

	finished = state.Finished()

	b.finishRequest(ctx, requestID, len(state.Text), runErr)

	var errs []error
	if renderErr != nil {
		errs = append(errs, fmt.Errorf("render summary: %w", renderErr))
	}

	if state.Phase == summarizer.PhaseFailed {
		if err = b.sendPlain(ctx, chatID, "⚠️ "+state.ErrorMessage, b.newDocKeyboard); err != nil {
			errs = append(errs, fmt.Errorf("send failure banner: %w", err))
		}

		return errors.Join(errs...)
	}

	messages := session.Messages()
	if err = b.sendPlain(ctx, chatID, "💬 "+messages[0].Text, b.newDocKeyboard); err != nil {
		errs = append(errs, fmt.Errorf("send greeting: %w", err))
	}

	return errors.Join(errs...)
}

// handleQuestion sends text to the chat session bound to the current
// document and streams the answer into a live message.
func (b *Bot) handleQuestion(ctx context.Context, chatID int64, replyTo int, text string) error {
	doc, ok := b.workspaces.document(chatID)
	if !ok {
		return b.sendPlain(ctx, chatID, "✖️ Send a document first.", nil)
	}

	session, _, err := b.sessions.Open(chatID, doc.Payload)
	if err != nil {
		return fmt.Errorf("open chat session: %w", err)
	}

	if session.IsLoading() {
		return b.sendPlain(ctx, chatID, "⏳ Please wait for the current answer to finish.", nil)
	}

	requestID := b.startRequest(ctx, domain.RequestRecord{
		ChatID:   chatID,
		Kind:     domain.RequestKindChat,
		Source:   doc.Source,
		MIMEType: doc.MIMEType(),
		Size:     int64(len(text)),
	})

	live := newLiveMessage(b.rateLimiter, chatID, replyTo)

	var renderErr error
	reply, sendErr := session.Send(ctx, text, func(message domain.ChatMessage) {
		if renderErr != nil {
			return
		}

		if err := live.Render(ctx, message.Text, !message.Streaming); err != nil {
			renderErr = err
		}
	})

	if errors.Is(sendErr, chat.ErrBusy) {
		b.finishRequest(ctx, requestID, 0, sendErr)
		return b.sendPlain(ctx, chatID, "⏳ Please wait for the current answer to finish.", nil)
	}

	b.finishRequest(ctx, requestID, len(reply.Text), sendErr)

	if renderErr != nil {
		return fmt.Errorf("render answer: %w", renderErr)
	}

	return nil
}

func (b *Bot) startRequest(ctx context.Context, r domain.RequestRecord) int64 {
	if b.journal == nil {
		return 0
	}

	id, err := b.journal.StartRequest(ctx, r)
	if err != nil {
		b.log.WarnContext(ctx, "Failed to journal request",
			"error", err,
			"chatID", r.ChatID,
			"kind", r.Kind)
		return 0
	}

	return id
}

func (b *Bot) finishRequest(ctx context.Context, id int64, chars int, cause error) {
	if b.journal == nil || id == 0 {
		return
	}

	if err := b.journal.FinishRequest(context.WithoutCancel(ctx), id, chars, cause); err != nil {
		b.log.WarnContext(ctx, "Failed to journal request outcome",
			"error", err,
			"requestID", id)
	}
}
