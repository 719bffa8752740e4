package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"paperlens/internal/domain"
	"paperlens/internal/llm"
)

const (
	Greeting = "I've analyzed the paper. Ask me anything about methodology, results, or specific details."

	ApologyMessage = "Sorry, I encountered an error while processing your request."

	systemInstruction = "You are a helpful research assistant. Answer questions using only the " +
		"provided document. If the document does not contain the answer, say so plainly. " +
		"Be concise and precise."

	prepareInstruction = "Here is the document. Read it carefully and prepare to answer questions about it."

	acknowledgment = "I have read the document and I am ready to answer your questions about it."
)

var (
	ErrBusy         = errors.New("a response is already in progress")
	ErrEmptyMessage = errors.New("message is empty")
)

// Session is a conversation bound to one document payload.
type Session struct {
	client  llm.Client
	model   string
	payload domain.Payload
	now     func() time.Time
	log     *slog.Logger

	mu         sync.Mutex
	history    []llm.Turn
	messages   []domain.ChatMessage
	loading    bool
	lastActive time.Time
}

func newSession(
	client llm.Client,
	model string,
	payload domain.Payload,
	now func() time.Time,
	log *slog.Logger,
) (*Session, error) {
	parts, err := seedParts(payload)
	if err != nil {
		return nil, fmt.Errorf("seed history: %w", err)
	}

	createdAt := now()

	return &Session{
		client:  client,
		model:   model,
		payload: payload,
		now:     now,
		log:     log,
		history: []llm.Turn{
			{Role: llm.RoleUser, Parts: parts},
			{Role: llm.RoleModel, Parts: []llm.Part{llm.Text(acknowledgment)}},
		},
		messages:   []domain.ChatMessage{domain.NewChatMessage(domain.RoleModel, Greeting, createdAt)},
		lastActive: createdAt,
	}, nil
}

func seedParts(payload domain.Payload) ([]llm.Part, error) {
	switch payload.(type) {
	case domain.TextPayload, domain.BinaryPayload:
		parts, err := llm.PayloadParts(payload, "")
		if err != nil {
			return nil, err
		}
		return append(parts, llm.Text(prepareInstruction)), nil
	default:
		return nil, fmt.Errorf("unknown payload type %T", payload)
	}
}

func (s *Session) Payload() domain.Payload {
	return s.payload
}

// Send asks one question. update receives the model message every time
// its text or streaming flag changes.
func (s *Session) Send(
	ctx context.Context,
	text string,
	update func(domain.ChatMessage),
) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if update == nil {
		update = func(domain.ChatMessage) {}
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrBusy
	}
	s.loading = true

	now := s.now()
	s.lastActive = now
	s.messages = append(s.messages, domain.NewChatMessage(domain.RoleUser, text, now))

	reply := domain.NewChatMessage(domain.RoleModel, "", now)
	reply.Streaming = true
	s.messages = append(s.messages, reply)
	idx := len(s.messages) - 1

	history := slices.Clone(s.history)
	s.mu.Unlock()

	update(reply)

	answer, err := s.stream(ctx, history, text, func(accumulated string) {
		update(s.setReply(idx, func(m *domain.ChatMessage) {
			m.Text = accumulated
		}))
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to answer question",
			"error", err,
			"model", s.model)

		reply = s.finish(idx, nil, func(m *domain.ChatMessage) {
			m.Text = ApologyMessage
			m.Streaming = false
		})
		update(reply)

		return reply, err
	}

	reply = s.finish(idx, []llm.Turn{
		{Role: llm.RoleUser, Parts: []llm.Part{llm.Text(text)}},
		{Role: llm.RoleModel, Parts: []llm.Part{llm.Text(answer)}},
	}, func(m *domain.ChatMessage) {
		m.Text = answer
		m.Streaming = false
	})
	update(reply)

	return reply, nil
}

func (s *Session) stream(
	ctx context.Context,
	history []llm.Turn,
	question string,
	fold func(accumulated string),
) (string, error) {
	stream, err := s.client.Stream(ctx, llm.Request{
		Model:             s.model,
		SystemInstruction: systemInstruction,
		History:           history,
		Parts:             []llm.Part{llm.Text(question)},
	})
	if err != nil {
		return "", fmt.Errorf("start stream: %w", err)
	}

	var b strings.Builder

	for fragment, err := range stream {
		if err != nil {
			return b.String(), err
		}
		if fragment == "" {
			continue
		}

		b.WriteString(fragment)
		fold(b.String())
	}

	return b.String(), nil
}

func (s *Session) setReply(idx int, fn func(*domain.ChatMessage)) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.messages[idx])
	return s.messages[idx]
}

func (s *Session) finish(idx int, turns []llm.Turn, fn func(*domain.ChatMessage)) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.messages[idx])
	s.history = append(s.history, turns...)
	s.loading = false
	s.lastActive = s.now()

	return s.messages[idx]
}

// Messages returns the visible conversation, greeting first.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.messages)
}

// History returns the turns sent to the model, seed turns first.
func (s *Session) History() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.history)
}

func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loading
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive
}
