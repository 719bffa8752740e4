package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"paperlens/internal/chat"
	"paperlens/internal/document"
	"paperlens/internal/llm"
	"paperlens/internal/markdown"
	"paperlens/internal/ratelimiter"
	"paperlens/internal/summarizer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const testChatID int64 = 7

type fakeSender struct {
	mu     sync.Mutex
	err    error
	nextID int
	sent   []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}

	s.nextID++
	s.sent = append(s.sent, c)

	return tgbotapi.Message{MessageID: s.nextID}, nil
}

func (s *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// texts returns the text of every delivered message and edit.
func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, c := range s.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}

	return out
}

func (s *fakeSender) lastText() string {
	texts := s.texts()
	if len(texts) == 0 {
		return ""
	}

	return texts[len(texts)-1]
}

type fakeModel struct {
	fragments []string
	err       error
	setupErr  error
	release   chan struct{}

	mu       sync.Mutex
	requests []llm.Request
}

func (m *fakeModel) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.setupErr != nil {
		return nil, m.setupErr
	}

	return func(yield func(string, error) bool) {
		if m.release != nil {
			select {
			case <-m.release:
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}

		for _, fragment := range m.fragments {
			if !yield(fragment, nil) {
				return
			}
		}

		if m.err != nil {
			yield("", m.err)
		}
	}, nil
}

func (m *fakeModel) calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.requests)
}

func newTestBot(t *testing.T, sender *fakeSender, summaryModel, chatModel llm.Client) *Bot {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	rl := ratelimiter.New(sender, log, ratelimiter.WithRates(0, 0))
	t.Cleanup(rl.Stop)

	return &Bot{
		rateLimiter:    rl,
		normalizer:     document.NewNormalizer(http.DefaultClient, log),
		summarizer:     summarizer.New(summaryModel, "summary-model", log),
		sessions:       chat.NewManager(chatModel, "chat-model", log),
		httpClient:     http.DefaultClient,
		workspaces:     newWorkspaces(),
		updateTimeout:  time.Minute,
		newDocKeyboard: getNewDocumentKeyboard(),
		log:            log,
	}
}

func TestSummarizeOutcomes(t *testing.T) {
	banner := markdown.EscapeV2("⚠️ " + summarizer.FailureMessage)
	greeting := markdown.EscapeV2("💬 " + chat.Greeting)

	tests := []struct {
		name         string
		model        *fakeModel
		wantPhase    summarizer.Phase
		wantText     string
		wantBanner   bool
		wantGreeting bool
	}{
		{
			name:         "success",
			model:        &fakeModel{fragments: []string{"Hello ", "world"}},
			wantPhase:    summarizer.PhaseDone,
			wantText:     "Hello world",
			wantGreeting: true,
		},
		{
			name:       "mid-stream failure keeps partial text",
			model:      &fakeModel{fragments: []string{"Partial "}, err: errors.New("quota")},
			wantPhase:  summarizer.PhaseFailed,
			wantText:   "Partial ",
			wantBanner: true,
		},
		{
			name:       "setup failure",
			model:      &fakeModel{setupErr: errors.New("bad key")},
			wantPhase:  summarizer.PhaseFailed,
			wantBanner: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sender := &fakeSender{}
			b := newTestBot(t, sender, test.model, &fakeModel{})

			err := b.summarize(context.Background(), testChatID, 1, b.normalizer.FromText("paper"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			state := b.workspaces.summary(testChatID)
			if state.Phase != test.wantPhase || state.Text != test.wantText {
				t.Fatalf("unexpected state %+v", state)
			}

			texts := sender.texts()

			if test.wantText != "" && !slices.Contains(texts, test.wantText) {
				t.Errorf("expected %q to be shown, got %q", test.wantText, texts)
			}

			if got := slices.Contains(texts, banner); got != test.wantBanner {
				t.Errorf("banner shown = %v, want %v", got, test.wantBanner)
			}

			if got := slices.Contains(texts, greeting); got != test.wantGreeting {
				t.Errorf("greeting shown = %v, want %v", got, test.wantGreeting)
			}

			if test.wantGreeting && sender.lastText() != greeting {
				t.Errorf("expected greeting to come last, got %q", sender.lastText())
			}
		})
	}
}

func TestSummarizeReleasesGateWhenSendFails(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	model := &fakeModel{fragments: []string{"Summary"}}
	b := newTestBot(t, sender, model, &fakeModel{})

	ctx := context.Background()
	doc := b.normalizer.FromText("paper")

	if err := b.summarize(ctx, testChatID, 0, doc); err == nil {
		t.Fatalf("expected error when the header cannot be sent")
	}

	if got := b.workspaces.summary(testChatID).Phase; got != summarizer.PhaseFailed {
		t.Fatalf("expected failed phase, got %q", got)
	}

	if n := len(model.calls()); n != 0 {
		t.Fatalf("expected no model request, got %d", n)
	}

	sender.setErr(nil)

	if err := b.summarize(ctx, testChatID, 0, doc); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}

	if got := b.workspaces.summary(testChatID).Phase; got != summarizer.PhaseDone {
		t.Fatalf("expected retry to finish, got %q", got)
	}

	if n := len(model.calls()); n != 1 {
		t.Fatalf("expected one model request, got %d", n)
	}
}

func TestSummarizeFailedChatIsEvictable(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	b := newTestBot(t, sender, &fakeModel{}, &fakeModel{})

	_ = b.summarize(context.Background(), testChatID, 0, b.normalizer.FromText("paper"))

	evicted := b.workspaces.evictIdle(time.Now().Add(1000*time.Hour), time.Hour)
	if !slices.Equal(evicted, []int64{testChatID}) {
		t.Fatalf("expected chat to be evicted, got %v", evicted)
	}
}

func TestPastedTextIsKeptVerbatim(t *testing.T) {
	const pasted = "  Attention is all you need.\n\n\tAbstract  "

	tests := []struct {
		name string
		run  func(b *Bot) error
	}{
		{
			name: "plain message",
			run: func(b *Bot) error {
				return b.handleMessage(context.Background(), &tgbotapi.Message{
					MessageID: 1,
					Chat:      &tgbotapi.Chat{ID: testChatID},
					Text:      pasted,
				})
			},
		},
		{
			name: "text command",
			run: func(b *Bot) error {
				return b.handleTextCommand(context.Background(), testChatID, 1, pasted)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			model := &fakeModel{fragments: []string{"ok"}}
			b := newTestBot(t, &fakeSender{}, model, &fakeModel{})

			if err := test.run(b); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			calls := model.calls()
			if len(calls) != 1 || len(calls[0].Parts) != 1 {
				t.Fatalf("unexpected requests %+v", calls)
			}

			if got := calls[0].Parts[0]; got != llm.Text(pasted) {
				t.Fatalf("expected verbatim text, got %q", got)
			}
		})
	}
}

func TestRejectedInputNeverReachesModel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tests := []struct {
		name string
		run  func(b *Bot) error
		want string
	}{
		{
			name: "unsupported type",
			run: func(b *Bot) error {
				return b.handleDocument(context.Background(), &tgbotapi.Message{
					MessageID: 1,
					Chat:      &tgbotapi.Chat{ID: testChatID},
					Document:  &tgbotapi.Document{FileID: "f", FileName: "figure.png", MimeType: "image/png", FileSize: 10},
				})
			},
			want: "❌ Unsupported file type. Please upload a PDF or a plain text file.",
		},
		{
			name: "file too large",
			run: func(b *Bot) error {
				return b.handleDocument(context.Background(), &tgbotapi.Message{
					MessageID: 1,
					Chat:      &tgbotapi.Chat{ID: testChatID},
					Document: &tgbotapi.Document{
						FileID:   "f",
						FileName: "paper.pdf",
						MimeType: "application/pdf",
						FileSize: 11 * 1024 * 1024,
					},
				})
			},
			want: "❌ The file is too large. The limit is 10 MB.",
		},
		{
			name: "unreachable URL",
			run: func(b *Bot) error {
				return b.handleURL(context.Background(), testChatID, 1, srv.URL+"/paper.pdf")
			},
			want: "❌ " + (&document.FetchError{}).UserMessage(),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sender := &fakeSender{}
			model := &fakeModel{fragments: []string{"never"}}
			b := newTestBot(t, sender, model, &fakeModel{})

			if err := test.run(b); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if n := len(model.calls()); n != 0 {
				t.Fatalf("expected no model request, got %d", n)
			}

			if got := b.workspaces.summary(testChatID).Phase; got != summarizer.PhaseIdle {
				t.Fatalf("expected idle summary, got %q", got)
			}

			if got, want := sender.lastText(), markdown.EscapeV2(test.want); got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		})
	}
}

func bindDocument(t *testing.T, b *Bot, content string) {
	t.Helper()

	generation, ok := b.workspaces.beginSummary(testChatID, b.normalizer.FromText(content))
	if !ok {
		t.Fatalf("expected summary gate to open")
	}

	b.workspaces.updateSummary(testChatID, generation, summarizer.State{Phase: summarizer.PhaseDone})
}

func TestHandleQuestion(t *testing.T) {
	t.Run("without document", func(t *testing.T) {
		sender := &fakeSender{}
		chatModel := &fakeModel{}
		b := newTestBot(t, sender, &fakeModel{}, chatModel)

		if err := b.handleQuestion(context.Background(), testChatID, 1, "What is the method?"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got, want := sender.lastText(), markdown.EscapeV2("✖️ Send a document first."); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}

		if n := len(chatModel.calls()); n != 0 {
			t.Fatalf("expected no model request, got %d", n)
		}
	})

	t.Run("answer is rendered", func(t *testing.T) {
		sender := &fakeSender{}
		b := newTestBot(t, sender, &fakeModel{}, &fakeModel{fragments: []string{"Gradient ", "descent."}})
		bindDocument(t, b, "paper")

		if err := b.handleQuestion(context.Background(), testChatID, 1, "What is the method?"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := sender.lastText(); got != "Gradient descent." {
			t.Fatalf("expected final answer, got %q", got)
		}
	})

	t.Run("failure shows apology", func(t *testing.T) {
		sender := &fakeSender{}
		b := newTestBot(t, sender, &fakeModel{}, &fakeModel{err: errors.New("quota")})
		bindDocument(t, b, "paper")

		if err := b.handleQuestion(context.Background(), testChatID, 1, "What is the method?"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := sender.lastText(); got != chat.ApologyMessage {
			t.Fatalf("expected apology, got %q", got)
		}
	})

	t.Run("busy session asks to wait", func(t *testing.T) {
		ctx := context.Background()
		sender := &fakeSender{}
		chatModel := &fakeModel{fragments: []string{"first answer"}, release: make(chan struct{})}
		b := newTestBot(t, sender, &fakeModel{}, chatModel)
		bindDocument(t, b, "paper")

		doc, _ := b.workspaces.document(testChatID)
		session, _, err := b.sessions.Open(testChatID, doc.Payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := session.Send(ctx, "first", nil)
			done <- err
		}()

		deadline := time.Now().Add(5 * time.Second)
		for !session.IsLoading() {
			if time.Now().After(deadline) {
				t.Fatalf("session never started loading")
			}
			time.Sleep(time.Millisecond)
		}

		if err = b.handleQuestion(ctx, testChatID, 2, "second"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := markdown.EscapeV2("⏳ Please wait for the current answer to finish.")
		if got := sender.lastText(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}

		close(chatModel.release)
		if err = <-done; err != nil {
			t.Fatalf("unexpected error from first question: %v", err)
		}

		if n := len(chatModel.calls()); n != 1 {
			t.Fatalf("expected one model request, got %d", n)
		}
	})
}
