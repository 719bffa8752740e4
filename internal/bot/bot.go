package bot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"paperlens/internal/chat"
	"paperlens/internal/database"
	"paperlens/internal/document"
	"paperlens/internal/ratelimiter"
	"paperlens/internal/summarizer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxBackoffSeconds         = 60
	initialBackoffSeconds     = 3
	backoffGrowthFactor       = 2
	resetOffsetBackoffSeconds = 30

	BotUpdateTimeout = 60
)

// Services are the collaborators the bot presents to Telegram users.
type Services struct {
	Normalizer *document.Normalizer
	Summarizer *summarizer.Orchestrator
	Sessions   *chat.Manager
	Journal    *database.Database
	HTTPClient *http.Client
}

type Bot struct {
	api            *tgbotapi.BotAPI
	rateLimiter    *ratelimiter.RateLimiter
	normalizer     *document.Normalizer
	summarizer     *summarizer.Orchestrator
	sessions       *chat.Manager
	journal        *database.Database
	httpClient     *http.Client
	workspaces     *workspaces
	updateTimeout  time.Duration
	newDocKeyboard [][]tgbotapi.InlineKeyboardButton
	handlers       sync.WaitGroup
	log            *slog.Logger
}

func New(
	token string,
	services Services,
	updateTimeout time.Duration,
	log *slog.Logger,
) (*Bot, error) {
	token = strings.TrimSpace(token)

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	httpClient := services.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Bot{
		api:            api,
		rateLimiter:    ratelimiter.New(api, log),
		normalizer:     services.Normalizer,
		summarizer:     services.Summarizer,
		sessions:       services.Sessions,
		journal:        services.Journal,
		httpClient:     httpClient,
		workspaces:     newWorkspaces(),
		updateTimeout:  updateTimeout,
		newDocKeyboard: getNewDocumentKeyboard(),
		log:            log,
	}, nil
}

func (b *Bot) Start(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = BotUpdateTimeout

	backoffSeconds := initialBackoffSeconds

	for {
		select {
		case <-ctx.Done():
			b.log.InfoContext(ctx, "Bot context is done",
				"error", ctx.Err())
			return
		default:
		}

		updates := b.api.GetUpdatesChan(updateConfig)
		updatesClosed := false

		for !updatesClosed {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				b.log.InfoContext(ctx, "Bot context is done",
					"error", ctx.Err())
				return

			case update, ok := <-updates:
				if !ok {
					updatesClosed = true
					continue
				}
				updateConfig.Offset = update.UpdateID + 1
				backoffSeconds = initialBackoffSeconds

				b.handlers.Go(func() {
					b.handleUpdate(ctx, &update)
				})
			}
		}

		if ctx.Err() != nil {
			return
		}

		b.log.WarnContext(ctx, "Update channel is closed, reconnecting...",
			"offset", updateConfig.Offset,
			"backoffSeconds", backoffSeconds)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(backoffSeconds) * time.Second):
		}

		backoffSeconds = updateBackoffSeconds(backoffSeconds)

		if backoffSeconds >= resetOffsetBackoffSeconds {
			updateConfig.Offset = 0
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	updateCtx, cancel := context.WithTimeout(ctx, b.updateTimeout)
	defer cancel()

	switch {
	case update.Message != nil:
		chatID, chatType := chatContext(update.Message.Chat)

		if err := b.handleMessage(updateCtx, update.Message); err != nil {
			b.log.ErrorContext(updateCtx, "Failed to handle message",
				"error", err,
				"chatID", chatID,
				"userID", senderID(update.Message.From),
				"chatType", chatType,
				"messageID", update.Message.MessageID)
		}

	case update.CallbackQuery != nil:
		if err := b.handleCallbackQuery(updateCtx, update.CallbackQuery); err != nil {
			b.log.ErrorContext(updateCtx, "Failed to handle callback query",
				"error", err,
				"chatID", callbackChatID(update.CallbackQuery),
				"userID", senderID(update.CallbackQuery.From),
				"data", update.CallbackQuery.Data,
				"messageID", callbackMessageID(update.CallbackQuery))
		}
	}
}

// EvictIdle forgets documents and chat sessions of chats that stayed
// quiet for longer than ttl.
func (b *Bot) EvictIdle(ctx context.Context, now time.Time, ttl time.Duration) int {
	evicted := b.workspaces.evictIdle(now, ttl)
	for _, chatID := range evicted {
		b.sessions.Close(chatID)
	}

	if len(evicted) > 0 {
		b.log.InfoContext(ctx, "Idle documents are evicted",
			"evicted", len(evicted))
	}

	return len(evicted) + b.sessions.EvictIdle(ctx, now, ttl)
}

// Stop waits for in-flight updates and stops outgoing traffic.
func (b *Bot) Stop() {
	b.handlers.Wait()

	if b.rateLimiter != nil {
		b.rateLimiter.Stop()
	}
}

func chatContext(chat *tgbotapi.Chat) (int64, string) {
	if chat == nil {
		return 0, ""
	}

	return chat.ID, chat.Type
}

func senderID(user *tgbotapi.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func callbackChatID(cb *tgbotapi.CallbackQuery) int64 {
	if cb != nil && cb.Message != nil && cb.Message.Chat != nil {
		return cb.Message.Chat.ID
	}

	return 0
}

func callbackMessageID(cb *tgbotapi.CallbackQuery) int {
	if cb != nil && cb.Message != nil {
		return cb.Message.MessageID
	}

	return 0
}

func updateBackoffSeconds(backoffSeconds int) int {
	if backoffSeconds < maxBackoffSeconds {
		backoffSeconds *= backoffGrowthFactor
		if backoffSeconds > maxBackoffSeconds {
			backoffSeconds = maxBackoffSeconds
		}
	}
	return backoffSeconds
}
