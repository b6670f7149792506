package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signaltrader/internal/ports"
)

const updateTimeoutSeconds = 60

// Handler receives classified channel events. Implementations must be safe
// for concurrent calls; every event is dispatched on its own goroutine.
type Handler interface {
	// HandleNewMessage processes a fresh channel post.
	HandleNewMessage(ctx context.Context, messageID int, text string)
	// HandleEditedMessage processes an edit of an earlier channel post.
	HandleEditedMessage(ctx context.Context, messageID int, text string)
	// HandleReply processes a post replying to an earlier one.
	HandleReply(ctx context.Context, replyToID int, text string)
}

// Bot wraps the Telegram Bot API. It serves two roles: a Notifier that pushes
// status messages to the notification chat, and a listener that feeds channel
// posts from the signal channel into a Handler.
type Bot struct {
	api       *tgbotapi.BotAPI
	channelID int64
	chatID    int64
	logger    ports.Logger
}

// Config holds configuration specific to the Telegram adapter.
type Config struct {
	Token     string
	ChannelID int64 // Signal channel to listen on; 0 accepts any channel
	ChatID    int64 // Destination for notifications
	Logger    ports.Logger
}

// New creates a new Telegram bot adapter.
func New(cfg Config) (*Bot, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram bot")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required: %w", ports.ErrConfigurationError)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	cfg.Logger.Info(context.Background(), "Telegram bot authorized", map[string]interface{}{"account": api.Self.UserName})

	return &Bot{
		api:       api,
		channelID: cfg.ChannelID,
		chatID:    cfg.ChatID,
		logger:    cfg.Logger,
	}, nil
}

// Send pushes a Markdown message to the notification chat. Delivery failures
// are logged and swallowed; notification problems must never feed back into
// order handling.
func (b *Bot) Send(ctx context.Context, text string) {
	if b.chatID == 0 {
		b.logger.Debug(ctx, "Notification chat not configured, dropping message")
		return
	}

	go func() {
		msg := tgbotapi.NewMessage(b.chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error(context.Background(), err, "Failed to send Telegram notification")
		}
	}()
}

// Listen consumes the update stream and dispatches channel posts to the
// handler until ctx is cancelled. Each event runs on its own goroutine so a
// slow order placement never blocks the stream.
func (b *Bot) Listen(ctx context.Context, handler Handler) error {
	op := "Listen"
	if handler == nil {
		return fmt.Errorf("%s: handler cannot be nil", op)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info(ctx, "Listening for Telegram channel posts", map[string]interface{}{"channelID": b.channelID})

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info(ctx, op+": update stream stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("%s: update channel closed: %w", op, ports.ErrConnectionFailed)
			}
			b.dispatch(ctx, handler, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, handler Handler, update tgbotapi.Update) {
	switch {
	case update.ChannelPost != nil:
		post := update.ChannelPost
		if !b.fromSignalChannel(post.Chat.ID) {
			return
		}
		if post.ReplyToMessage != nil {
			replyToID := post.ReplyToMessage.MessageID
			b.logger.Debug(ctx, "Reply received", map[string]interface{}{"messageID": post.MessageID, "replyTo": replyToID})
			go handler.HandleReply(ctx, replyToID, post.Text)
			return
		}
		b.logger.Debug(ctx, "Channel post received", map[string]interface{}{"messageID": post.MessageID})
		go handler.HandleNewMessage(ctx, post.MessageID, post.Text)

	case update.EditedChannelPost != nil:
		post := update.EditedChannelPost
		if !b.fromSignalChannel(post.Chat.ID) {
			return
		}
		b.logger.Debug(ctx, "Edited channel post received", map[string]interface{}{"messageID": post.MessageID})
		go handler.HandleEditedMessage(ctx, post.MessageID, post.Text)
	}
}

func (b *Bot) fromSignalChannel(chatID int64) bool {
	return b.channelID == 0 || chatID == b.channelID
}
