package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/lesson-bot/internal/config"
	"github.com/suspectuso/lesson-bot/internal/dedup"
	"github.com/suspectuso/lesson-bot/internal/notifier"
	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

// Reconciler checks a user's pending payments against the ledger
type Reconciler interface {
	Reconcile(ctx context.Context, userID int64) (payment.Result, error)
}

// Deps are the collaborators the chat handlers drive
type Deps struct {
	Store      *storage.Storage
	Ledger     *payment.Ledger
	References *payment.ReferenceGenerator
	Quoter     *payment.Quoter
	Reconciler Reconciler

	// Activator sends the first lesson of a new subscription, after the payment reply.
	Activator payment.Activator
	Dedup     dedup.Deduplicator
}

// messenger is the part of the Bot API the handlers write through
type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot  *bot.Bot
	api  messenger
	cfg  *config.Config
	loc  *time.Location
	deps *Deps
	log  *slog.Logger
}

var (
	_ notifier.Sender = (*Bot)(nil)
	_ messenger       = (*bot.Bot)(nil)
	_ Reconciler      = (*payment.Reconciler)(nil)
)

// New creates the telegram client. Handlers are attached later with Register, so
// the client can serve as a message sender before the rest of the app exists.
func New(cfg *config.Config, log *slog.Logger) (*Bot, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg: cfg,
		loc: loc,
		log: log,
	}

	tgBot, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(b.defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b.bot = tgBot
	b.api = tgBot

	return b, nil
}

// Register attaches command and callback handlers
func (b *Bot) Register(deps Deps) {
	b.deps = &deps

	commands := map[string]messageHandler{
		"/start":     b.handleStart,
		"/level":     b.handleLevelCommand,
		"/subscribe": b.handleSubscribeCommand,
		"/status":    b.handleStatus,
		"/stop":      b.handleStop,
		"/help":      b.handleHelp,
	}
	for cmd, h := range commands {
		b.bot.RegisterHandler(bot.HandlerTypeMessageText, cmd, bot.MatchTypeExact, b.onMessage(h))
		b.bot.RegisterHandler(bot.HandlerTypeMessageText, cmd+" ", bot.MatchTypePrefix, b.onMessage(h))
	}

	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.onCallback(b.routeCallback))
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// Send delivers one HTML message to a chat
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

type (
	messageHandler  func(ctx context.Context, msg *models.Message) error
	callbackHandler func(ctx context.Context, cb *models.CallbackQuery) error
)

func (b *Bot) onMessage(h messageHandler) bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		msg := update.Message
		if msg == nil || msg.From == nil {
			return
		}
		b.guard(ctx, dedup.MessageKey(msg.ID, msg.From.ID), func() error {
			return h(ctx, msg)
		})
	}
}

func (b *Bot) onCallback(h callbackHandler) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		cb := update.CallbackQuery
		if cb == nil {
			return
		}
		b.guard(ctx, dedup.CallbackKey(cb.ID, cb.Data), func() error {
			// Answer callback to remove loading state
			tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
				CallbackQueryID: cb.ID,
			})
			return h(ctx, cb)
		})
	}
}

// guard runs fn at most once per key. A failed fn releases the key so a
// redelivered event is handled again.
func (b *Bot) guard(ctx context.Context, key string, fn func() error) {
	if !b.deps.Dedup.ShouldProcess(ctx, key) {
		b.log.Debug("duplicate event skipped", "key", key)
		return
	}
	if err := fn(); err != nil {
		b.deps.Dedup.Rollback(ctx, key)
		b.log.Error("handle event", "key", key, "error", err)
	}
}

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if b.deps == nil || update.Message == nil || update.Message.Text == "" {
		return
	}
	b.onMessage(b.handleHelp)(ctx, b.bot, update)
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// chatOf returns the chat a callback came from, falling back to the user's private chat
func chatOf(cb *models.CallbackQuery) int64 {
	if cb.Message.Message != nil {
		return cb.Message.Message.Chat.ID
	}
	return cb.From.ID
}
