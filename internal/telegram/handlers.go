package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
	"github.com/suspectuso/lesson-bot/internal/tonapi"
)

// --- Commands ---

func (b *Bot) handleStart(ctx context.Context, msg *models.Message) error {
	if err := b.ensureUser(ctx, *msg.From, msg.Chat.ID); err != nil {
		return err
	}

	text := startText(displayName(*msg.From), b.cfg.Language, b.cfg.SubscriptionDays, b.cfg.FeeUSD)
	return b.sendMessage(ctx, msg.Chat.ID, text, MainKeyboard())
}

func (b *Bot) handleLevelCommand(ctx context.Context, msg *models.Message) error {
	if err := b.ensureUser(ctx, *msg.From, msg.Chat.ID); err != nil {
		return err
	}

	arg := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/level"))
	if arg == "" {
		u, err := b.deps.Store.GetUser(ctx, msg.From.ID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		return b.sendMessage(ctx, msg.Chat.ID, levelText(u.Level), LevelKeyboard(u.Level))
	}

	level, err := strconv.Atoi(arg)
	if err != nil {
		return b.sendMessage(ctx, msg.Chat.ID, levelText(0), LevelKeyboard(0))
	}
	return b.setLevel(ctx, msg.From.ID, msg.Chat.ID, level, nil)
}

func (b *Bot) handleSubscribeCommand(ctx context.Context, msg *models.Message) error {
	if err := b.ensureUser(ctx, *msg.From, msg.Chat.ID); err != nil {
		return err
	}
	return b.subscribe(ctx, msg.From.ID, msg.Chat.ID)
}

func (b *Bot) handleStatus(ctx context.Context, msg *models.Message) error {
	if err := b.ensureUser(ctx, *msg.From, msg.Chat.ID); err != nil {
		return err
	}

	u, err := b.deps.Store.GetUser(ctx, msg.From.ID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	sub, err := b.deps.Store.ActiveSubscription(ctx, msg.From.ID, time.Now())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("active subscription: %w", err)
	}

	pending := len(b.deps.Ledger.List(msg.From.ID))
	var latest string
	if p, ok := b.deps.Ledger.Latest(msg.From.ID); ok {
		latest = p.Reference
	}
	return b.sendMessage(ctx, msg.Chat.ID, statusText(u.Level, sub, pending, latest, b.loc), MainKeyboard())
}

func (b *Bot) handleStop(ctx context.Context, msg *models.Message) error {
	n, err := b.deps.Store.CancelSubscriptions(ctx, msg.From.ID)
	if err != nil {
		return fmt.Errorf("cancel subscriptions: %w", err)
	}
	b.deps.Ledger.Clear(msg.From.ID)

	if n > 0 {
		b.log.Info("subscription cancelled", "user_id", msg.From.ID)
	}
	return b.sendMessage(ctx, msg.Chat.ID, stopText(n > 0), MainKeyboard())
}

func (b *Bot) handleHelp(ctx context.Context, msg *models.Message) error {
	return b.sendMessage(ctx, msg.Chat.ID, helpText(), MainKeyboard())
}

// --- Callbacks ---

func (b *Bot) routeCallback(ctx context.Context, cb *models.CallbackQuery) error {
	data := cb.Data

	switch {
	case data == "back":
		return b.showMainMenu(ctx, cb)
	case data == "levels":
		return b.showLevels(ctx, cb)
	case strings.HasPrefix(data, "level:"):
		level, err := parseLevel(data)
		if err != nil {
			b.log.Warn("bad level callback", "data", data, "user_id", cb.From.ID)
			return nil
		}
		if err := b.ensureUser(ctx, cb.From, chatOf(cb)); err != nil {
			return err
		}
		return b.setLevel(ctx, cb.From.ID, chatOf(cb), level, cb)
	case data == "subscribe":
		if err := b.ensureUser(ctx, cb.From, chatOf(cb)); err != nil {
			return err
		}
		return b.subscribe(ctx, cb.From.ID, chatOf(cb))
	case data == "paid":
		return b.handlePaid(ctx, cb)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", cb.From.ID)
		return nil
	}
}

func (b *Bot) showMainMenu(ctx context.Context, cb *models.CallbackQuery) error {
	text := startText(displayName(cb.From), b.cfg.Language, b.cfg.SubscriptionDays, b.cfg.FeeUSD)
	b.editMessage(ctx, cb.Message, text, MainKeyboard())
	return nil
}

func (b *Bot) showLevels(ctx context.Context, cb *models.CallbackQuery) error {
	u, err := b.deps.Store.GetUser(ctx, cb.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		u = &storage.User{}
	} else if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	b.editMessage(ctx, cb.Message, levelText(u.Level), LevelKeyboard(u.Level))
	return nil
}

// setLevel stores the level and confirms it, editing the picker when cb is set.
func (b *Bot) setLevel(ctx context.Context, userID, chatID int64, level int, cb *models.CallbackQuery) error {
	err := b.deps.Store.SetLevel(ctx, userID, level)
	if errors.Is(err, storage.ErrInvalidLevel) {
		return b.sendMessage(ctx, chatID, levelText(0), LevelKeyboard(0))
	}
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}

	b.log.Info("level set", "user_id", userID, "level", level)

	text := levelSetText(level)
	if cb != nil && cb.Message.Message != nil {
		b.editMessage(ctx, cb.Message, text, MainKeyboard())
		return nil
	}
	return b.sendMessage(ctx, chatID, text, MainKeyboard())
}

// subscribe opens a new payment attempt and shows how to pay it.
func (b *Bot) subscribe(ctx context.Context, userID, chatID int64) error {
	u, err := b.deps.Store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u.Level == 0 {
		return b.sendMessage(ctx, chatID, "🎚 Pick your level first, then subscribe.", LevelKeyboard(0))
	}

	q, err := b.deps.Quoter.Quote(ctx)
	if err != nil {
		b.sendMessage(ctx, chatID, "⚠️ Prices are unavailable right now. Please try again in a few minutes.", MainKeyboard())
		return fmt.Errorf("quote: %w", err)
	}

	reference, createdAt := b.deps.References.Generate(userID)
	b.deps.Ledger.Record(userID, payment.PendingPayment{
		Reference:      reference,
		ExpectedNative: q.Native,
		ExpectedToken:  q.Token,
		CreatedAt:      createdAt,
	})

	b.log.Info("payment requested",
		"user_id", userID,
		"reference", reference,
		"native", q.Native,
		"token", q.Token,
		"rate", q.Rate,
	)

	inv := invoice{
		Days:        b.cfg.SubscriptionDays,
		FeeUSD:      b.cfg.FeeUSD,
		NativeTON:   tonapi.FormatUnits(nanoTON(q.Native), 9),
		TokenAmount: tonapi.FormatUnits(q.Token, b.cfg.TokenDecimals),
		TokenSymbol: b.cfg.TokenSymbol,
		Wallet:      b.cfg.ServiceWalletAddr,
		Reference:   reference,
	}
	links := payment.PaymentLinks(b.cfg.ServiceWalletAddr, b.cfg.TokenMasterAddr, reference, q)

	return b.sendMessage(ctx, chatID, invoiceText(inv), PaymentKeyboard(inv, links))
}

// handlePaid runs reconciliation and answers with exactly one message for the
// outcome. A new subscription gets its first lesson only after that reply.
func (b *Bot) handlePaid(ctx context.Context, cb *models.CallbackQuery) error {
	userID := cb.From.ID
	chatID := chatOf(cb)

	// Remove the invoice buttons while the check runs.
	b.editMessage(ctx, cb.Message, "🔍 <b>Checking your payment...</b>", nil)

	res, err := b.deps.Reconciler.Reconcile(ctx, userID)

	b.log.Info("payment check finished",
		"user_id", userID,
		"outcome", res.Outcome.String(),
		"attempts", res.Attempts,
	)

	if sendErr := b.sendMessage(ctx, chatID, outcomeText(res, err, b.loc), outcomeKeyboard(res, err)); sendErr != nil && err == nil {
		err = sendErr
	}

	if res.Outcome == payment.OutcomeConfirmed && res.Created && b.deps.Activator != nil {
		if actErr := b.deps.Activator.Activate(ctx, userID); actErr != nil {
			b.log.Error("activate subscription", "user_id", userID, "error", actErr)
		}
	}
	return err
}

// --- Helpers ---

func (b *Bot) ensureUser(ctx context.Context, from models.User, chatID int64) error {
	if err := b.deps.Store.UpsertUser(ctx, from.ID, chatID, from.Username); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func displayName(u models.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "friend"
}

func parseLevel(data string) (int, error) {
	level, err := strconv.Atoi(strings.TrimPrefix(data, "level:"))
	if err != nil {
		return 0, err
	}
	if level < 1 || level > storage.MaxLevel {
		return 0, storage.ErrInvalidLevel
	}
	return level, nil
}
