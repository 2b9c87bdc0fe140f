package telegram

import (
	"fmt"
	"html"
	"math/big"
	"strings"
	"time"

	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

var levelNames = map[int]string{
	1: "Beginner",
	2: "Elementary",
	3: "Intermediate",
	4: "Upper-intermediate",
	5: "Advanced",
}

// invoice is what the user sees for one payment attempt
type invoice struct {
	Days        int
	FeeUSD      float64
	NativeTON   string
	TokenAmount string
	TokenSymbol string
	Wallet      string
	Reference   string
}

func startText(name, language string, days int, feeUSD float64) string {
	return fmt.Sprintf(
		"👋 Hi, <b>%s</b>!\n\n"+
			"Every day I send you one short <b>%s</b> sentence with a translation "+
			"and a word-by-word breakdown, matched to your level.\n\n"+
			"1️⃣ Pick your level\n"+
			"2️⃣ Subscribe for <b>%d days</b> (<b>$%.2f</b>)\n"+
			"3️⃣ Get your first lesson right away\n\n"+
			"Choose an action 👇",
		html.EscapeString(name), html.EscapeString(language), days, feeUSD,
	)
}

func helpText() string {
	return "ℹ️ <b>Commands</b>\n\n" +
		"/start — main menu\n" +
		"/level — choose your level (or <code>/level 3</code>)\n" +
		"/subscribe — get payment details\n" +
		"/status — your level and subscription\n" +
		"/stop — cancel your subscription\n" +
		"/help — this message"
}

func levelText(current int) string {
	var lines []string
	lines = append(lines, "🎚 <b>Choose your level</b>\n")
	for level := 1; level <= storage.MaxLevel; level++ {
		mark := ""
		if level == current {
			mark = " ✅"
		}
		lines = append(lines, fmt.Sprintf("%d — %s%s", level, levelNames[level], mark))
	}
	return strings.Join(lines, "\n")
}

func levelSetText(level int) string {
	return fmt.Sprintf("✅ Level set: <b>%d — %s</b>\n\nLessons from tomorrow will match it.", level, levelNames[level])
}

func statusText(level int, sub *storage.Subscription, pending int, latest string, loc *time.Location) string {
	levelLine := "Level: <b>not chosen</b>"
	if name, ok := levelNames[level]; ok {
		levelLine = fmt.Sprintf("Level: <b>%d — %s</b>", level, name)
	}

	subLine := "Subscription: <b>not active</b>"
	if sub != nil {
		subLine = fmt.Sprintf("Subscription: <b>active until %s</b>", formatDate(sub.ExpiresAt, loc))
	}

	text := fmt.Sprintf("👤 <b>Your profile</b>\n\n%s\n%s", levelLine, subLine)
	if pending > 0 {
		text += fmt.Sprintf("\nPayments awaiting check: <b>%d</b>", pending)
	}
	if latest != "" {
		text += fmt.Sprintf("\nLatest payment comment: <code>%s</code>", html.EscapeString(latest))
	}
	return text
}

func stopText(cancelled bool) string {
	if cancelled {
		return "🛑 Subscription cancelled. You will not receive daily lessons anymore."
	}
	return "You have no active subscription."
}

func invoiceText(inv invoice) string {
	return fmt.Sprintf(
		"💳 <b>Subscription: %d days ($%.2f)</b>\n\n"+
			"Pay <b>%s TON</b> or <b>%s %s</b> to:\n"+
			"<code>%s</code>\n\n"+
			"Comment (required):\n"+
			"<code>%s</code>\n\n"+
			"⚠️ <b>Important:</b> keep the comment exactly as shown, "+
			"otherwise the payment cannot be matched.\n\n"+
			"After paying press «I paid» 👇",
		inv.Days, inv.FeeUSD,
		inv.NativeTON, inv.TokenAmount, html.EscapeString(inv.TokenSymbol),
		inv.Wallet,
		inv.Reference,
	)
}

// outcomeText maps a reconciliation result to the single reply the user gets.
func outcomeText(res payment.Result, err error, loc *time.Location) string {
	if err != nil {
		if res.Outcome == payment.OutcomeConfirmed {
			return "⚠️ Your payment was found, but activating the subscription failed. " +
				"Press «I paid» again in a minute."
		}
		return "⚠️ The check was interrupted. Please press «I paid» again."
	}

	switch res.Outcome {
	case payment.OutcomeConfirmed:
		if !res.Created {
			return fmt.Sprintf("✅ This payment was already applied.\n\nSubscription active until <b>%s</b>.",
				formatDate(res.Expires, loc))
		}
		return fmt.Sprintf("✅ <b>Payment received!</b>\n\nSubscription active until <b>%s</b>.\n"+
			"Your first lesson is on its way.", formatDate(res.Expires, loc))
	case payment.OutcomeExhausted:
		return "🔍 <b>Payment not found yet.</b>\n\n" +
			"Transfers can take a minute to show up. Make sure you kept the comment, " +
			"then press «Check again»."
	case payment.OutcomeTransportError:
		return "⚠️ The payment service is unavailable right now. " +
			"Your payment is safe, please check again in a few minutes."
	case payment.OutcomeAlreadyChecking:
		return "⏳ Already checking your payment, please wait."
	case payment.OutcomeNoPendingPayment:
		return "❌ There is no payment to check. Press «Subscribe» first."
	default:
		return "⚠️ Something went wrong. Please try again."
	}
}

func formatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("02 Jan 2006")
}

func nanoTON(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
