package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🎚 Level", CallbackData: "levels"},
				{Text: "💳 Subscribe", CallbackData: "subscribe"},
			},
		},
	}
}

// LevelKeyboard returns one button per level, marking the current one
func LevelKeyboard(current int) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton
	for level := 1; level <= storage.MaxLevel; level++ {
		text := fmt.Sprintf("%d", level)
		if level == current {
			text = "✅ " + text
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         text,
			CallbackData: fmt.Sprintf("level:%d", level),
		})
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			row,
			{
				{Text: "⬅️ Back", CallbackData: "back"},
			},
		},
	}
}

// PaymentKeyboard returns wallet links for both rails and the "I paid" button
func PaymentKeyboard(inv invoice, links payment.Links) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: fmt.Sprintf("💎 Pay %s TON", inv.NativeTON), URL: links.Native},
			},
			{
				{Text: fmt.Sprintf("💵 Pay %s %s", inv.TokenAmount, inv.TokenSymbol), URL: links.Token},
			},
			{
				{Text: "✅ I paid", CallbackData: "paid"},
			},
			{
				{Text: "⬅️ Back", CallbackData: "back"},
			},
		},
	}
}

// RetryKeyboard returns keyboard for checking payment again
func RetryKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔄 Check again", CallbackData: "paid"},
			},
			{
				{Text: "⬅️ Main menu", CallbackData: "back"},
			},
		},
	}
}

// outcomeKeyboard picks the follow-up buttons for a reconciliation reply
func outcomeKeyboard(res payment.Result, err error) *models.InlineKeyboardMarkup {
	if err != nil {
		return RetryKeyboard()
	}
	switch res.Outcome {
	case payment.OutcomeExhausted, payment.OutcomeTransportError:
		return RetryKeyboard()
	case payment.OutcomeAlreadyChecking:
		return nil
	default:
		return MainKeyboard()
	}
}
