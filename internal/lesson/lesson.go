// Package lesson generates and renders daily lessons.
package lesson

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Word is one entry of the word breakdown
type Word struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// Lesson is one generated content unit
type Lesson struct {
	Text        string `json:"text"`
	Translation string `json:"translation"`
	Words       []Word `json:"words"`
}

// Generator produces a lesson for a difficulty tier, avoiding the given sentences
type Generator interface {
	Generate(ctx context.Context, tier int, avoid []string) (Lesson, error)
}

var strict = bluemonday.StrictPolicy()

// clean strips any markup the generator produced and leaves plain text.
func clean(s string) string {
	// StrictPolicy escapes what it keeps; unescape so Render escapes exactly once.
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// Render formats a lesson as a Telegram HTML message.
func Render(l Lesson, tier int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📘 <b>Lesson of the day</b> · level %d\n\n", tier)
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(clean(l.Text)))
	if tr := clean(l.Translation); tr != "" {
		fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(tr))
	}

	if len(l.Words) > 0 {
		b.WriteString("\n🔤 <b>Words</b>\n")
		for _, w := range l.Words {
			word := clean(w.Word)
			if word == "" {
				continue
			}
			fmt.Fprintf(&b, "• <code>%s</code> — %s\n", html.EscapeString(word), html.EscapeString(clean(w.Meaning)))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
