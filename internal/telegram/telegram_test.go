package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/lesson-bot/internal/config"
	"github.com/suspectuso/lesson-bot/internal/dedup"
	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

func newGuardBot() *Bot {
	return &Bot{
		deps: &Deps{Dedup: dedup.NewMemory(time.Hour, 100)},
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestGuard_RunsOncePerKey(t *testing.T) {
	b := newGuardBot()
	ctx := context.Background()
	key := dedup.CallbackKey("cb-1", "paid")

	calls := 0
	handler := func() error {
		calls++
		return nil
	}

	b.guard(ctx, key, handler)
	b.guard(ctx, key, handler)

	assert.Equal(t, 1, calls)
}

func TestGuard_RollsBackOnError(t *testing.T) {
	b := newGuardBot()
	ctx := context.Background()
	key := dedup.MessageKey(10, 42)

	calls := 0
	failing := func() error {
		calls++
		return errors.New("database is locked")
	}
	ok := func() error {
		calls++
		return nil
	}

	b.guard(ctx, key, failing)
	b.guard(ctx, key, ok)
	b.guard(ctx, key, ok)

	assert.Equal(t, 2, calls)
}

func TestOutcomeText_DistinctPerOutcome(t *testing.T) {
	expires := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	results := []payment.Result{
		{Outcome: payment.OutcomeConfirmed, Created: true, Expires: expires},
		{Outcome: payment.OutcomeConfirmed, Created: false, Expires: expires},
		{Outcome: payment.OutcomeExhausted},
		{Outcome: payment.OutcomeTransportError},
		{Outcome: payment.OutcomeAlreadyChecking},
		{Outcome: payment.OutcomeNoPendingPayment},
	}

	seen := make(map[string]bool)
	for _, res := range results {
		text := outcomeText(res, nil, time.UTC)
		require.NotEmpty(t, text)
		assert.False(t, seen[text], "duplicate text for %s", res.Outcome)
		seen[text] = true
	}

	assert.Contains(t, outcomeText(results[0], nil, time.UTC), "09 Apr 2024")
	assert.Contains(t, outcomeText(results[0], nil, time.UTC), "first lesson")
}

func TestOutcomeText_Errors(t *testing.T) {
	storeErr := errors.New("create subscription: disk I/O error")

	confirmed := outcomeText(payment.Result{Outcome: payment.OutcomeConfirmed}, storeErr, time.UTC)
	assert.Contains(t, confirmed, "activating the subscription failed")

	cancelled := outcomeText(payment.Result{Outcome: payment.OutcomeTransportError}, context.Canceled, time.UTC)
	assert.Contains(t, cancelled, "interrupted")
}

func TestOutcomeKeyboard(t *testing.T) {
	assert.Equal(t, RetryKeyboard(), outcomeKeyboard(payment.Result{Outcome: payment.OutcomeExhausted}, nil))
	assert.Equal(t, RetryKeyboard(), outcomeKeyboard(payment.Result{Outcome: payment.OutcomeTransportError}, nil))
	assert.Equal(t, RetryKeyboard(), outcomeKeyboard(payment.Result{Outcome: payment.OutcomeConfirmed}, errors.New("boom")))
	assert.Nil(t, outcomeKeyboard(payment.Result{Outcome: payment.OutcomeAlreadyChecking}, nil))
	assert.Equal(t, MainKeyboard(), outcomeKeyboard(payment.Result{Outcome: payment.OutcomeConfirmed, Created: true}, nil))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		data    string
		want    int
		wantErr bool
	}{
		{data: "level:1", want: 1},
		{data: "level:5", want: 5},
		{data: "level:0", wantErr: true},
		{data: "level:6", wantErr: true},
		{data: "level:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, err := parseLevel(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelKeyboard(t *testing.T) {
	kb := LevelKeyboard(3)

	require.Len(t, kb.InlineKeyboard, 2)
	row := kb.InlineKeyboard[0]
	require.Len(t, row, storage.MaxLevel)
	assert.Equal(t, "level:1", row[0].CallbackData)
	assert.Equal(t, "✅ 3", row[2].Text)
	assert.Equal(t, "back", kb.InlineKeyboard[1][0].CallbackData)
}

func TestPaymentKeyboard(t *testing.T) {
	inv := invoice{NativeTON: "0.5", TokenAmount: "1.5", TokenSymbol: "USDT"}
	links := payment.PaymentLinks("UQservice", "EQmaster", "lesson-1-100", payment.Quote{Native: 500_000_000})

	kb := PaymentKeyboard(inv, links)

	require.Len(t, kb.InlineKeyboard, 4)
	assert.Equal(t, "💎 Pay 0.5 TON", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "💵 Pay 1.5 USDT", kb.InlineKeyboard[1][0].Text)
	assert.Equal(t, "paid", kb.InlineKeyboard[2][0].CallbackData)

	u, err := url.Parse(kb.InlineKeyboard[0][0].URL)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "lesson-1-100", u.Query().Get("text"))
}

func TestInvoiceText(t *testing.T) {
	text := invoiceText(invoice{
		Days:        30,
		FeeUSD:      1,
		NativeTON:   "0.333333334",
		TokenAmount: "1",
		TokenSymbol: "USDT",
		Wallet:      "UQservice",
		Reference:   "lesson-42-1700000000123456789",
	})

	assert.Contains(t, text, "30 days ($1.00)")
	assert.Contains(t, text, "<b>0.333333334 TON</b>")
	assert.Contains(t, text, "<b>1 USDT</b>")
	assert.Contains(t, text, "<code>lesson-42-1700000000123456789</code>")
}

func TestStatusText(t *testing.T) {
	sub := &storage.Subscription{ExpiresAt: time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)}

	active := statusText(2, sub, 1, "lesson-7-1700000000123456789", time.UTC)
	assert.Contains(t, active, "2 — Elementary")
	assert.Contains(t, active, "active until 09 Apr 2024")
	assert.Contains(t, active, "awaiting check: <b>1</b>")
	assert.Contains(t, active, "<code>lesson-7-1700000000123456789</code>")

	inactive := statusText(0, nil, 0, "", time.UTC)
	assert.Contains(t, inactive, "not chosen")
	assert.Contains(t, inactive, "not active")
	assert.NotContains(t, inactive, "awaiting")
	assert.NotContains(t, inactive, "Latest payment")
}

func TestStartText_EscapesName(t *testing.T) {
	text := startText("<Anna>", "German", 30, 1)

	assert.Contains(t, text, "&lt;Anna&gt;")
	assert.Contains(t, text, "<b>German</b>")
	assert.Contains(t, text, "<b>30 days</b>")
}

// paidLog records replies and activations in the order they happen.
type paidLog struct {
	mu      sync.Mutex
	events  []string
	sent    []*bot.SendMessageParams
	edits   int
	sendErr error
	actErr  error
}

func (l *paidLog) add(event string) {
	l.events = append(l.events, event)
}

func (l *paidLog) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add("send")
	l.sent = append(l.sent, params)
	if l.sendErr != nil {
		return nil, l.sendErr
	}
	return &models.Message{ID: len(l.sent)}, nil
}

func (l *paidLog) EditMessageText(_ context.Context, _ *bot.EditMessageTextParams) (*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edits++
	return &models.Message{}, nil
}

func (l *paidLog) Activate(_ context.Context, _ int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add("activate")
	return l.actErr
}

type fakeReconciler struct {
	res payment.Result
	err error
}

func (f fakeReconciler) Reconcile(context.Context, int64) (payment.Result, error) {
	return f.res, f.err
}

func newPaidBot(res payment.Result, err error) (*Bot, *paidLog) {
	log := &paidLog{}
	return &Bot{
		api: log,
		cfg: &config.Config{},
		loc: time.UTC,
		deps: &Deps{
			Reconciler: fakeReconciler{res: res, err: err},
			Activator:  log,
			Dedup:      dedup.NewMemory(time.Hour, 100),
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, log
}

func paidCallback() *models.CallbackQuery {
	return &models.CallbackQuery{
		ID:   "cb-paid",
		Data: "paid",
		From: models.User{ID: 42},
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 7, Chat: models.Chat{ID: 4200}},
		},
	}
}

func TestHandlePaid_OneMessagePerOutcome(t *testing.T) {
	expires := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	storeErr := errors.New("create subscription: database is locked")

	tests := []struct {
		name      string
		res       payment.Result
		err       error
		wantErr   bool
		activated bool
	}{
		{name: "confirmed new", res: payment.Result{Outcome: payment.OutcomeConfirmed, Created: true, Expires: expires}, activated: true},
		{name: "confirmed again", res: payment.Result{Outcome: payment.OutcomeConfirmed, Expires: expires}},
		{name: "exhausted", res: payment.Result{Outcome: payment.OutcomeExhausted, Attempts: 3}},
		{name: "transport error", res: payment.Result{Outcome: payment.OutcomeTransportError, Attempts: 3}},
		{name: "already checking", res: payment.Result{Outcome: payment.OutcomeAlreadyChecking}},
		{name: "no pending payment", res: payment.Result{Outcome: payment.OutcomeNoPendingPayment}},
		{name: "store error", res: payment.Result{Outcome: payment.OutcomeConfirmed, Attempts: 1}, err: storeErr, wantErr: true},
		{name: "cancelled", res: payment.Result{Outcome: payment.OutcomeTransportError, Attempts: 1}, err: context.Canceled, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, log := newPaidBot(tt.res, tt.err)

			err := b.handlePaid(context.Background(), paidCallback())

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			require.Len(t, log.sent, 1)
			assert.Equal(t, int64(4200), log.sent[0].ChatID)
			assert.Equal(t, outcomeText(tt.res, tt.err, time.UTC), log.sent[0].Text)
			assert.Equal(t, 1, log.edits)

			if tt.activated {
				assert.Equal(t, []string{"send", "activate"}, log.events)
			} else {
				assert.Equal(t, []string{"send"}, log.events)
			}
		})
	}
}

func TestHandlePaid_ActivationFailureKeepsReply(t *testing.T) {
	b, log := newPaidBot(payment.Result{Outcome: payment.OutcomeConfirmed, Created: true}, nil)
	log.actErr = errors.New("generate lesson: model overloaded")

	err := b.handlePaid(context.Background(), paidCallback())

	require.NoError(t, err)
	assert.Equal(t, []string{"send", "activate"}, log.events)
}

func TestHandlePaid_SendFailureIsReturned(t *testing.T) {
	b, log := newPaidBot(payment.Result{Outcome: payment.OutcomeExhausted}, nil)
	log.sendErr = errors.New("Too Many Requests: retry after 3")

	err := b.handlePaid(context.Background(), paidCallback())

	assert.Error(t, err)
	assert.Len(t, log.sent, 1)
}

func TestHandleStatus_ShowsLatestReference(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := payment.NewLedger(payment.DefaultLedgerDepth)
	ledger.Record(42, payment.PendingPayment{Reference: "lesson-42-1"})
	ledger.Record(42, payment.PendingPayment{Reference: "lesson-42-2"})

	log := &paidLog{}
	b := &Bot{
		api:  log,
		cfg:  &config.Config{},
		loc:  time.UTC,
		deps: &Deps{Store: store, Ledger: ledger},
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	msg := &models.Message{ID: 1, Text: "/status", From: &models.User{ID: 42}, Chat: models.Chat{ID: 4200}}
	require.NoError(t, b.handleStatus(context.Background(), msg))

	require.Len(t, log.sent, 1)
	assert.Contains(t, log.sent[0].Text, "awaiting check: <b>2</b>")
	assert.Contains(t, log.sent[0].Text, "<code>lesson-42-2</code>")
}
