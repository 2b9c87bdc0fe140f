package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Outcome is the terminal state of one reconciliation request.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota + 1
	OutcomeExhausted
	OutcomeTransportError
	OutcomeAlreadyChecking
	OutcomeNoPendingPayment
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeAlreadyChecking:
		return "already_checking"
	case OutcomeNoPendingPayment:
		return "no_pending_payment"
	default:
		return "unknown"
	}
}

// Result describes how a reconciliation ended.
type Result struct {
	Outcome  Outcome
	Attempts int
	Match    Match
	// Expires is the subscription expiry after a confirmation.
	Expires time.Time
	// Created is false when the reference had already been confirmed before.
	Created bool
}

// ReconcilerConfig holds the polling parameters.
type ReconcilerConfig struct {
	ServiceWallet    string
	PageSize         int
	MaxAttempts      int
	Delay            time.Duration
	SubscriptionDays int
}

// Reconciler runs the bounded polling loop for one user at a time.
type Reconciler struct {
	cfg     ReconcilerConfig
	ledger  *Ledger
	source  LedgerSource
	store   SubscriptionStore
	matcher Matcher
	log     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig, ledger *Ledger, source LedgerSource, store SubscriptionStore, matcher Matcher, log *slog.Logger) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &Reconciler{
		cfg:      cfg,
		ledger:   ledger,
		source:   source,
		store:    store,
		matcher:  matcher,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
		inflight: make(map[int64]struct{}),
	}
}

// Reconcile polls the ledger for any of the user's pending references.
//
// Transport failures never surface as errors; they count as failed attempts and end
// in OutcomeTransportError when the last attempt fails. A non-nil error means the
// store refused the confirmation, or ctx was cancelled while waiting.
func (r *Reconciler) Reconcile(ctx context.Context, userID int64) (Result, error) {
	if !r.acquire(userID) {
		return Result{Outcome: OutcomeAlreadyChecking}, nil
	}
	defer r.release(userID)

	if len(r.ledger.List(userID)) == 0 {
		return Result{Outcome: OutcomeNoPendingPayment}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		// Re-read every attempt: a newer subscribe tap may have been recorded meanwhile.
		pending := r.ledger.List(userID)

		txs, err := r.source.RecentTransactions(ctx, r.cfg.ServiceWallet, r.cfg.PageSize)
		if err != nil {
			lastErr = err
			r.log.Warn("fetch ledger transactions",
				"user_id", userID,
				"attempt", attempt,
				"error", err,
			)
		} else if m, ok := r.matcher.Match(pending, txs); ok {
			return r.confirm(ctx, userID, m, attempt)
		} else {
			lastErr = nil
			r.log.Debug("payment not found yet",
				"user_id", userID,
				"attempt", attempt,
				"pending", len(pending),
				"transactions", len(txs),
			)
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.cfg.Delay); err != nil {
			return Result{Outcome: OutcomeTransportError, Attempts: attempt}, err
		}
	}

	if lastErr != nil {
		return Result{Outcome: OutcomeTransportError, Attempts: r.cfg.MaxAttempts}, nil
	}
	return Result{Outcome: OutcomeExhausted, Attempts: r.cfg.MaxAttempts}, nil
}

// confirm persists the subscription and drops the user's pending attempts. The
// reference is the idempotency key, so confirming it twice never adds a second
// subscription and reports Created only the first time.
func (r *Reconciler) confirm(ctx context.Context, userID int64, m Match, attempt int) (Result, error) {
	res := Result{Outcome: OutcomeConfirmed, Attempts: attempt, Match: m}

	expires, created, err := r.store.CreateSubscription(ctx, userID, m.Payment.Reference, r.cfg.SubscriptionDays, r.now())
	if err != nil {
		return res, fmt.Errorf("create subscription: %w", err)
	}
	r.ledger.Clear(userID)

	res.Expires = expires
	res.Created = created

	r.log.Info("payment confirmed",
		"user_id", userID,
		"reference", m.Payment.Reference,
		"rail", m.Rail,
		"tx", m.Transaction,
		"attempt", attempt,
		"created", created,
		"expires_at", expires,
		"users_pending", r.ledger.Len(),
	)

	return res, nil
}

func (r *Reconciler) acquire(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[userID]; busy {
		return false
	}
	r.inflight[userID] = struct{}{}
	return true
}

func (r *Reconciler) release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, userID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
