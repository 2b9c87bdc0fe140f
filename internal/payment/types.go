// Package payment reconciles off-band subscription payments against the TON ledger.
//
// A subscribe request records a PendingPayment carrying a unique reference in the
// per-user Ledger. When the user reports the transfer, the Reconciler polls recent
// transactions of the service wallet a bounded number of times and asks the Matcher
// whether any retained reference shows up on either rail.
package payment

import (
	"context"
	"math/big"
	"time"
)

// Rail is a payment method checked independently by the Matcher.
type Rail string

const (
	RailNative Rail = "native"
	RailToken  Rail = "token"
)

// PendingPayment is one outstanding subscription attempt of a user.
type PendingPayment struct {
	Reference      string
	ExpectedNative uint64   // nanoTON
	ExpectedToken  *big.Int // token base units
	CreatedAt      time.Time
}

// Transaction is the part of a ledger transaction the Matcher looks at.
type Transaction struct {
	ID        string
	Timestamp time.Time
	// Memos holds the text comments of the inbound and outbound messages.
	Memos          []string
	TokenTransfers []TokenTransfer
}

// TokenTransfer is a jetton transfer notification carried by a transaction.
type TokenTransfer struct {
	Master  string // jetton master address, any format
	Amount  *big.Int
	Payload string // forwarded text payload
}

// Match is a pending payment found on the ledger.
type Match struct {
	Payment     PendingPayment
	Rail        Rail
	Transaction string
}

// LedgerSource fetches recent transactions of an account.
type LedgerSource interface {
	RecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
}

// SubscriptionStore persists confirmed subscriptions. The reference is the
// idempotency key: a reference already stored returns created=false.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, userID int64, reference string, days int, now time.Time) (expires time.Time, created bool, err error)
}

// Activator is notified once per newly created subscription.
type Activator interface {
	Activate(ctx context.Context, userID int64) error
}
