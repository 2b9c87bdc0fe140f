package payment

import "sync"

// DefaultLedgerDepth is how many attempts are kept per user.
const DefaultLedgerDepth = 3

// Ledger keeps the last few pending payment attempts per user, oldest first.
type Ledger struct {
	depth int

	mu      sync.Mutex
	entries map[int64][]PendingPayment
}

// NewLedger creates a ledger retaining at most depth attempts per user.
func NewLedger(depth int) *Ledger {
	if depth <= 0 {
		depth = DefaultLedgerDepth
	}
	return &Ledger{
		depth:   depth,
		entries: make(map[int64][]PendingPayment),
	}
}

// Record appends an attempt, evicting the oldest ones beyond the depth.
func (l *Ledger) Record(userID int64, p PendingPayment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := append(l.entries[userID], p)
	if over := len(seq) - l.depth; over > 0 {
		seq = append([]PendingPayment(nil), seq[over:]...)
	}
	l.entries[userID] = seq
}

// List returns a copy of the user's attempts, most recent last.
func (l *Ledger) List(userID int64) []PendingPayment {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.entries[userID]
	if len(seq) == 0 {
		return nil
	}
	out := make([]PendingPayment, len(seq))
	copy(out, seq)
	return out
}

// Latest returns the most recent attempt of the user.
func (l *Ledger) Latest(userID int64) (PendingPayment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.entries[userID]
	if len(seq) == 0 {
		return PendingPayment{}, false
	}
	return seq[len(seq)-1], true
}

// Clear drops every attempt of the user.
func (l *Ledger) Clear(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, userID)
}

// Len returns the number of users with outstanding attempts.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
