package payment

import "strings"

// Matcher looks for pending references in a batch of ledger transactions.
//
// A reference matches when it equals or is contained in a memo. Containment is
// deliberate: some wallets prepend their own text to the comment. References carry
// a nanosecond timestamp, so one reference is never a substring of another.
type Matcher struct {
	// TokenMaster is the accepted jetton master in the same address form the
	// LedgerSource reports (raw 0:... for TonAPI).
	TokenMaster string
}

// Match checks pending payments newest first and returns the first one found on
// either rail. The native rail is tried before the token rail for each payment.
func (m Matcher) Match(pending []PendingPayment, txs []Transaction) (Match, bool) {
	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		if p.Reference == "" {
			continue
		}
		if id, ok := m.matchNative(p, txs); ok {
			return Match{Payment: p, Rail: RailNative, Transaction: id}, true
		}
		if id, ok := m.matchToken(p, txs); ok {
			return Match{Payment: p, Rail: RailToken, Transaction: id}, true
		}
	}
	return Match{}, false
}

// matchNative accepts a memo match whatever TON amount came with it; ExpectedNative
// is only the quoted price.
func (m Matcher) matchNative(p PendingPayment, txs []Transaction) (string, bool) {
	for _, tx := range txs {
		for _, memo := range tx.Memos {
			if containsReference(memo, p.Reference) {
				return tx.ID, true
			}
		}
	}
	return "", false
}

func (m Matcher) matchToken(p PendingPayment, txs []Transaction) (string, bool) {
	if m.TokenMaster == "" {
		return "", false
	}
	for _, tx := range txs {
		for _, tr := range tx.TokenTransfers {
			if !strings.EqualFold(tr.Master, m.TokenMaster) {
				continue
			}
			if tr.Amount == nil {
				continue
			}
			if p.ExpectedToken != nil && tr.Amount.Cmp(p.ExpectedToken) < 0 {
				continue
			}
			if containsReference(tr.Payload, p.Reference) {
				return tx.ID, true
			}
		}
	}
	return "", false
}

func containsReference(text, reference string) bool {
	return text != "" && strings.Contains(text, reference)
}
