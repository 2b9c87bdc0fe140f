package tonapi

import (
	"context"
	"math/big"
	"time"

	"github.com/suspectuso/lesson-bot/internal/payment"
)

var _ payment.LedgerSource = (*Client)(nil)
var _ payment.RateSource = (*Client)(nil)

// RecentTransactions returns the latest finished events of an account in the shape the
// payment matcher needs. Jetton masters are reported in raw form.
func (c *Client) RecentTransactions(ctx context.Context, address string, limit int) ([]payment.Transaction, error) {
	events, err := c.GetEvents(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	txs := make([]payment.Transaction, 0, len(events))
	for _, ev := range events {
		if ev.InProgress {
			continue
		}
		txs = append(txs, ToTransaction(ev))
	}
	return txs, nil
}

// ToTransaction extracts transfer comments and jetton transfers of successful actions.
func ToTransaction(ev Event) payment.Transaction {
	tx := payment.Transaction{
		ID:        ev.EventID,
		Timestamp: time.Unix(ev.Timestamp, 0),
	}

	for _, action := range ev.Actions {
		if action.Status != "" && action.Status != "ok" {
			continue
		}

		switch {
		case action.Type == "TonTransfer" && action.TonTransfer != nil:
			if action.TonTransfer.Comment != "" {
				tx.Memos = append(tx.Memos, action.TonTransfer.Comment)
			}

		case action.Type == "JettonTransfer" && action.JettonTransfer != nil:
			jt := action.JettonTransfer
			amount, ok := new(big.Int).SetString(jt.Amount, 10)
			if !ok {
				continue
			}
			tx.TokenTransfers = append(tx.TokenTransfers, payment.TokenTransfer{
				Master:  NormalizeAddress(jt.Jetton.Address),
				Amount:  amount,
				Payload: jt.Comment,
			})
		}
	}

	return tx
}
