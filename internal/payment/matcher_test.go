package payment

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdtMaster = "0:b113a994b5024a16719f69139328eb759596c38a25f59028b146fecdc3621dfe"

func tokenPending(ref string, amount int64) PendingPayment {
	return PendingPayment{Reference: ref, ExpectedToken: big.NewInt(amount)}
}

func TestMatcher_NativeExactMemo(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}
	txs := []Transaction{{ID: "tx1", Memos: []string{"lesson-1-100"}}}

	got, ok := m.Match([]PendingPayment{pending("lesson-1-100")}, txs)

	require.True(t, ok)
	assert.Equal(t, RailNative, got.Rail)
	assert.Equal(t, "tx1", got.Transaction)
	assert.Equal(t, "lesson-1-100", got.Payment.Reference)
}

func TestMatcher_NativeMemoWithExtraText(t *testing.T) {
	m := Matcher{}
	txs := []Transaction{{ID: "tx1", Memos: []string{"payment: lesson-1-100 thanks"}}}

	got, ok := m.Match([]PendingPayment{pending("lesson-1-100")}, txs)

	require.True(t, ok)
	assert.Equal(t, RailNative, got.Rail)
}

func TestMatcher_NativeIgnoresQuotedAmount(t *testing.T) {
	m := Matcher{}
	p := PendingPayment{Reference: "lesson-1-100", ExpectedNative: 500_000_000}
	txs := []Transaction{{ID: "tx1", Memos: []string{"lesson-1-100"}}}

	got, ok := m.Match([]PendingPayment{p}, txs)

	require.True(t, ok)
	assert.Equal(t, RailNative, got.Rail)
	assert.Equal(t, uint64(500_000_000), got.Payment.ExpectedNative)
}

func TestMatcher_NoMatch(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}
	txs := []Transaction{
		{ID: "tx1", Memos: []string{"hello"}},
		{ID: "tx2", TokenTransfers: []TokenTransfer{{Master: usdtMaster, Amount: big.NewInt(5_000_000), Payload: "other"}}},
	}

	_, ok := m.Match([]PendingPayment{tokenPending("lesson-1-100", 1_000_000)}, txs)

	assert.False(t, ok)
}

func TestMatcher_EmptyInputs(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}

	_, ok := m.Match(nil, []Transaction{{ID: "tx", Memos: []string{"x"}}})
	assert.False(t, ok)

	_, ok = m.Match([]PendingPayment{pending("lesson-1-100")}, nil)
	assert.False(t, ok)
}

func TestMatcher_TokenRail(t *testing.T) {
	tests := []struct {
		name string
		tr   TokenTransfer
		want bool
	}{
		{"exact amount", TokenTransfer{Master: usdtMaster, Amount: big.NewInt(1_000_000), Payload: "lesson-1-100"}, true},
		{"overpaid", TokenTransfer{Master: usdtMaster, Amount: big.NewInt(2_000_000), Payload: "lesson-1-100"}, true},
		{"payload contains reference", TokenTransfer{Master: usdtMaster, Amount: big.NewInt(1_000_000), Payload: "ref lesson-1-100"}, true},
		{"master case differs", TokenTransfer{Master: "0:B113A994B5024A16719F69139328EB759596C38A25F59028B146FECDC3621DFE", Amount: big.NewInt(1_000_000), Payload: "lesson-1-100"}, true},
		{"underpaid", TokenTransfer{Master: usdtMaster, Amount: big.NewInt(999_999), Payload: "lesson-1-100"}, false},
		{"other jetton", TokenTransfer{Master: "0:deadbeef", Amount: big.NewInt(1_000_000), Payload: "lesson-1-100"}, false},
		{"missing amount", TokenTransfer{Master: usdtMaster, Payload: "lesson-1-100"}, false},
		{"wrong payload", TokenTransfer{Master: usdtMaster, Amount: big.NewInt(1_000_000), Payload: "lesson-2-100"}, false},
	}

	m := Matcher{TokenMaster: usdtMaster}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := []Transaction{{ID: "tx", TokenTransfers: []TokenTransfer{tt.tr}}}
			got, ok := m.Match([]PendingPayment{tokenPending("lesson-1-100", 1_000_000)}, txs)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, RailToken, got.Rail)
			}
		})
	}
}

func TestMatcher_TokenRailDisabledWithoutMaster(t *testing.T) {
	m := Matcher{}
	txs := []Transaction{{ID: "tx", TokenTransfers: []TokenTransfer{{Master: usdtMaster, Amount: big.NewInt(1_000_000), Payload: "lesson-1-100"}}}}

	_, ok := m.Match([]PendingPayment{tokenPending("lesson-1-100", 1_000_000)}, txs)

	assert.False(t, ok)
}

func TestMatcher_NativePreferredOverToken(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}
	txs := []Transaction{
		{ID: "token", TokenTransfers: []TokenTransfer{{Master: usdtMaster, Amount: big.NewInt(1_000_000), Payload: "lesson-1-100"}}},
		{ID: "native", Memos: []string{"lesson-1-100"}},
	}

	got, ok := m.Match([]PendingPayment{tokenPending("lesson-1-100", 1_000_000)}, txs)

	require.True(t, ok)
	assert.Equal(t, RailNative, got.Rail)
	assert.Equal(t, "native", got.Transaction)
}

func TestMatcher_OlderReferenceStillMatches(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}
	older, newer := pending("lesson-1-100"), pending("lesson-1-200")
	txs := []Transaction{{ID: "tx", Memos: []string{"lesson-1-100"}}}

	got, ok := m.Match([]PendingPayment{older, newer}, txs)

	require.True(t, ok)
	assert.Equal(t, "lesson-1-100", got.Payment.Reference)
}

func TestMatcher_NewestWinsOnTie(t *testing.T) {
	m := Matcher{TokenMaster: usdtMaster}
	older, newer := pending("lesson-1-100"), pending("lesson-1-200")
	txs := []Transaction{
		{ID: "a", Memos: []string{"lesson-1-100"}},
		{ID: "b", Memos: []string{"lesson-1-200"}},
	}

	got, ok := m.Match([]PendingPayment{older, newer}, txs)

	require.True(t, ok)
	assert.Equal(t, "lesson-1-200", got.Payment.Reference)
	assert.Equal(t, "b", got.Transaction)
}
