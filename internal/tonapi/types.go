package tonapi

// Event represents a TonAPI event
type Event struct {
	EventID    string   `json:"event_id"`
	Timestamp  int64    `json:"timestamp"`
	Actions    []Action `json:"actions"`
	IsScam     bool     `json:"is_scam"`
	InProgress bool     `json:"in_progress"`
}

// Action represents an action within an event
type Action struct {
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	TonTransfer    *TonTransfer    `json:"TonTransfer,omitempty"`
	JettonTransfer *JettonTransfer `json:"JettonTransfer,omitempty"`
}

// TonTransfer represents a TON transfer action
type TonTransfer struct {
	Sender    Account `json:"sender"`
	Recipient Account `json:"recipient"`
	Amount    int64   `json:"amount"` // in nanoTON
	Comment   string  `json:"comment,omitempty"`
}

// JettonTransfer represents a jetton transfer action
type JettonTransfer struct {
	Sender           *Account   `json:"sender,omitempty"`
	Recipient        *Account   `json:"recipient,omitempty"`
	SendersWallet    string     `json:"senders_wallet"`
	RecipientsWallet string     `json:"recipients_wallet"`
	Amount           string     `json:"amount"` // in jetton base units
	Comment          string     `json:"comment,omitempty"`
	Jetton           JettonInfo `json:"jetton"`
}

// JettonInfo contains jetton metadata
type JettonInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Image    string `json:"image,omitempty"`
}

// Account represents an account/wallet
type Account struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	IsScam   bool   `json:"is_scam,omitempty"`
	IsWallet bool   `json:"is_wallet,omitempty"`
}

// AccountInfo contains account information
type AccountInfo struct {
	Address string `json:"address"` // raw format
	Balance int64  `json:"balance"`
	Status  string `json:"status"`
}

// EventsResponse is the response from events endpoint
type EventsResponse struct {
	Events []Event `json:"events"`
}

// TokenRates holds the prices of one token
type TokenRates struct {
	Prices map[string]float64 `json:"prices"`
}

// RatesResponse is the response from rates endpoint
type RatesResponse struct {
	Rates map[string]TokenRates `json:"rates"`
}
