package models

// AccountEventType discriminates the events published on an account channel.
type AccountEventType string

const (
	AccountEventReady  AccountEventType = "accountReady"
	AccountEventUpdate AccountEventType = "accountUpdate"
)

// AccountEvent is published on the per-account channel: a readiness signal
// after the initial account fetch, then balance updates as they stream in.
type AccountEvent struct {
	Type     AccountEventType `json:"type"`
	Ready    bool             `json:"ready,omitempty"`
	Market   MarketType       `json:"market,omitempty"`
	Balances []*Balance       `json:"balances,omitempty"`
}

// StreamBalance is the raw per-asset update arriving on an account websocket.
// Some exchanges omit the locked component; consumers must tolerate that.
type StreamBalance struct {
	Asset     string   `json:"asset"`
	Balance   *float64 `json:"balance,omitempty"`
	Available *float64 `json:"available,omitempty"`
	Locked    *float64 `json:"locked,omitempty"`
}

// StreamPosition is the raw futures position update on an account websocket.
type StreamPosition struct {
	Symbol     Symbol  `json:"symbol"`
	EntryPrice float64 `json:"entryPrice"`
	Amount     float64 `json:"amount"`
}

// AccountStreamUpdate is the normalized payload of an account websocket event
// before it is folded into the account market balances.
type AccountStreamUpdate struct {
	Balances  []StreamBalance  `json:"balances,omitempty"`
	Positions []StreamPosition `json:"positions,omitempty"`
}
