package models

// Balance tracks one asset inside an account market, a controller or an
// instance. The spot invariant balance = available + locked holds at every
// quiescent point. Remainder accumulates quantity lost to precision flooring
// and is never silently discarded.
type Balance struct {
	Asset     string  `json:"asset"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Remainder float64 `json:"remainder"`
	// Fee accumulates commissions paid in this asset.
	Fee float64 `json:"fee"`
}

func NewBalance(asset string) *Balance {
	return &Balance{Asset: asset}
}

// BalanceSet keys balances by asset. A zeroed pair is created per controller
// and per instance; the account market set grows as assets appear.
type BalanceSet map[string]*Balance

func NewBalanceSet(assets ...string) BalanceSet {
	set := make(BalanceSet, len(assets))
	for _, asset := range assets {
		set[asset] = NewBalance(asset)
	}
	return set
}

// Get returns the balance for an asset, creating a zeroed entry on first use.
func (bs BalanceSet) Get(asset string) *Balance {
	b, ok := bs[asset]
	if !ok {
		b = NewBalance(asset)
		bs[asset] = b
	}
	return b
}
