package models

import "sync"

// APICredentials authenticate an account against one exchange.
type APICredentials struct {
	APIKey        string `json:"apiKey" mapstructure:"api_key"`
	APISecret     string `json:"apiSecret" mapstructure:"api_secret"`
	APIPassphrase string `json:"apiPassphrase,omitempty" mapstructure:"api_passphrase"`
}

// UserInfo is the identity record behind an account.
type UserInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Folder string `json:"folder,omitempty"`
}

// AccountMarket is the per (account, market) shared state: the balance and
// order mirror of exchange truth plus the executor that serializes outbound
// order operations. Every controller trading the same account and market reads
// and writes this single copy, concurrently with the exchange's task and
// stream handlers, so every access to Balances, Orders or AveragePrices, and
// every field write on the Balance and Order values they hold, runs between
// Lock and Unlock.
type AccountMarket struct {
	mu sync.Mutex

	Balances BalanceSet `json:"balances"`
	// Orders mirrors the orders known to the exchange. Entries are appended on
	// submit or fetch; pruning terminal orders is outside this core.
	Orders []*Order `json:"orders"`
	// Executor is attached once by the account orchestrator before any
	// controller for the market exists and never reassigned.
	Executor TaskDoer `json:"-"`
	// AveragePrices keeps the futures average entry price per symbol key.
	AveragePrices map[string]float64 `json:"averagePrices"`
}

// Lock acquires the market mutex. Controllers holding their own mutex may take
// it; nothing takes a controller or exchange mutex while holding it.
func (am *AccountMarket) Lock() { am.mu.Lock() }

// Unlock releases the market mutex.
func (am *AccountMarket) Unlock() { am.mu.Unlock() }

// FindOrder returns the mirrored order with the given id, or nil. Requires the
// market lock held.
func (am *AccountMarket) FindOrder(id string) *Order {
	for _, o := range am.Orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Account holds the data shared between the exchange, the executors and the
// controllers of one user: credentials per exchange and the market mirrors.
// Orchestration (loading strategies, starting controllers) lives in the
// account package.
type Account struct {
	User      UserInfo                        `json:"user"`
	Exchanges map[ExchangeName]APICredentials `json:"-"`

	mu      sync.Mutex
	Markets map[MarketType]*AccountMarket `json:"markets"`
}

func NewAccount(user UserInfo) *Account {
	return &Account{
		User:      user,
		Exchanges: make(map[ExchangeName]APICredentials),
		Markets:   make(map[MarketType]*AccountMarket),
	}
}

// Market returns the mirror for a market, creating an empty one on first use.
// The executor is attached by the account orchestrator when the first strategy
// for the market starts.
func (a *Account) Market(market MarketType) *AccountMarket {
	a.mu.Lock()
	defer a.mu.Unlock()
	am, ok := a.Markets[market]
	if !ok {
		am = &AccountMarket{
			Balances:      make(BalanceSet),
			AveragePrices: make(map[string]float64),
		}
		a.Markets[market] = am
	}
	return am
}
