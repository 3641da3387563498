package models

// ExchangeName identifies the venue an account or strategy trades on.
// "simulator" routes through an in-memory exchange for backtesting.
type ExchangeName string

const (
	ExchangeSimulator ExchangeName = "simulator"
	ExchangeBinance   ExchangeName = "binance"
	ExchangeKucoin    ExchangeName = "kucoin"
	ExchangeOKX       ExchangeName = "okx"
	ExchangeBitget    ExchangeName = "bitget"
)

// StrategyParams are the tuning knobs shared by every strategy kind.
type StrategyParams struct {
	IsPercentInvestment bool    `json:"isPercentInvestment,omitempty"`
	Investment          float64 `json:"investment,omitempty"`
	// Leverage applies to futures only.
	Leverage float64 `json:"leverage,omitempty"`
}

// SimulatorDataSource feeds price data to a simulated run. Required whenever a
// strategy targets the simulator exchange.
type SimulatorDataSource struct {
	Source        string  `json:"source"`
	SourceType    string  `json:"sourceType"` // "price" | "kline"
	Period        float64 `json:"period,omitempty"`
	BaseQuantity  float64 `json:"baseQuantity,omitempty"`
	QuoteQuantity float64 `json:"quoteQuantity"`
}

// Strategy binds a controller implementation to a market and symbol on one
// exchange. Decision logic lives outside the core; the core only consumes the
// identity and market fields.
type Strategy struct {
	ID                  int                  `json:"id"`
	Controller          string               `json:"controller"`
	Description         string               `json:"description,omitempty"`
	Exchange            ExchangeName         `json:"exchange"`
	Market              MarketType           `json:"market"`
	Symbol              Symbol               `json:"symbol"`
	AutoStart           bool                 `json:"autoStart"`
	Params              StrategyParams       `json:"params"`
	SimulatorDataSource *SimulatorDataSource `json:"simulatorDataSource,omitempty"`
}

func (s *Strategy) IsSimulated() bool { return s.Exchange == ExchangeSimulator }
