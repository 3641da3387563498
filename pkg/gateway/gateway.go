// Package gateway defines the narrow contracts the execution core consumes
// from exchange adapters. Concrete adapters (REST signing, wire parsing,
// websocket framing per venue) live outside the core and register themselves
// in the Registry.
package gateway

import (
	"context"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/models"
)

// ExchangeInfo is the venue-wide metadata fetched at startup and on refresh.
type ExchangeInfo struct {
	Symbols []models.MarketSymbol
	Limits  []models.Limit
}

// AccountSnapshot is the result of an account-info fetch.
type AccountSnapshot struct {
	CanTrade  bool
	Balances  []*models.Balance
	Positions []models.StreamPosition
}

type GetOrderRequest struct {
	Symbol models.Symbol
	// ID is the composite client order id.
	ID         string
	ExchangeID string
	Type       models.OrderType
}

type PostOrderRequest struct {
	ID            string
	Side          models.OrderSide
	Type          models.OrderType
	Symbol        models.Symbol
	BaseQuantity  float64
	QuoteQuantity float64
	Price         float64
	StopPrice     float64
	ClosePosition bool
}

type CancelOrderRequest struct {
	Symbol     models.Symbol
	ID         string
	ExchangeID string
	Type       models.OrderType
}

type KlinesRequest struct {
	Symbol   models.Symbol
	Interval models.KlineInterval
	Limit    int
}

// ExchangeAPI is the REST surface of one venue and market. Calls may fail with
// transient errors; the core treats those as "not ready yet" rather than
// crashing (see exchange.Exchange).
type ExchangeAPI interface {
	SetCredentials(creds models.APICredentials)

	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
	GetMarketSymbol(ctx context.Context, symbol models.Symbol) (*models.MarketSymbol, error)
	GetPriceTicker(ctx context.Context, symbol models.Symbol) (*models.MarketPrice, error)
	GetKlines(ctx context.Context, req KlinesRequest) ([]models.MarketKline, error)

	GetAccountInfo(ctx context.Context) (*AccountSnapshot, error)

	GetOrder(ctx context.Context, req GetOrderRequest) (*models.Order, error)
	PostOrder(ctx context.Context, req PostOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) (*models.Order, error)
}

// ExchangeStream is a long-lived websocket session exposing broadcast
// channels, not one-shot calls. Market streams serve price/kline tickers;
// account streams serve balance and order updates.
type ExchangeStream interface {
	Connect(ctx context.Context) error
	Close() error

	AccountUpdate() *events.Stream[models.AccountStreamUpdate]
	OrderUpdate() *events.Stream[*models.Order]
	PriceTicker(symbol models.Symbol) *events.Stream[models.MarketPrice]
	KlineTicker(symbol models.Symbol, interval models.KlineInterval) *events.Stream[models.MarketKline]
}

// Gateway bundles the API and stream factories of one venue.
type Gateway interface {
	Name() models.ExchangeName
	API(market models.MarketType) ExchangeAPI
	MarketStream(market models.MarketType) ExchangeStream
	AccountStream(market models.MarketType, creds models.APICredentials) ExchangeStream
}
