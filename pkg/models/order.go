package models

import (
	"time"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket        OrderType = "market"
	OrderTypeLimit         OrderType = "limit"
	OrderTypeStop          OrderType = "stop"
	OrderTypeStopLossLimit OrderType = "stop_loss_limit"
	OrderTypeStopMarket    OrderType = "stop_market"
	OrderTypeOCO           OrderType = "oco"
)

// OrderStatus covers both the pre-submission statuses set locally before the
// exchange has seen the order (post, cancel) and the statuses reported back by
// the exchange. "unsatisfied" is synthesized locally for orders that partially
// filled and then stalled past the partial-fill timeout.
type OrderStatus string

const (
	// Pre-submission statuses.
	OrderStatusPost   OrderStatus = "post"
	OrderStatusCancel OrderStatus = "cancel"

	// Exchange-reported statuses.
	OrderStatusNew      OrderStatus = "new"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusRejected OrderStatus = "rejected"

	// Locally synthesized terminal status.
	OrderStatusUnsatisfied OrderStatus = "unsatisfied"
)

// IsFinal reports whether the status terminates the order lifecycle.
// "partial" is intermediate and never final.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected, OrderStatusUnsatisfied:
		return true
	}
	return false
}

type Order struct {
	// ID is the composite client order id "{account}-{strategy}-{instance}-{order}[-{oco}]".
	ID string `json:"id"`
	// ExchangeID is the order id assigned by the exchange.
	ExchangeID string      `json:"exchangeId,omitempty"`
	Side       OrderSide   `json:"side"`
	Type       OrderType   `json:"type"`
	Status     OrderStatus `json:"status"`
	Symbol     Symbol      `json:"symbol"`
	// BaseQuantity is the base asset quantity requested, or satisfied on fills.
	BaseQuantity float64 `json:"baseQuantity,omitempty"`
	// QuoteQuantity is the quote asset quantity satisfied on fills.
	QuoteQuantity   float64 `json:"quoteQuantity,omitempty"`
	Price           float64 `json:"price,omitempty"`
	StopPrice       float64 `json:"stopPrice,omitempty"`
	IsOCO           bool    `json:"isOco,omitempty"`
	Commission      float64 `json:"commission,omitempty"`
	CommissionAsset string  `json:"commissionAsset,omitempty"`
	// Profit is the realized profit of a futures sell.
	Profit float64 `json:"profit,omitempty"`
	// IDOrderBuyed links a sell order to the buy order it closes.
	IDOrderBuyed string     `json:"idOrderBuyed,omitempty"`
	Created      time.Time  `json:"created,omitempty"`
	Posted       *time.Time `json:"posted,omitempty"`
	Executed     *time.Time `json:"executed,omitempty"`
}

// Clone returns a copy of the order. Mirrors hand out clones so event merging
// never mutates a snapshot someone else is holding.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Merge copies the event-bearing fields of src into o, leaving fields the
// event omitted untouched.
func (o *Order) Merge(src *Order) {
	o.Status = src.Status
	if src.ExchangeID != "" {
		o.ExchangeID = src.ExchangeID
	}
	if src.BaseQuantity != 0 {
		o.BaseQuantity = src.BaseQuantity
	}
	if src.QuoteQuantity != 0 {
		o.QuoteQuantity = src.QuoteQuantity
	}
	if src.Price != 0 {
		o.Price = src.Price
	}
	if src.StopPrice != 0 {
		o.StopPrice = src.StopPrice
	}
	if src.Commission != 0 {
		o.Commission = src.Commission
		o.CommissionAsset = src.CommissionAsset
	}
	if src.Profit != 0 {
		o.Profit = src.Profit
	}
	if src.Posted != nil {
		o.Posted = src.Posted
	}
	if src.Executed != nil {
		o.Executed = src.Executed
	}
}
