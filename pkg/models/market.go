package models

import (
	"math"
	"strconv"
	"time"
)

type MarketType string

const (
	MarketTypeSpot    MarketType = "spot"
	MarketTypeFutures MarketType = "futures"
	MarketTypeMargin  MarketType = "margin"
)

// Symbol identifies a traded pair, e.g. {Base: "BTC", Quote: "USDT"}.
type Symbol struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (s Symbol) String() string { return s.Base + "_" + s.Quote }

func (s Symbol) IsZero() bool { return s.Base == "" && s.Quote == "" }

// MarketSymbol carries the tradability flag and the precision metadata the
// exchange advertises for a symbol.
type MarketSymbol struct {
	Symbol            Symbol `json:"symbol"`
	Ready             bool   `json:"ready"`
	BasePrecision     int    `json:"basePrecision"`
	QuotePrecision    int    `json:"quotePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`
	PricePrecision    int    `json:"pricePrecision"`
}

// FixPrice rounds a price to the symbol's price precision.
func (ms *MarketSymbol) FixPrice(price float64) float64 {
	return FixDecimals(price, precOr(ms.PricePrecision, 3))
}

// FixQuantity rounds a quantity to the symbol's quantity precision.
func (ms *MarketSymbol) FixQuantity(qty float64) float64 {
	return FixDecimals(qty, precOr(ms.QuantityPrecision, 2))
}

func (ms *MarketSymbol) FixBase(v float64) float64 { return FixDecimals(v, ms.BasePrecision) }

func (ms *MarketSymbol) FixQuote(v float64) float64 { return FixDecimals(v, ms.QuotePrecision) }

// FloorQuantity floors a quantity to the symbol's quantity precision. Flooring
// rather than rounding keeps submitted quantities within what the balance
// actually holds; the loss is tracked as a balance remainder.
func (ms *MarketSymbol) FloorQuantity(qty float64) float64 {
	pow := math.Pow(10, float64(precOr(ms.QuantityPrecision, 2)))
	return math.Floor(qty*pow) / pow
}

func precOr(prec, fallback int) int {
	if prec == 0 {
		return fallback
	}
	return prec
}

// FixDecimals rounds v half-up to the given number of decimals.
func FixDecimals(v float64, decimals int) float64 {
	fixed, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	return fixed
}

type MarketPrice struct {
	Symbol      Symbol    `json:"symbol"`
	Price       float64   `json:"price"`
	BaseVolume  float64   `json:"baseVolume,omitempty"`
	QuoteVolume float64   `json:"quoteVolume,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type KlineInterval string

const (
	KlineInterval1m  KlineInterval = "1m"
	KlineInterval5m  KlineInterval = "5m"
	KlineInterval15m KlineInterval = "15m"
	KlineInterval30m KlineInterval = "30m"
	KlineInterval1h  KlineInterval = "1h"
	KlineInterval4h  KlineInterval = "4h"
	KlineInterval1d  KlineInterval = "1d"
	KlineInterval1w  KlineInterval = "1w"
)

type MarketKline struct {
	Symbol      Symbol        `json:"symbol"`
	Interval    KlineInterval `json:"interval"`
	Open        float64       `json:"open"`
	Close       float64       `json:"close"`
	High        float64       `json:"high"`
	Low         float64       `json:"low"`
	OpenTime    time.Time     `json:"openTime"`
	CloseTime   time.Time     `json:"closeTime"`
	BaseVolume  float64       `json:"baseVolume,omitempty"`
	QuoteVolume float64       `json:"quoteVolume"`
}

// CloseTimeFor computes the close time of a kline from its open time and
// interval.
func CloseTimeFor(openTime time.Time, interval KlineInterval) time.Time {
	return openTime.Add(interval.Duration())
}

// Duration converts an interval like "15m" or "4h" into a time.Duration.
func (i KlineInterval) Duration() time.Duration {
	if len(i) < 2 {
		return 0
	}
	n, err := strconv.Atoi(string(i[:len(i)-1]))
	if err != nil {
		return 0
	}
	switch i[len(i)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	case 'M':
		return time.Duration(n) * 30 * 24 * time.Hour
	}
	return 0
}

type LimitType string

const (
	LimitTypeRequest LimitType = "request"
	LimitTypeTrade   LimitType = "trade"
)

// Limit describes a rate quota advertised by the exchange: at most MaxQuantity
// operations per Period.
type Limit struct {
	Type        LimitType     `json:"type"`
	MaxQuantity int           `json:"maxQuantity"`
	Period      time.Duration `json:"period"`
}

func (l Limit) IsZero() bool { return l.MaxQuantity == 0 }

// Ratio is the throughput in operations per second, used to pick the most
// restrictive of several advertised limits.
func (l Limit) Ratio() float64 {
	if l.Period <= 0 {
		return 0
	}
	return float64(l.MaxQuantity) / l.Period.Seconds()
}
