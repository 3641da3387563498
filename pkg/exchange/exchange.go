// Package exchange owns everything that crosses the wire to a venue: rate
// limited task dispatch (get/post/cancel order), partial-fill tracking with
// debounce timers, and translation of raw websocket account and order events
// into the normalized balance and order updates each controller consumes.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/executor"
	"github.com/tradeforge/execore/pkg/gateway"
	"github.com/tradeforge/execore/pkg/models"
)

// DefaultPartialPeriod is how long a partially filled order may stall before
// it is finalized locally as unsatisfied.
const DefaultPartialPeriod = 10 * time.Second

// defaultRequestLimit throttles outbound requests until the venue advertises
// its real limits.
var defaultRequestLimit = models.Limit{Type: models.LimitTypeRequest, MaxQuantity: 5, Period: time.Second}

type Options struct {
	// PartialPeriod overrides the partial-fill debounce window.
	PartialPeriod time.Duration
	// RequestsPerSecond seeds the request quota until the venue advertises its
	// real limits. Zero keeps the default.
	RequestsPerSecond int
	Logger            *logrus.Logger
}

// Exchange is the only component that talks to a venue adapter. It embeds the
// rate-limited TaskExecutor so every order operation it performs is subject to
// the venue's request quota.
type Exchange struct {
	*executor.TaskExecutor[models.OrderTask]

	name    models.ExchangeName
	market  models.MarketType
	gw      gateway.Gateway
	api     gateway.ExchangeAPI
	log     *logrus.Logger
	ctx     context.Context
	partial time.Duration

	infoUpdated        *events.Stream[struct{}]
	ordersLimitChanged *events.Stream[models.Limit]

	mu            sync.Mutex
	symbols       []*models.MarketSymbol
	limitRequest  models.Limit
	limitOrders   models.Limit
	ready         bool
	partials      map[string]*partialOrder
	accountSt     map[string]gateway.ExchangeStream
	marketSt      gateway.ExchangeStream
	accountEvents map[string]*events.Stream[models.AccountEvent]
	orderEvents   map[string]*events.Stream[*models.Order]
	priceStreams  map[string]*events.Stream[models.MarketPrice]
	klineStreams  map[string]*events.Stream[models.MarketKline]
}

// New creates the exchange for one venue and market and kicks off the first
// exchange-info retrieval. ctx bounds every outbound call the exchange makes.
func New(ctx context.Context, gw gateway.Gateway, market models.MarketType, opts Options) *Exchange {
	if opts.PartialPeriod <= 0 {
		opts.PartialPeriod = DefaultPartialPeriod
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	e := &Exchange{
		name:               gw.Name(),
		market:             market,
		gw:                 gw,
		api:                gw.API(market),
		log:                opts.Logger,
		ctx:                ctx,
		partial:            opts.PartialPeriod,
		infoUpdated:        events.NewStream[struct{}](),
		ordersLimitChanged: events.NewStream[models.Limit](),
		partials:           make(map[string]*partialOrder),
		accountSt:          make(map[string]gateway.ExchangeStream),
		accountEvents:      make(map[string]*events.Stream[models.AccountEvent]),
		orderEvents:        make(map[string]*events.Stream[*models.Order]),
		priceStreams:       make(map[string]*events.Stream[models.MarketPrice]),
		klineStreams:       make(map[string]*events.Stream[models.MarketKline]),
	}
	seed := defaultRequestLimit
	if opts.RequestsPerSecond > 0 {
		seed.MaxQuantity = opts.RequestsPerSecond
	}
	e.TaskExecutor = executor.New(executor.Options{
		Run:         executor.RunAsync,
		MaxQuantity: seed.MaxQuantity,
		Period:      seed.Period,
	}, e.executeTask).WithPriority(isCancelTask)
	go e.RetrieveExchangeInfo()
	return e
}

func isCancelTask(task models.OrderTask) bool { return task.Type == models.TaskTypeCancelOrder }

func (e *Exchange) Name() models.ExchangeName { return e.name }

func (e *Exchange) Market() models.MarketType { return e.market }

// InfoUpdated fires after each exchange-info refresh so controllers can
// re-check their symbol.
func (e *Exchange) InfoUpdated() *events.Stream[struct{}] { return e.infoUpdated }

// OrdersLimitChanged broadcasts the venue's order quota to every
// OrdersExecutor.
func (e *Exchange) OrdersLimitChanged() *events.Stream[models.Limit] { return e.ordersLimitChanged }

// IsReady reports whether exchange info has been loaded at least once.
func (e *Exchange) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// CurrentOrdersLimit returns the last order quota the venue advertised, zero
// before the first exchange-info load.
func (e *Exchange) CurrentOrdersLimit() models.Limit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limitOrders
}

// ---------------------------------------------------------------------------
// exchange info
// ---------------------------------------------------------------------------

// RetrieveExchangeInfo fetches venue metadata. A failure is transient: it is
// logged and the exchange simply stays not-ready, which keeps controllers
// gated until a later refresh succeeds.
func (e *Exchange) RetrieveExchangeInfo() {
	info, err := e.api.GetExchangeInfo(e.ctx)
	if err != nil {
		e.log.WithError(err).WithField("exchange", e.name).Error("Failed to retrieve exchange info")
		return
	}
	e.mu.Lock()
	e.processExchangeSymbols(info.Symbols)
	e.processExchangeLimits(info.Limits)
	e.ready = true
	e.mu.Unlock()
	e.infoUpdated.Publish(struct{}{})
}

// processExchangeSymbols requires e.mu held. Known symbols only flip their
// ready flag; new symbols are appended.
func (e *Exchange) processExchangeSymbols(symbols []models.MarketSymbol) {
	for i := range symbols {
		ms := symbols[i]
		if found := e.findMarketSymbol(ms.Symbol); found != nil {
			found.Ready = ms.Ready
		} else {
			cp := ms
			e.symbols = append(e.symbols, &cp)
		}
	}
}

// processExchangeLimits requires e.mu held. Among the advertised limits with a
// window of at most a minute, the lowest-throughput request limit governs this
// executor and the lowest-throughput trade limit is broadcast to the order
// executors.
func (e *Exchange) processExchangeLimits(limits []models.Limit) {
	requests := mostRestrictive(models.LimitTypeRequest, limits)
	orders := mostRestrictive(models.LimitTypeTrade, limits)
	if !requests.IsZero() && limitChanged(e.limitRequest, requests) {
		e.limitRequest = requests
		e.UpdateLimit(requests)
	}
	if !orders.IsZero() && limitChanged(e.limitOrders, orders) {
		e.limitOrders = orders
		// Publish outside the mutex: subscribers reshape their own executors.
		go e.ordersLimitChanged.Publish(orders)
	}
}

func mostRestrictive(t models.LimitType, limits []models.Limit) models.Limit {
	var best models.Limit
	for _, l := range limits {
		if l.Type != t || l.Period > time.Minute {
			continue
		}
		if best.IsZero() || l.Ratio() < best.Ratio() {
			best = l
		}
	}
	return best
}

func limitChanged(a, b models.Limit) bool {
	return a.IsZero() || a.MaxQuantity != b.MaxQuantity || a.Period != b.Period
}

// GetMarketSymbol returns the symbol metadata, preferring the cached table and
// falling back to the venue API.
func (e *Exchange) GetMarketSymbol(symbol models.Symbol) (*models.MarketSymbol, error) {
	e.mu.Lock()
	found := e.findMarketSymbol(symbol)
	e.mu.Unlock()
	if found != nil {
		cp := *found
		return &cp, nil
	}
	ms, err := e.api.GetMarketSymbol(e.ctx, symbol)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.processExchangeSymbols([]models.MarketSymbol{*ms})
	e.mu.Unlock()
	return ms, nil
}

// findMarketSymbol requires e.mu held.
func (e *Exchange) findMarketSymbol(symbol models.Symbol) *models.MarketSymbol {
	for _, ms := range e.symbols {
		if ms.Symbol == symbol {
			return ms
		}
	}
	return nil
}

func (e *Exchange) fixQuote(v float64, symbol models.Symbol) float64 {
	e.mu.Lock()
	found := e.findMarketSymbol(symbol)
	e.mu.Unlock()
	if found == nil {
		return models.FixDecimals(v, 8)
	}
	return found.FixQuote(v)
}

// ---------------------------------------------------------------------------
// market streams
// ---------------------------------------------------------------------------

func (e *Exchange) marketStream() gateway.ExchangeStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.marketSt == nil {
		e.marketSt = e.gw.MarketStream(e.market)
	}
	return e.marketSt
}

// MarketPriceStream returns the shared price channel for a symbol, wiring it
// to the market websocket on first use.
func (e *Exchange) MarketPriceStream(symbol models.Symbol) *events.Stream[models.MarketPrice] {
	key := symbol.String()
	e.mu.Lock()
	if st, ok := e.priceStreams[key]; ok {
		e.mu.Unlock()
		return st
	}
	st := events.NewStream[models.MarketPrice]()
	e.priceStreams[key] = st
	e.mu.Unlock()
	e.marketStream().PriceTicker(symbol).Subscribe(st.Publish)
	return st
}

// MarketKlineStream returns the shared kline channel for a symbol/interval.
func (e *Exchange) MarketKlineStream(symbol models.Symbol, interval models.KlineInterval) *events.Stream[models.MarketKline] {
	key := symbol.String() + "#" + string(interval)
	e.mu.Lock()
	if st, ok := e.klineStreams[key]; ok {
		e.mu.Unlock()
		return st
	}
	st := events.NewStream[models.MarketKline]()
	e.klineStreams[key] = st
	e.mu.Unlock()
	e.marketStream().KlineTicker(symbol, interval).Subscribe(st.Publish)
	return st
}

// GetMarketPrice fetches a one-shot price over REST, consuming request quota.
func (e *Exchange) GetMarketPrice(symbol models.Symbol) (*models.MarketPrice, error) {
	e.ConsumeQuota()
	return e.api.GetPriceTicker(e.ctx, symbol)
}
