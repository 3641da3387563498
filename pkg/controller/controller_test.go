package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/models"
)

var testSymbol = models.Symbol{Base: "BTC", Quote: "USDT"}

type fakeExchange struct {
	mu     sync.Mutex
	ready  bool
	symbol *models.MarketSymbol
	info   *events.Stream[struct{}]
	acct   *events.Stream[models.AccountEvent]
	orders *events.Stream[*models.Order]
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		ready: true,
		symbol: &models.MarketSymbol{
			Symbol: testSymbol, Ready: true,
			BasePrecision: 8, QuotePrecision: 2, QuantityPrecision: 2, PricePrecision: 2,
		},
		info:   events.NewStream[struct{}](),
		acct:   events.NewStream[models.AccountEvent](),
		orders: events.NewStream[*models.Order](),
	}
}

func (f *fakeExchange) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeExchange) GetMarketSymbol(models.Symbol) (*models.MarketSymbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.symbol
	return &cp, nil
}

func (f *fakeExchange) InfoUpdated() *events.Stream[struct{}] { return f.info }

func (f *fakeExchange) AccountEvents(*models.Account) *events.Stream[models.AccountEvent] {
	return f.acct
}

func (f *fakeExchange) OrderEvents(string) *events.Stream[*models.Order] { return f.orders }

// captureExecutor records tasks instead of dispatching them.
type captureExecutor struct {
	mu    sync.Mutex
	tasks []models.OrderTask
}

func (ce *captureExecutor) Do(task models.OrderTask) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.tasks = append(ce.tasks, task)
}

func (ce *captureExecutor) snapshot() []models.OrderTask {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	out := make([]models.OrderTask, len(ce.tasks))
	copy(out, ce.tasks)
	return out
}

type fixture struct {
	account  *models.Account
	strategy *models.Strategy
	exchange *fakeExchange
	executor *captureExecutor
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	account := models.NewAccount(models.UserInfo{ID: 1})
	executor := &captureExecutor{}
	account.Market(models.MarketTypeSpot).Executor = executor
	strategy := &models.Strategy{ID: 2, Exchange: models.ExchangeBinance, Market: models.MarketTypeSpot, Symbol: testSymbol}
	fe := newFakeExchange()

	ctrl, err := New(account, strategy, fe, Options{})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	return &fixture{account: account, strategy: strategy, exchange: fe, executor: executor, ctrl: ctrl}
}

// bringOn opens every readiness gate deterministically: the account ready
// event, then an info event driving symbol initialization synchronously.
func (f *fixture) bringOn(t *testing.T) {
	t.Helper()
	f.exchange.acct.Publish(models.AccountEvent{Type: models.AccountEventReady, Ready: true})
	f.exchange.info.Publish(struct{}{})
	require.Equal(t, StatusOn, f.ctrl.Status())
}

func TestControllerStartsWhenGatesOpen(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StatusOff, f.ctrl.Status())

	// Account gate still closed.
	assert.False(t, f.ctrl.Start())

	f.bringOn(t)
}

func TestControllerPausesWhenSymbolUnavailable(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)

	f.exchange.mu.Lock()
	f.exchange.symbol.Ready = false
	f.exchange.mu.Unlock()
	f.exchange.info.Publish(struct{}{})
	assert.Equal(t, StatusPaused, f.ctrl.Status())

	f.exchange.mu.Lock()
	f.exchange.symbol.Ready = true
	f.exchange.mu.Unlock()
	f.exchange.info.Publish(struct{}{})
	assert.Equal(t, StatusOn, f.ctrl.Status())
}

func TestCheckOrdersFetchesMissingOnce(t *testing.T) {
	f := newFixture(t)

	// An instance order absent from the account market mirror blocks startup.
	instance := f.ctrl.CreateInstance()
	f.ctrl.mu.Lock()
	order := f.ctrl.createOrder(instance, models.OrderSideBuy, models.OrderTypeLimit, 1, OrderOptions{Price: 100})
	f.ctrl.mu.Unlock()

	f.exchange.acct.Publish(models.AccountEvent{Type: models.AccountEventReady, Ready: true})
	f.exchange.info.Publish(struct{}{})
	assert.Equal(t, StatusOff, f.ctrl.Status())

	// Repeated resume attempts must not refetch.
	f.ctrl.Resume()
	f.ctrl.Resume()

	var fetches int
	for _, task := range f.executor.snapshot() {
		if task.Type == models.TaskTypeGetOrder {
			fetches++
		}
	}
	assert.Equal(t, 1, fetches)

	// The mirror catching up lets the next order event resume the controller.
	f.account.Market(models.MarketTypeSpot).Orders = []*models.Order{order.Clone()}
	f.exchange.orders.Publish(order.Clone())
	assert.Equal(t, StatusOn, f.ctrl.Status())
}

func TestGenerateOrderIDRoundTrip(t *testing.T) {
	f := newFixture(t)
	instance := f.ctrl.CreateInstance()

	f.ctrl.mu.Lock()
	id := f.ctrl.generateOrderID(instance)
	f.ctrl.mu.Unlock()

	parsed, err := models.SplitOrderID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed.AccountID)
	assert.Equal(t, 2, parsed.StrategyID)
	assert.Equal(t, instance.ID, parsed.InstanceID)
	assert.Equal(t, 1, parsed.OrderID)
	assert.Equal(t, "1-2", parsed.ControllerID())
}

func TestAdjustQuantityConservesRemainder(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)
	instance := f.ctrl.CreateInstance()

	requested := 1.23456
	order := f.ctrl.CreateOrderBuyLimit(instance, requested, 100)

	assert.Equal(t, 1.23, order.BaseQuantity)
	remainder := requested - order.BaseQuantity

	instanceRem := instance.Balances.Get("BTC").Remainder
	controllerRem := f.ctrl.balances.Get("BTC").Remainder
	marketRem := f.account.Market(models.MarketTypeSpot).Balances.Get("BTC").Remainder
	assert.InDelta(t, remainder, instanceRem, 1e-8)
	assert.Equal(t, instanceRem, controllerRem)
	assert.Equal(t, instanceRem, marketRem)
	assert.InDelta(t, requested, order.BaseQuantity+instanceRem, 1e-8)
}

func TestBuyOrderBalanceScenario(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)
	instance := f.ctrl.CreateInstance()

	// Quote starts at 1000 free.
	for _, set := range []models.BalanceSet{instance.Balances, f.ctrl.balances} {
		quote := set.Get("USDT")
		quote.Balance, quote.Available = 1000, 1000
	}

	order := f.ctrl.CreateOrderBuyLimit(instance, 1.0, 100)
	f.account.Market(models.MarketTypeSpot).Orders = []*models.Order{order.Clone()}

	newEvent := order.Clone()
	newEvent.Status = models.OrderStatusNew
	f.exchange.orders.Publish(newEvent)

	quote := instance.Balances.Get("USDT")
	assert.Equal(t, 1000.0, quote.Balance)
	assert.Equal(t, 900.0, quote.Available)
	assert.Equal(t, 100.0, quote.Locked)
	assert.Equal(t, quote.Balance, quote.Available+quote.Locked)

	filled := order.Clone()
	filled.Status = models.OrderStatusFilled
	filled.QuoteQuantity = 100
	f.exchange.orders.Publish(filled)

	assert.Equal(t, 900.0, quote.Balance)
	assert.Equal(t, 900.0, quote.Available)
	assert.Equal(t, 0.0, quote.Locked)
	assert.Equal(t, quote.Balance, quote.Available+quote.Locked)

	base := instance.Balances.Get("BTC")
	assert.Equal(t, 1.0, base.Balance)
	assert.Equal(t, 1.0, base.Available)

	// The aggregate mirrors the instance.
	aggregate := f.ctrl.balances.Get("USDT")
	assert.Equal(t, 900.0, aggregate.Balance)
	assert.Equal(t, 0.0, aggregate.Locked)
}

func TestOrderEventStampsInstanceUpdated(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)
	instance := f.ctrl.CreateInstance()
	order := f.ctrl.CreateOrderBuyLimit(instance, 1.0, 100)
	f.account.Market(models.MarketTypeSpot).Orders = []*models.Order{order.Clone()}

	before := time.Now()
	newEvent := order.Clone()
	newEvent.Status = models.OrderStatusNew
	// Exchange events typically carry no creation timestamp.
	newEvent.Created = time.Time{}
	f.exchange.orders.Publish(newEvent)

	assert.False(t, instance.Updated.IsZero())
	assert.False(t, instance.Updated.Before(before))
}

func TestCanceledOrderUnlocksBalance(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)
	instance := f.ctrl.CreateInstance()
	quote := instance.Balances.Get("USDT")
	quote.Balance, quote.Available = 500, 500

	order := f.ctrl.CreateOrderBuyLimit(instance, 2.0, 50)
	f.account.Market(models.MarketTypeSpot).Orders = []*models.Order{order.Clone()}

	newEvent := order.Clone()
	newEvent.Status = models.OrderStatusNew
	f.exchange.orders.Publish(newEvent)
	assert.Equal(t, 100.0, quote.Locked)

	canceled := order.Clone()
	canceled.Status = models.OrderStatusCanceled
	f.exchange.orders.Publish(canceled)

	assert.Equal(t, 0.0, quote.Locked)
	assert.Equal(t, 500.0, quote.Available)
	assert.Equal(t, quote.Balance, quote.Available+quote.Locked)
}

func TestCommissionDeductedFromMatchingAsset(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)
	instance := f.ctrl.CreateInstance()
	quote := instance.Balances.Get("USDT")
	quote.Balance, quote.Available = 1000, 1000

	order := f.ctrl.CreateOrderBuyLimit(instance, 1.0, 100)
	f.account.Market(models.MarketTypeSpot).Orders = []*models.Order{order.Clone()}

	newEvent := order.Clone()
	newEvent.Status = models.OrderStatusNew
	f.exchange.orders.Publish(newEvent)

	filled := order.Clone()
	filled.Status = models.OrderStatusFilled
	filled.QuoteQuantity = 100
	filled.Commission = 0.5
	filled.CommissionAsset = "USDT"
	f.exchange.orders.Publish(filled)

	assert.Equal(t, 899.5, quote.Balance)
	assert.Equal(t, 0.5, quote.Fee)
	// Commission in base leaves quote untouched.
	assert.Equal(t, 1.0, instance.Balances.Get("BTC").Balance)
}

func TestFuturesSellCreditsProfit(t *testing.T) {
	account := models.NewAccount(models.UserInfo{ID: 1})
	executor := &captureExecutor{}
	account.Market(models.MarketTypeFutures).Executor = executor
	strategy := &models.Strategy{ID: 2, Exchange: models.ExchangeBinance, Market: models.MarketTypeFutures, Symbol: testSymbol, Params: models.StrategyParams{Leverage: 5}}
	fe := newFakeExchange()
	ctrl, err := New(account, strategy, fe, Options{})
	require.NoError(t, err)
	defer ctrl.Close()

	fe.acct.Publish(models.AccountEvent{Type: models.AccountEventReady, Ready: true})
	fe.info.Publish(struct{}{})
	require.Equal(t, StatusOn, ctrl.Status())

	instance := ctrl.CreateInstance()
	base := instance.Balances.Get("BTC")
	base.Balance, base.Available = 2, 2

	order := ctrl.CreateOrderSellMarket(instance, 1.0, 100, "")
	account.Market(models.MarketTypeFutures).Orders = []*models.Order{order.Clone()}

	newEvent := order.Clone()
	newEvent.Status = models.OrderStatusNew
	fe.orders.Publish(newEvent)
	assert.Equal(t, 1.0, base.Locked)

	filled := order.Clone()
	filled.Status = models.OrderStatusFilled
	filled.Profit = 12.5
	fe.orders.Publish(filled)

	assert.Equal(t, 1.0, base.Balance)
	assert.Equal(t, 0.0, base.Locked)
	assert.Equal(t, 12.5, instance.Balances.Get("USDT").Balance)
}

func TestLatenteAndMargin(t *testing.T) {
	account := models.NewAccount(models.UserInfo{ID: 1})
	account.Market(models.MarketTypeFutures).Executor = &captureExecutor{}
	strategy := &models.Strategy{ID: 2, Exchange: models.ExchangeBinance, Market: models.MarketTypeFutures, Symbol: testSymbol, Params: models.StrategyParams{Leverage: 10}}
	fe := newFakeExchange()
	ctrl, err := New(account, strategy, fe, Options{})
	require.NoError(t, err)
	defer ctrl.Close()

	instance := ctrl.CreateInstance()
	instance.Balances.Get("BTC").Balance = 2
	account.Market(models.MarketTypeFutures).AveragePrices[testSymbol.String()] = 90

	// (100-90)*2 - 100*2/10 = 20 - 20 = 0
	assert.Equal(t, 0.0, ctrl.LatenteAndMargin(100))
	// (110-90)*2 - 110*2/10 = 40 - 22 = 18
	assert.Equal(t, 18.0, ctrl.LatenteAndMargin(110))
}

func TestSimulatedStrategySeedsBalances(t *testing.T) {
	account := models.NewAccount(models.UserInfo{ID: 1})
	account.Market(models.MarketTypeSpot).Executor = &captureExecutor{}
	strategy := &models.Strategy{
		ID: 2, Exchange: models.ExchangeSimulator, Market: models.MarketTypeSpot, Symbol: testSymbol,
		SimulatorDataSource: &models.SimulatorDataSource{QuoteQuantity: 5000, BaseQuantity: 0.5},
	}
	ctrl, err := New(account, strategy, newFakeExchange(), Options{})
	require.NoError(t, err)
	defer ctrl.Close()

	balances := account.Market(models.MarketTypeSpot).Balances
	assert.Equal(t, 5000.0, balances.Get("USDT").Available)
	assert.Equal(t, 0.5, balances.Get("BTC").Available)
}

func TestSimulatedStrategyRequiresDataSource(t *testing.T) {
	account := models.NewAccount(models.UserInfo{ID: 1})
	account.Market(models.MarketTypeSpot).Executor = &captureExecutor{}
	strategy := &models.Strategy{ID: 2, Exchange: models.ExchangeSimulator, Market: models.MarketTypeSpot, Symbol: testSymbol}

	_, err := New(account, strategy, newFakeExchange(), Options{})
	assert.ErrorIs(t, err, models.ErrNoSimulatorSource)
}

func TestRemoveLastInstanceResetsCounter(t *testing.T) {
	f := newFixture(t)
	first := f.ctrl.CreateInstance()
	assert.Equal(t, 1, first.ID)

	f.ctrl.RemoveInstance(first)
	assert.Empty(t, f.ctrl.Instances())

	again := f.ctrl.CreateInstance()
	assert.Equal(t, 1, again.ID)
}

func TestLoadedInstancesSeedCounter(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveInstance(&models.InstanceController{ID: 7, Balances: models.NewBalanceSet("USDT", "BTC")}))

	account := models.NewAccount(models.UserInfo{ID: 1})
	account.Market(models.MarketTypeSpot).Executor = &captureExecutor{}
	strategy := &models.Strategy{ID: 2, Exchange: models.ExchangeBinance, Market: models.MarketTypeSpot, Symbol: testSymbol}
	ctrl, err := New(account, strategy, newFakeExchange(), Options{Store: store})
	require.NoError(t, err)
	defer ctrl.Close()

	next := ctrl.CreateInstance()
	assert.Equal(t, 8, next.ID)
}

func TestStopForcesOff(t *testing.T) {
	f := newFixture(t)
	f.bringOn(t)

	f.ctrl.Stop()
	assert.Equal(t, StatusOff, f.ctrl.Status())
}
