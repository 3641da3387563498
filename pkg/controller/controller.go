// Package controller runs one strategy against one account: it owns the
// strategy's instances, their balances and the aggregate balances, gates
// execution on exchange/account/instance/order readiness, and turns order
// events into balance and order-state mutations.
package controller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/models"
)

type Status string

const (
	StatusOff    Status = "off"
	StatusPaused Status = "paused"
	StatusOn     Status = "on"
)

// Exchange is the venue capability surface a controller consumes. The concrete
// exchange.Exchange satisfies it; tests substitute fakes.
type Exchange interface {
	IsReady() bool
	GetMarketSymbol(symbol models.Symbol) (*models.MarketSymbol, error)
	InfoUpdated() *events.Stream[struct{}]
	AccountEvents(account *models.Account) *events.Stream[models.AccountEvent]
	OrderEvents(controllerID string) *events.Stream[*models.Order]
}

// InstanceStore persists instances across restarts. The core never touches
// storage directly; the hook is called at construction and on every instance
// lifecycle change.
type InstanceStore interface {
	LoadInstances() ([]*models.InstanceController, error)
	SaveInstance(instance *models.InstanceController) error
	DeleteInstance(instance *models.InstanceController) error
}

type Options struct {
	// Store persists instances. Defaults to an in-memory store.
	Store  InstanceStore
	Logger *logrus.Logger
}

// Controller is the per (account, strategy) execution gate. All state mutation
// runs under mu; event handlers from the exchange streams serialize here.
type Controller struct {
	account  *models.Account
	strategy *models.Strategy
	exchange Exchange
	store    InstanceStore
	log      *logrus.Logger

	mu              sync.Mutex
	instances       []*models.InstanceController
	balances        models.BalanceSet
	marketSymbol    *models.MarketSymbol
	exchangeReady   bool
	accountReady    bool
	instancesReady  bool
	ordersRequested bool
	ordersReady     bool
	status          Status
	lastInstanceID  int

	infoSub    *events.Subscription[struct{}]
	accountSub *events.Subscription[models.AccountEvent]
	ordersSub  *events.Subscription[*models.Order]
}

// New builds the controller, loads persisted instances, subscribes to the
// exchange channels and kicks off symbol initialization. Precondition failures
// (instance load, missing simulator source) are returned to the caller; the
// controller starts in status off either way.
func New(account *models.Account, strategy *models.Strategy, exchange Exchange, opts Options) (*Controller, error) {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	c := &Controller{
		account:  account,
		strategy: strategy,
		exchange: exchange,
		store:    opts.Store,
		log:      opts.Logger,
		status:   StatusOff,
	}
	c.balances = c.createBalances()

	instances, err := c.store.LoadInstances()
	if err != nil {
		return nil, fmt.Errorf("loading instances for controller %s: %w", c.ControllerID(), err)
	}
	c.instances = instances
	for _, instance := range instances {
		if instance.ID > c.lastInstanceID {
			c.lastInstanceID = instance.ID
		}
	}
	c.instancesReady = true

	if strategy.IsSimulated() {
		if err := c.initSimulation(); err != nil {
			return nil, err
		}
	}

	c.infoSub = exchange.InfoUpdated().Subscribe(func(struct{}) { c.initializeExchangeInfo() })
	c.accountSub = exchange.AccountEvents(account).Subscribe(c.processAccountEvents)
	c.ordersSub = exchange.OrderEvents(c.ControllerID()).Subscribe(c.processOrdersEvents)
	go c.initializeExchangeInfo()
	return c, nil
}

// Close releases the exchange subscriptions and forces the controller off.
func (c *Controller) Close() {
	c.infoSub.Unsubscribe()
	c.accountSub.Unsubscribe()
	c.ordersSub.Unsubscribe()
	c.mu.Lock()
	c.status = StatusOff
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// identity and derived accessors
// ---------------------------------------------------------------------------

func (c *Controller) AccountID() int { return c.account.User.ID }

func (c *Controller) StrategyID() int { return c.strategy.ID }

// ControllerID is the "{accountId}-{strategyId}" routing key of this
// controller's order events.
func (c *Controller) ControllerID() string {
	return models.OrderID{AccountID: c.account.User.ID, StrategyID: c.strategy.ID}.ControllerID()
}

func (c *Controller) Strategy() *models.Strategy { return c.strategy }

func (c *Controller) Account() *models.Account { return c.account }

func (c *Controller) market() models.MarketType { return c.strategy.Market }

func (c *Controller) symbol() models.Symbol { return c.strategy.Symbol }

func (c *Controller) quoteAsset() string { return c.strategy.Symbol.Quote }

func (c *Controller) baseAsset() string { return c.strategy.Symbol.Base }

func (c *Controller) leverage() float64 {
	if c.strategy.Params.Leverage <= 0 {
		return 1
	}
	return c.strategy.Params.Leverage
}

// accountMarket returns the shared per (account, market) state.
func (c *Controller) accountMarket() *models.AccountMarket {
	return c.account.Market(c.market())
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) On() bool { return c.Status() == StatusOn }

func (c *Controller) Off() bool { return c.Status() == StatusOff }

func (c *Controller) Paused() bool { return c.Status() == StatusPaused }

// ReadyToStart reports whether the exchange, account and instance gates are
// all open. Order reconciliation is checked by resume itself.
func (c *Controller) ReadyToStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyToStart()
}

// readyToStart requires c.mu held.
func (c *Controller) readyToStart() bool {
	return c.exchangeReady && c.accountReady && c.instancesReady
}

// ---------------------------------------------------------------------------
// lifecycle
// ---------------------------------------------------------------------------

// Start brings the controller on if every readiness gate is open. Returns
// false when some gate is still closed; the readiness callbacks retry
// automatically as gates open.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start()
}

// start requires c.mu held.
func (c *Controller) start() bool {
	if !c.readyToStart() {
		return false
	}
	return c.resume()
}

// Resume re-checks order reconciliation and, if complete, sets the controller
// on.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resume()
}

// resume requires c.mu held.
func (c *Controller) resume() bool {
	if !c.checkOrders() {
		return false
	}
	c.status = StatusOn
	c.log.WithField("controller", c.ControllerID()).Info("Controller on")
	return true
}

// Pause forces the controller to paused regardless of readiness, used when the
// market becomes unavailable while running.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause()
}

// pause requires c.mu held.
func (c *Controller) pause() {
	c.status = StatusPaused
	c.log.WithField("controller", c.ControllerID()).Info("Controller paused")
}

// Stop forces the controller off.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusOff
	c.log.WithField("controller", c.ControllerID()).Info("Controller off")
}

// Abort forces the controller off on an unrecoverable condition, e.g. the
// strategy's symbol disappearing from the venue.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusOff
	c.log.WithField("controller", c.ControllerID()).Warn("Controller aborted")
}

// checkOrders requires c.mu held. Collects every instance order missing from
// the account market mirror; while any are missing the controller is not
// ordersReady. Missing orders are fetched exactly once, guarded by
// ordersRequested, so repeated checks cannot storm the exchange.
func (c *Controller) checkOrders() bool {
	accountMarket := c.accountMarket()
	var missing []*models.Order
	accountMarket.Lock()
	for _, instance := range c.instances {
		for _, order := range instance.Orders {
			if accountMarket.FindOrder(order.ID) == nil {
				missing = append(missing, order)
			}
		}
	}
	accountMarket.Unlock()
	c.ordersReady = len(missing) == 0
	if len(missing) > 0 && !c.ordersRequested {
		c.ordersRequested = true
		for _, order := range missing {
			c.getOrder(order)
		}
	}
	return c.ordersReady
}

// ---------------------------------------------------------------------------
// exchange callbacks
// ---------------------------------------------------------------------------

// initializeExchangeInfo refreshes the symbol metadata and auto-drives the
// state machine on tradability flips: start when off, pause when the symbol
// goes away while on, resume when it comes back while paused.
func (c *Controller) initializeExchangeInfo() {
	if !c.exchange.IsReady() {
		return
	}
	ms, err := c.exchange.GetMarketSymbol(c.symbol())
	if err != nil {
		if errors.Is(err, models.ErrSymbolNotFound) {
			c.log.WithError(err).WithField("controller", c.ControllerID()).Error("Strategy symbol missing on exchange")
			c.Abort()
			return
		}
		c.log.WithError(err).WithField("controller", c.ControllerID()).Error("Failed to get market symbol")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketSymbol = ms
	if c.exchangeReady == ms.Ready {
		return
	}
	c.exchangeReady = ms.Ready
	switch {
	case c.status == StatusOff:
		c.start()
	case c.status == StatusOn && !ms.Ready:
		c.pause()
	case c.status == StatusPaused && ms.Ready:
		c.resume()
	}
}

// processAccountEvents opens the account gate on the ready signal and attempts
// a start.
func (c *Controller) processAccountEvents(event models.AccountEvent) {
	switch event.Type {
	case models.AccountEventReady:
		if !event.Ready {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.accountReady = true
		if c.status == StatusOff {
			c.start()
		}
	case models.AccountEventUpdate:
		// Balance snapshots are folded into the account market by the
		// exchange; nothing to do per controller.
	}
}

// ---------------------------------------------------------------------------
// instances
// ---------------------------------------------------------------------------

// CreateInstance opens a new position slot, registers it and persists it.
func (c *Controller) CreateInstance() *models.InstanceController {
	c.mu.Lock()
	c.lastInstanceID++
	now := time.Now()
	instance := &models.InstanceController{
		ID:       c.lastInstanceID,
		Created:  now,
		Updated:  now,
		Balances: c.createBalances(),
	}
	c.instances = append(c.instances, instance)
	c.mu.Unlock()
	if err := c.store.SaveInstance(instance); err != nil {
		c.log.WithError(err).WithField("instance", instance.ID).Error("Failed to save instance")
	}
	return instance
}

// RemoveInstance deletes a position slot. Removing the last instance resets
// the instance counter.
func (c *Controller) RemoveInstance(instance *models.InstanceController) {
	c.mu.Lock()
	for i, candidate := range c.instances {
		if candidate.ID == instance.ID {
			c.instances = append(c.instances[:i], c.instances[i+1:]...)
			break
		}
	}
	if len(c.instances) == 0 {
		c.lastInstanceID = 0
	}
	c.mu.Unlock()
	if err := c.store.DeleteInstance(instance); err != nil {
		c.log.WithError(err).WithField("instance", instance.ID).Error("Failed to delete instance")
	}
}

// Instances returns a snapshot of the current position slots.
func (c *Controller) Instances() []*models.InstanceController {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.InstanceController, len(c.instances))
	copy(out, c.instances)
	return out
}

func (c *Controller) createBalances() models.BalanceSet {
	return models.NewBalanceSet(c.quoteAsset(), c.baseAsset())
}

// getInstanceByOrderID requires c.mu held.
func (c *Controller) getInstanceByOrderID(id string) *models.InstanceController {
	parsed, err := models.SplitOrderID(id)
	if err != nil {
		return nil
	}
	for _, instance := range c.instances {
		if instance.ID == parsed.InstanceID {
			return instance
		}
	}
	return nil
}
