package controller

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/models"
)

// processOrdersEvents consumes the controller's order channel. When the
// controller is still reconciling, an incoming event is the cue that the
// mirror caught up: it triggers a resume attempt instead of being applied.
// Otherwise the balance math runs first (it needs the pre-update instance
// order), then the event is merged into the instance order.
func (c *Controller) processOrdersEvents(eventOrder *models.Order) {
	if eventOrder == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ordersReady && c.status != StatusOn {
		c.resume()
		return
	}
	c.processBalanceOrderUpdate(eventOrder)
	instance := c.getInstanceByOrderID(eventOrder.ID)
	if instance == nil {
		c.log.WithField("order", eventOrder.ID).Warn("Order event for unknown instance")
		return
	}
	order := instance.FindOrder(eventOrder.ID)
	if order == nil {
		c.log.WithField("order", eventOrder.ID).Warn("Order event for order unknown to its instance")
		return
	}
	order.Merge(eventOrder)
	instance.Updated = time.Now()
	if err := c.store.SaveInstance(instance); err != nil {
		c.log.WithError(err).WithField("instance", instance.ID).Error("Failed to save instance")
	}
}

// processBalanceOrderUpdate requires c.mu held. Applies the balance math twice
// per event, to the owning instance's balances and to the controller's
// aggregate, using the stored pre-update order for the lock unwind.
func (c *Controller) processBalanceOrderUpdate(eventOrder *models.Order) {
	instance := c.getInstanceByOrderID(eventOrder.ID)
	if instance == nil {
		return
	}
	oldOrder := instance.FindOrder(eventOrder.ID)
	if oldOrder == nil {
		return
	}
	base, quote := c.baseAsset(), c.quoteAsset()
	c.updateBalances(eventOrder, oldOrder, instance.Balances.Get(base), instance.Balances.Get(quote))
	c.updateBalances(eventOrder, oldOrder, c.balances.Get(base), c.balances.Get(quote))
}

// updateBalances requires c.mu held. The lock unwind on fill uses the stored
// order's quantity and price while the available credit uses the event's
// price; the asymmetry accounts for slippage between submission and fill and
// is deliberate. Every written value passes through the symbol precision fix
// first.
func (c *Controller) updateBalances(eventOrder, oldOrder *models.Order, base, quote *models.Balance) {
	switch eventOrder.Status {
	case models.OrderStatusNew:
		if eventOrder.Side == models.OrderSideBuy {
			locked := c.fixQuote(eventOrder.BaseQuantity * eventOrder.Price)
			quote.Locked = c.fixQuote(quote.Locked + locked)
			quote.Available = c.fixQuote(quote.Available - locked)
		} else {
			base.Locked = c.fixBase(base.Locked + eventOrder.BaseQuantity)
			base.Available = c.fixBase(base.Available - eventOrder.BaseQuantity)
		}

	case models.OrderStatusCanceled, models.OrderStatusExpired, models.OrderStatusRejected:
		if eventOrder.Side == models.OrderSideBuy {
			locked := c.fixQuote(eventOrder.BaseQuantity * eventOrder.Price)
			quote.Locked = c.fixQuote(quote.Locked - locked)
			quote.Available = c.fixQuote(quote.Available + locked)
		} else {
			base.Locked = c.fixBase(base.Locked - eventOrder.BaseQuantity)
			base.Available = c.fixBase(base.Available + eventOrder.BaseQuantity)
		}

	case models.OrderStatusFilled, models.OrderStatusUnsatisfied:
		if eventOrder.Side == models.OrderSideBuy {
			quote.Locked = c.fixQuote(quote.Locked - c.fixQuote(oldOrder.BaseQuantity*oldOrder.Price))
			quote.Available = c.fixQuote(quote.Available + oldOrder.BaseQuantity*eventOrder.Price)
		} else {
			base.Locked = c.fixBase(base.Locked - oldOrder.BaseQuantity)
			base.Available = c.fixBase(base.Available + oldOrder.BaseQuantity)
		}

		var quoteCommission, baseCommission float64
		if eventOrder.CommissionAsset == c.quoteAsset() {
			quoteCommission = c.fixQuote(eventOrder.Commission)
		}
		if eventOrder.CommissionAsset == c.baseAsset() {
			baseCommission = c.fixBase(eventOrder.Commission)
		}
		quote.Balance = c.fixQuote(quote.Balance - quoteCommission)
		base.Balance = c.fixBase(base.Balance - baseCommission)

		if c.market() == models.MarketTypeSpot {
			if eventOrder.Side == models.OrderSideBuy {
				quote.Balance = c.fixQuote(quote.Balance - eventOrder.QuoteQuantity)
				quote.Available = c.fixQuote(quote.Available - eventOrder.QuoteQuantity)
				base.Balance = c.fixBase(base.Balance + eventOrder.BaseQuantity)
				base.Available = c.fixBase(base.Available + eventOrder.BaseQuantity)
			} else {
				quote.Balance = c.fixQuote(quote.Balance + eventOrder.QuoteQuantity)
				quote.Available = c.fixQuote(quote.Available + eventOrder.QuoteQuantity)
				base.Balance = c.fixBase(base.Balance - eventOrder.BaseQuantity)
				base.Available = c.fixBase(base.Available - eventOrder.BaseQuantity)
			}
		} else if c.market() == models.MarketTypeFutures {
			if eventOrder.Side == models.OrderSideBuy {
				base.Balance = c.fixBase(base.Balance + eventOrder.BaseQuantity)
				base.Available = c.fixBase(base.Available + eventOrder.BaseQuantity)
			} else {
				base.Balance = c.fixBase(base.Balance - eventOrder.BaseQuantity)
				base.Available = c.fixBase(base.Available - eventOrder.BaseQuantity)
				quote.Balance = c.fixQuote(quote.Balance + eventOrder.Profit)
			}
		}

		quote.Fee = c.fixQuote(quote.Fee + quoteCommission)
		base.Fee = c.fixBase(base.Fee + baseCommission)

	case models.OrderStatusPartial, models.OrderStatusPost, models.OrderStatusCancel:
		// Partial fills settle on the terminal event; pre-submission statuses
		// carry no balance movement.

	default:
		c.log.WithFields(logrus.Fields{"order": eventOrder.ID, "status": eventOrder.Status}).
			Warn("No balance rule for order status")
	}
}

// ---------------------------------------------------------------------------
// profit and loss
// ---------------------------------------------------------------------------

// LatenteAndMargin sums, over all instances, the unrealized PnL at the given
// mark price against the futures average entry price, minus the margin held
// for the open base balance.
func (c *Controller) LatenteAndMargin(price float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	accountMarket := c.accountMarket()
	accountMarket.Lock()
	averagePrice := accountMarket.AveragePrices[c.symbol().String()]
	accountMarket.Unlock()
	leverage := c.leverage()
	var total float64
	for _, instance := range c.instances {
		base := instance.Balances.Get(c.baseAsset())
		latente := (price - averagePrice) * base.Balance
		margin := -(price * base.Balance / leverage)
		total += latente + margin
	}
	return c.fixQuote(total)
}

// Balances returns a copy of the controller's aggregate balances.
func (c *Controller) Balances() models.BalanceSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(models.BalanceSet, len(c.balances))
	for asset, balance := range c.balances {
		cp := *balance
		out[asset] = &cp
	}
	return out
}

// AvailableQuoteBalance returns the account market's free quote balance.
func (c *Controller) AvailableQuoteBalance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	accountMarket := c.accountMarket()
	accountMarket.Lock()
	defer accountMarket.Unlock()
	return accountMarket.Balances.Get(c.quoteAsset()).Available
}

// ---------------------------------------------------------------------------
// simulation
// ---------------------------------------------------------------------------

// initSimulation seeds the account market balances from the strategy's
// simulator data source. A simulated strategy without one cannot run.
func (c *Controller) initSimulation() error {
	data := c.strategy.SimulatorDataSource
	if data == nil {
		return fmt.Errorf("%w: strategy %d", models.ErrNoSimulatorSource, c.strategy.ID)
	}
	accountMarket := c.accountMarket()
	accountMarket.Lock()
	defer accountMarket.Unlock()
	quote := accountMarket.Balances.Get(c.quoteAsset())
	quote.Balance = data.QuoteQuantity
	quote.Available = data.QuoteQuantity
	if data.BaseQuantity > 0 {
		base := accountMarket.Balances.Get(c.baseAsset())
		base.Balance = data.BaseQuantity
		base.Available = data.BaseQuantity
	}
	return nil
}
