package controller

import (
	"time"

	"github.com/tradeforge/execore/pkg/models"
)

// OrderOptions carry the optional parameters of order creation.
type OrderOptions struct {
	Price        float64
	StopPrice    float64
	Status       models.OrderStatus
	IDOrderBuyed string
}

// do hands a task to the orders executor shared by every controller trading
// this account and market.
func (c *Controller) do(task models.OrderTask) {
	c.accountMarket().Executor.Do(task)
}

func (c *Controller) task(t models.TaskType, order *models.Order) models.OrderTask {
	return models.OrderTask{
		Type: t,
		Data: models.OrderTaskData{
			Account:      c.account,
			ControllerID: c.ControllerID(),
			Order:        order,
		},
	}
}

// getOrder requires c.mu held.
func (c *Controller) getOrder(order *models.Order) {
	c.do(c.task(models.TaskTypeGetOrder, order))
}

// CreateOrderBuyMarket submits a market buy for an instance. price is the
// expected fill price used for balance locking.
func (c *Controller) CreateOrderBuyMarket(instance *models.InstanceController, baseQuantity, price float64) *models.Order {
	c.mu.Lock()
	order := c.createOrder(instance, models.OrderSideBuy, models.OrderTypeMarket, baseQuantity, OrderOptions{Price: price})
	c.mu.Unlock()
	c.do(c.task(models.TaskTypePostOrder, order))
	return order
}

// CreateOrderSellMarket submits a market sell, optionally linked to the buy
// order it closes.
func (c *Controller) CreateOrderSellMarket(instance *models.InstanceController, baseQuantity, price float64, idOrderBuyed string) *models.Order {
	c.mu.Lock()
	order := c.createOrder(instance, models.OrderSideSell, models.OrderTypeMarket, baseQuantity, OrderOptions{Price: price, IDOrderBuyed: idOrderBuyed})
	c.mu.Unlock()
	c.do(c.task(models.TaskTypePostOrder, order))
	return order
}

// CreateOrderBuyLimit submits a limit buy.
func (c *Controller) CreateOrderBuyLimit(instance *models.InstanceController, baseQuantity, price float64) *models.Order {
	c.mu.Lock()
	order := c.createOrder(instance, models.OrderSideBuy, models.OrderTypeLimit, baseQuantity, OrderOptions{Price: price})
	c.mu.Unlock()
	c.do(c.task(models.TaskTypePostOrder, order))
	return order
}

// CreateOrderSellLimit submits a limit sell, optionally linked to the buy
// order it closes.
func (c *Controller) CreateOrderSellLimit(instance *models.InstanceController, baseQuantity, price float64, idOrderBuyed string) *models.Order {
	c.mu.Lock()
	order := c.createOrder(instance, models.OrderSideSell, models.OrderTypeLimit, baseQuantity, OrderOptions{Price: price, IDOrderBuyed: idOrderBuyed})
	c.mu.Unlock()
	c.do(c.task(models.TaskTypePostOrder, order))
	return order
}

// CancelOrder requests cancellation of one instance order.
func (c *Controller) CancelOrder(instance *models.InstanceController, order *models.Order) {
	c.do(c.task(models.TaskTypeCancelOrder, order))
}

// CancelInstanceOrders requests cancellation of every order of an instance,
// typically ahead of RemoveInstance.
func (c *Controller) CancelInstanceOrders(instance *models.InstanceController) {
	c.mu.Lock()
	orders := make([]*models.Order, len(instance.Orders))
	copy(orders, instance.Orders)
	c.mu.Unlock()
	for _, order := range orders {
		c.CancelOrder(instance, order)
	}
}

// createOrder requires c.mu held. Assigns the composite id, rounds the price
// to the symbol's precision, floors the quantity (routing the floored
// remainder into the balances) and registers the order on the instance.
func (c *Controller) createOrder(instance *models.InstanceController, side models.OrderSide, orderType models.OrderType, baseQuantity float64, opts OrderOptions) *models.Order {
	status := opts.Status
	if status == "" {
		status = models.OrderStatusPost
	}
	price := opts.Price
	if price != 0 {
		price = c.fixPrice(price)
	}
	if baseQuantity != 0 {
		baseQuantity = c.adjustQuantity(instance, baseQuantity)
	}
	order := &models.Order{
		ID:           c.generateOrderID(instance),
		Symbol:       c.symbol(),
		Side:         side,
		Type:         orderType,
		Status:       status,
		BaseQuantity: baseQuantity,
		Price:        price,
		StopPrice:    opts.StopPrice,
		IDOrderBuyed: opts.IDOrderBuyed,
		Created:      time.Now(),
	}
	instance.Orders = append(instance.Orders, order)
	return order
}

// adjustQuantity requires c.mu held. Floors the requested quantity to the
// symbol's quantity precision so the submitted amount never exceeds what the
// balance holds, and books the floored remainder into the instance, the
// controller and the market balances alike. Conservation:
// floored + remainder == requested.
func (c *Controller) adjustQuantity(instance *models.InstanceController, baseQuantity float64) float64 {
	base := c.baseAsset()
	adjusted := c.floorQuantity(baseQuantity)
	remainder := baseQuantity - adjusted
	if remainder > 0 {
		instanceBalance := instance.Balances.Get(base)
		controllerBalance := c.balances.Get(base)
		instanceBalance.Remainder = c.fixBase(instanceBalance.Remainder + remainder)
		controllerBalance.Remainder = c.fixBase(controllerBalance.Remainder + remainder)
		accountMarket := c.accountMarket()
		accountMarket.Lock()
		marketBalance := accountMarket.Balances.Get(base)
		marketBalance.Remainder = c.fixBase(marketBalance.Remainder + remainder)
		accountMarket.Unlock()
	}
	return adjusted
}

// generateOrderID requires c.mu held. Ids are monotonic per instance.
func (c *Controller) generateOrderID(instance *models.InstanceController) string {
	instance.LastOrderID++
	return models.OrderID{
		AccountID:  c.account.User.ID,
		StrategyID: c.strategy.ID,
		InstanceID: instance.ID,
		OrderID:    instance.LastOrderID,
	}.String()
}

// ---------------------------------------------------------------------------
// precision helpers
// ---------------------------------------------------------------------------

func (c *Controller) fixPrice(v float64) float64 {
	if c.marketSymbol == nil {
		return models.FixDecimals(v, 3)
	}
	return c.marketSymbol.FixPrice(v)
}

func (c *Controller) fixBase(v float64) float64 {
	if c.marketSymbol == nil {
		return models.FixDecimals(v, 8)
	}
	return c.marketSymbol.FixBase(v)
}

func (c *Controller) fixQuote(v float64) float64 {
	if c.marketSymbol == nil {
		return models.FixDecimals(v, 8)
	}
	return c.marketSymbol.FixQuote(v)
}

func (c *Controller) floorQuantity(v float64) float64 {
	if c.marketSymbol == nil {
		return (&models.MarketSymbol{}).FloorQuantity(v)
	}
	return c.marketSymbol.FloorQuantity(v)
}
