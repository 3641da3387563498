package exchange

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/gateway"
	"github.com/tradeforge/execore/pkg/models"
)

// partialOrder tracks an order while it sits in the partial state: the
// accumulated quantity, the volume-weighted average price and the debounce
// timer that finalizes the order as unsatisfied if no terminal event arrives.
type partialOrder struct {
	order       *models.Order
	accumulated float64
	avgPrice    float64
	count       int
	timer       *time.Timer
}

// GetOrder enqueues a fetch of one order from the venue.
func (e *Exchange) GetOrder(task models.OrderTask) { e.Do(task) }

// PostOrder enqueues an order submission.
func (e *Exchange) PostOrder(task models.OrderTask) { e.Do(task) }

// CancelOrder enqueues an order cancellation.
func (e *Exchange) CancelOrder(task models.OrderTask) { e.Do(task) }

// executeTask dispatches a drained task. An unrecognized type is a
// configuration error and fatal.
func (e *Exchange) executeTask(task models.OrderTask) error {
	switch task.Type {
	case models.TaskTypeGetOrder:
		e.getOrderTask(task)
	case models.TaskTypePostOrder:
		e.postOrderTask(task)
	case models.TaskTypeCancelOrder:
		e.cancelOrderTask(task)
	default:
		return models.TaskError(task.Type)
	}
	return nil
}

// getOrderTask fetches the order, appends it to the account market mirror and
// publishes it on the owning controller's channel so it can re-check its
// startup reconciliation.
func (e *Exchange) getOrderTask(task models.OrderTask) {
	account := task.Data.Account
	req := gateway.GetOrderRequest{
		Symbol:     task.Data.Order.Symbol,
		ID:         task.Data.Order.ID,
		ExchangeID: task.Data.Order.ExchangeID,
		Type:       task.Data.Order.Type,
	}
	go func() {
		order, err := e.api.GetOrder(e.ctx, req)
		if err != nil {
			e.log.WithError(err).WithField("order", req.ID).Error("Failed to get order")
			return
		}
		parsed, err := models.SplitOrderID(order.ID)
		if err != nil {
			e.log.WithError(err).WithField("order", order.ID).Error("Dropping order with malformed id")
			return
		}
		market := account.Market(e.market)
		market.Lock()
		market.Orders = append(market.Orders, order)
		snapshot := order.Clone()
		market.Unlock()
		e.mu.Lock()
		subject := e.orderEvents[parsed.ControllerID()]
		e.mu.Unlock()
		if subject != nil {
			subject.Publish(snapshot)
		}
	}()
}

// postOrderTask mirrors the order locally before the network call returns, so
// controller reconciliation sees it even if the venue confirmation races in
// later.
func (e *Exchange) postOrderTask(task models.OrderTask) {
	account := task.Data.Account
	mirrored := task.Data.Order.Clone()
	market := account.Market(e.market)
	market.Lock()
	market.Orders = append(market.Orders, mirrored)
	market.Unlock()
	req := gateway.PostOrderRequest{
		ID:           mirrored.ID,
		Side:         mirrored.Side,
		Type:         mirrored.Type,
		Symbol:       mirrored.Symbol,
		BaseQuantity: mirrored.BaseQuantity,
		Price:        mirrored.Price,
		StopPrice:    mirrored.StopPrice,
	}
	if e.market == models.MarketTypeFutures && mirrored.Type == models.OrderTypeStopMarket {
		req.ClosePosition = true
	}
	go func() {
		if _, err := e.api.PostOrder(e.ctx, req); err != nil {
			e.log.WithError(err).WithField("order", req.ID).Error("Failed to post order")
		}
	}()
}

// cancelOrderTask marks the mirrored order cancel synchronously, then issues
// the network cancel.
func (e *Exchange) cancelOrderTask(task models.OrderTask) {
	account := task.Data.Account
	order := task.Data.Order
	market := account.Market(e.market)
	market.Lock()
	if found := market.FindOrder(order.ID); found != nil {
		found.Status = models.OrderStatusCancel
	}
	market.Unlock()
	req := gateway.CancelOrderRequest{
		Symbol:     order.Symbol,
		ID:         order.ID,
		ExchangeID: order.ExchangeID,
		Type:       order.Type,
	}
	go func() {
		if _, err := e.api.CancelOrder(e.ctx, req); err != nil {
			e.log.WithError(err).WithField("order", req.ID).Error("Failed to cancel order")
		}
	}()
}

// ---------------------------------------------------------------------------
// order events
// ---------------------------------------------------------------------------

// OrderEvents returns the exclusive order channel of one controller, creating
// it on first use.
func (e *Exchange) OrderEvents(controllerID string) *events.Stream[*models.Order] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if subject, ok := e.orderEvents[controllerID]; ok {
		return subject
	}
	subject := events.NewStream[*models.Order]()
	e.orderEvents[controllerID] = subject
	return subject
}

// onOrderUpdate is the websocket entry point for order state changes. Events
// for orders absent from the mirror are dropped: during startup the mirror can
// legitimately lag local state. An unimplemented status is an adapter bug and
// fatal.
func (e *Exchange) onOrderUpdate(account *models.Account, eventOrder *models.Order) {
	switch eventOrder.Status {
	case models.OrderStatusNew, models.OrderStatusFilled, models.OrderStatusPartial,
		models.OrderStatusCanceled, models.OrderStatusExpired, models.OrderStatusRejected:
	default:
		panic(models.OrderStatusError(eventOrder.Status, eventOrder.ID))
	}
	parsed, err := models.SplitOrderID(eventOrder.ID)
	if err != nil {
		e.log.WithError(err).WithField("order", eventOrder.ID).Warn("Dropping order event with malformed id")
		return
	}
	market := account.Market(e.market)
	market.Lock()
	order := market.FindOrder(eventOrder.ID)
	if order == nil {
		market.Unlock()
		e.log.WithFields(logrus.Fields{"order": eventOrder.ID, "status": eventOrder.Status}).
			Warn("Dropping event for order unknown to the mirror")
		return
	}
	// Merge in place: the partialOrder record may hold this same instance and
	// must observe the update. Subscribers get a clone so later merges never
	// mutate an event they are still reading.
	order.Merge(eventOrder)
	snapshot := order.Clone()
	market.Unlock()
	if eventOrder.Status == models.OrderStatusPartial {
		e.mu.Lock()
		e.processPartialFilled(account, order, eventOrder.BaseQuantity, eventOrder.Price)
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	if eventOrder.Status == models.OrderStatusFilled {
		e.completePartialFilled(order)
	}
	subject := e.orderEvents[parsed.ControllerID()]
	e.mu.Unlock()
	if subject != nil {
		subject.Publish(snapshot)
	}
}

// processPartialFilled requires e.mu held. The first partial seeds the record;
// subsequent partials fold the tranche into the volume-weighted average price
// before growing the accumulated quantity. Every partial restarts the
// debounce timer.
func (e *Exchange) processPartialFilled(account *models.Account, order *models.Order, quantity, price float64) {
	partial, ok := e.partials[order.ID]
	if !ok {
		partial = &partialOrder{order: order, accumulated: quantity, avgPrice: price, count: 1}
		e.partials[order.ID] = partial
	} else {
		total := partial.accumulated + quantity
		partial.avgPrice = (partial.avgPrice*partial.accumulated + price*quantity) / total
		partial.accumulated = total
		partial.count++
	}
	if partial.timer != nil {
		partial.timer.Stop()
	}
	partial.timer = time.AfterFunc(e.partial, func() {
		e.notifyUnsatisfiedPartialOrder(account, order.ID)
	})
}

// completePartialFilled requires e.mu held. A terminal fill clears the pending
// record and cancels its timer so no unsatisfied synthesis can fire for a
// completed order.
func (e *Exchange) completePartialFilled(order *models.Order) {
	stored, ok := e.partials[order.ID]
	if !ok {
		return
	}
	if stored.timer != nil {
		stored.timer.Stop()
	}
	delete(e.partials, order.ID)
}

// notifyUnsatisfiedPartialOrder finalizes a stalled partial as unsatisfied and
// publishes it exactly once. The record is re-checked under e.mu because the
// timer can race a concurrent filled event; the mirror order itself is mutated
// under the market lock that owns it.
func (e *Exchange) notifyUnsatisfiedPartialOrder(account *models.Account, orderID string) {
	e.mu.Lock()
	partial, ok := e.partials[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.partials, orderID)
	order := partial.order
	parsed, err := models.SplitOrderID(order.ID)
	if err != nil {
		e.mu.Unlock()
		e.log.WithError(err).WithField("order", order.ID).Error("Cannot route unsatisfied order")
		return
	}
	subject := e.orderEvents[parsed.ControllerID()]
	e.mu.Unlock()
	quoteQuantity := e.fixQuote(partial.accumulated*partial.avgPrice, order.Symbol)
	market := account.Market(e.market)
	market.Lock()
	order.Status = models.OrderStatusUnsatisfied
	order.BaseQuantity = partial.accumulated
	order.Price = partial.avgPrice
	order.QuoteQuantity = quoteQuantity
	snapshot := order.Clone()
	market.Unlock()
	e.log.WithFields(logrus.Fields{
		"order":       order.ID,
		"accumulated": partial.accumulated,
		"avgPrice":    partial.avgPrice,
		"partials":    partial.count,
	}).Warn("Partial order stalled, finalized as unsatisfied")
	if subject != nil {
		subject.Publish(snapshot)
	}
}
