package exchange

import (
	"time"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/executor"
	"github.com/tradeforge/execore/pkg/models"
)

// defaultOrdersLimit caps order placement until the venue advertises its real
// trade quota.
var defaultOrdersLimit = models.Limit{Type: models.LimitTypeTrade, MaxQuantity: 5, Period: time.Second}

// OrdersExecutor throttles the order traffic of one controller to the venue's
// trade quota, in front of the exchange's shared request executor. It
// implements models.TaskDoer, so account markets hold it without knowing the
// exchange.
type OrdersExecutor struct {
	*executor.TaskExecutor[models.OrderTask]

	exchange  *Exchange
	accountID int
	strategy  *models.Strategy
	limitSub  *events.Subscription[models.Limit]
}

// NewOrdersExecutor wires a controller's order lane to the exchange.
// ordersPerSecond seeds the trade quota; zero keeps the default. The venue's
// current trade quota applies immediately when already known, and the executor
// tracks later quota changes until Close.
func NewOrdersExecutor(exchange *Exchange, accountID int, strategy *models.Strategy, ordersPerSecond int) *OrdersExecutor {
	oe := &OrdersExecutor{
		exchange:  exchange,
		accountID: accountID,
		strategy:  strategy,
	}
	seed := defaultOrdersLimit
	if ordersPerSecond > 0 {
		seed.MaxQuantity = ordersPerSecond
	}
	oe.TaskExecutor = executor.New(executor.Options{
		Run:         executor.RunAsync,
		MaxQuantity: seed.MaxQuantity,
		Period:      seed.Period,
	}, oe.executeTask).WithPriority(isCancelTask)
	if limit := exchange.CurrentOrdersLimit(); !limit.IsZero() {
		oe.UpdateLimit(limit)
	}
	oe.limitSub = exchange.OrdersLimitChanged().Subscribe(oe.UpdateLimit)
	return oe
}

func (oe *OrdersExecutor) AccountID() int { return oe.accountID }

func (oe *OrdersExecutor) StrategyID() int { return oe.strategy.ID }

// ControllerID is the "{accountId}-{strategyId}" prefix shared by every order
// this executor handles.
func (oe *OrdersExecutor) ControllerID() string {
	return models.OrderID{AccountID: oe.accountID, StrategyID: oe.strategy.ID}.ControllerID()
}

// executeTask forwards a drained task onto the exchange's request executor,
// which applies the venue request quota on top of this trade quota.
func (oe *OrdersExecutor) executeTask(task models.OrderTask) error {
	switch task.Type {
	case models.TaskTypeGetOrder:
		oe.exchange.GetOrder(task)
	case models.TaskTypePostOrder:
		oe.exchange.PostOrder(task)
	case models.TaskTypeCancelOrder:
		oe.exchange.CancelOrder(task)
	default:
		return models.TaskError(task.Type)
	}
	return nil
}

// Close releases the quota subscription and stops the refill interval. Queued
// tasks are abandoned.
func (oe *OrdersExecutor) Close() {
	oe.limitSub.Unsubscribe()
	oe.Stop()
}
