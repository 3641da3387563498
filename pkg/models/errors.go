package models

import (
	"errors"
	"fmt"
)

// Configuration errors: programmer or adapter bugs, fatal and never retried.
var (
	ErrUnknownTaskType    = errors.New("unknown task type")
	ErrUnknownOrderStatus = errors.New("unimplemented order status")
)

// Precondition errors: surfaced at initialization, the controller forces
// itself off.
var (
	ErrTradingDisabled    = errors.New("trading disabled for account")
	ErrNoBalances         = errors.New("no balances retrieved for account market")
	ErrSymbolNotFound     = errors.New("symbol not found on exchange")
	ErrNoSimulatorSource  = errors.New("strategy has no simulator data source")
	ErrUnknownExchange    = errors.New("no gateway registered for exchange")
	ErrExchangeNotReady   = errors.New("exchange info not loaded yet")
	ErrControllerNotReady = errors.New("controller not ready to start")
)

// TaskError wraps a fatal task dispatch failure with the offending type.
func TaskError(t TaskType) error {
	return fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
}

// OrderStatusError wraps a fatal order-event dispatch failure.
func OrderStatusError(status OrderStatus, orderID string) error {
	return fmt.Errorf("%w: %q for order %s", ErrUnknownOrderStatus, status, orderID)
}
