package models

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderID is the parsed form of the composite client order id. The string
// format "{accountId}-{strategyId}-{instanceId}-{orderId}[-{ocoId}]" is
// persisted and replayed, so separator and segment semantics are frozen.
type OrderID struct {
	AccountID  int
	StrategyID int
	InstanceID int
	OrderID    int
	OCOID      string
}

func (id OrderID) String() string {
	s := fmt.Sprintf("%d-%d-%d-%d", id.AccountID, id.StrategyID, id.InstanceID, id.OrderID)
	if id.OCOID != "" {
		s += "-" + id.OCOID
	}
	return s
}

// ControllerID returns the "{accountId}-{strategyId}" prefix that routes order
// events to the owning controller.
func (id OrderID) ControllerID() string {
	return fmt.Sprintf("%d-%d", id.AccountID, id.StrategyID)
}

// SplitOrderID parses a composite order id. The round trip through String is
// lossless for the first four segments.
func SplitOrderID(id string) (OrderID, error) {
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return OrderID{}, fmt.Errorf("malformed order id %q: want at least 4 segments", id)
	}
	nums := make([]int, 4)
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return OrderID{}, fmt.Errorf("malformed order id %q: segment %d: %w", id, i, err)
		}
		nums[i] = n
	}
	parsed := OrderID{AccountID: nums[0], StrategyID: nums[1], InstanceID: nums[2], OrderID: nums[3]}
	if len(parts) > 4 {
		parsed.OCOID = parts[4]
	}
	return parsed, nil
}

// NormalizeOrderID strips the optional oco suffix, leaving the four segments
// shared by both legs of an oco pair.
func NormalizeOrderID(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) <= 4 {
		return id
	}
	return strings.Join(parts[:4], "-")
}

// FindOtherOCO returns the sibling of an oco order among the orders of one
// instance. An instance holds at most the two legs, so any other id is the
// sibling.
func FindOtherOCO(orders []*Order, id string) *Order {
	for _, o := range orders {
		if o.ID != id {
			return o
		}
	}
	return nil
}
