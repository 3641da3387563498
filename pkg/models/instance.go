package models

import "time"

// InstanceController is one strategy position slot: it owns its orders and its
// share of the controller balances. LastOrderID is monotonic per instance and
// seeds order-id generation.
type InstanceController struct {
	ID          int        `json:"id"`
	Created     time.Time  `json:"created"`
	Updated     time.Time  `json:"updated"`
	LastOrderID int        `json:"lastOrderId"`
	Orders      []*Order   `json:"orders"`
	Balances    BalanceSet `json:"balances"`
}

// FindOrder returns the instance order with the given id, or nil.
func (ic *InstanceController) FindOrder(id string) *Order {
	for _, o := range ic.Orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}
