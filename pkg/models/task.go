package models

type TaskType string

const (
	TaskTypeGetOrder    TaskType = "getOrder"
	TaskTypePostOrder   TaskType = "postOrder"
	TaskTypeCancelOrder TaskType = "cancelOrder"
)

// OrderTask is the unit of work flowing through every executor. Its shape is a
// boundary contract between controllers, order executors and the exchange, and
// must stay stable for interop with persisted or replayed task logs.
type OrderTask struct {
	Type TaskType      `json:"type"`
	Data OrderTaskData `json:"data"`
}

type OrderTaskData struct {
	Account      *Account `json:"account"`
	ControllerID string   `json:"controllerId"`
	Order        *Order   `json:"order"`
}

// TaskDoer enqueues order tasks. The account market's executor field is typed
// against this so the data model does not depend on the executor machinery.
type TaskDoer interface {
	Do(task OrderTask)
}
