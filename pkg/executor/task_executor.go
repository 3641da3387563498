// Package executor implements the rate-limited task queue every order
// operation flows through. A TaskExecutor admits tasks and executes at most
// MaxQuantity of them per Period, preserving the configured ordering policy;
// OrdersExecutor specializes it for the order traffic of one account/market.
package executor

import (
	"sort"
	"sync"
	"time"

	"github.com/tradeforge/execore/pkg/models"
)

type AddPolicy string

const (
	AddUnshift AddPolicy = "unshift"
	AddPush    AddPolicy = "push"
)

type ConsumePolicy string

const (
	ConsumeShift ConsumePolicy = "shift"
	ConsumePop   ConsumePolicy = "pop"
)

type RunMode string

const (
	RunSync  RunMode = "sync"
	RunAsync RunMode = "async"
)

// Options configure queue discipline and throughput. Add and Consume together
// define stack versus queue behavior: push+shift is FIFO, push+pop is LIFO.
type Options struct {
	Add     AddPolicy
	Consume ConsumePolicy
	Run     RunMode
	// Delay spaces consecutive tasks in sync mode.
	Delay time.Duration
	// MaxQuantity tasks may run per Period window.
	MaxQuantity int
	Period      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Add == "" {
		o.Add = AddPush
	}
	if o.Consume == "" {
		o.Consume = ConsumeShift
	}
	if o.Run == "" {
		o.Run = RunAsync
	}
	if o.MaxQuantity <= 0 {
		o.MaxQuantity = 1
	}
	if o.Period <= 0 {
		o.Period = time.Second
	}
	return o
}

// TaskExecutor drains a queue of T under a rolling quota. The exec callback
// must not block: network work belongs in goroutines it spawns. A non-nil
// error from exec is a programmer error (unhandled task type) and panics; it
// is never retried or swallowed.
type TaskExecutor[T any] struct {
	opts Options
	exec func(T) error
	// priority tasks are consumed before the rest of the queue, regardless of
	// arrival order (cancel-before-create).
	priority func(T) bool

	mu           sync.Mutex
	queue        []T
	countPeriod  int
	executing    bool
	intervalOn   bool
	ticker       *time.Ticker
	stopInterval chan struct{}
	pendingLimit *models.Limit
}

func New[T any](opts Options, exec func(T) error) *TaskExecutor[T] {
	return &TaskExecutor[T]{opts: opts.withDefaults(), exec: exec}
}

// WithPriority installs the predicate that promotes tasks ahead of the queue.
func (te *TaskExecutor[T]) WithPriority(priority func(T) bool) *TaskExecutor[T] {
	te.priority = priority
	return te
}

// Do admits a task and drains the queue as far as the current window allows.
// The refill interval is started lazily on the first task.
func (te *TaskExecutor[T]) Do(task T) {
	te.mu.Lock()
	te.addTask(task)
	if !te.intervalOn {
		te.startTasksInterval()
	}
	runnable := te.collectRunnable()
	te.mu.Unlock()
	te.runTasks(runnable)
}

// ConsumeQuota burns one slot of the current window for out-of-band work that
// shares the same rate limit (e.g. ad-hoc REST lookups).
func (te *TaskExecutor[T]) ConsumeQuota() {
	te.mu.Lock()
	te.countPeriod++
	te.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (te *TaskExecutor[T]) Pending() int {
	te.mu.Lock()
	defer te.mu.Unlock()
	return len(te.queue)
}

// MaxQuantity returns the current per-window quota.
func (te *TaskExecutor[T]) MaxQuantity() int {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.opts.MaxQuantity
}

// Period returns the current window length.
func (te *TaskExecutor[T]) Period() time.Duration {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.opts.Period
}

// UpdateLimit hot-swaps the quota. While tasks are queued or in flight the
// change is deferred to the next window boundary, so excess demand under a
// shrunk quota spills into subsequent windows instead of being rejected.
func (te *TaskExecutor[T]) UpdateLimit(limit models.Limit) {
	if limit.MaxQuantity <= 0 || limit.Period <= 0 {
		return
	}
	te.mu.Lock()
	defer te.mu.Unlock()
	if te.intervalOn && (len(te.queue) > 0 || te.executing) {
		te.pendingLimit = &limit
		return
	}
	te.applyLimit(limit)
}

// Stop cancels the refill interval. Queued tasks stay queued; a subsequent Do
// restarts draining.
func (te *TaskExecutor[T]) Stop() {
	te.mu.Lock()
	defer te.mu.Unlock()
	if te.intervalOn {
		te.stopTasksInterval()
	}
}

// applyLimit requires te.mu held.
func (te *TaskExecutor[T]) applyLimit(limit models.Limit) {
	te.opts.MaxQuantity = limit.MaxQuantity
	te.opts.Period = limit.Period
	if te.intervalOn {
		te.ticker.Reset(limit.Period)
	}
}

// addTask requires te.mu held.
func (te *TaskExecutor[T]) addTask(task T) {
	if te.opts.Add == AddUnshift {
		te.queue = append([]T{task}, te.queue...)
	} else {
		te.queue = append(te.queue, task)
	}
}

// consumeTask requires te.mu held and a non-empty queue.
func (te *TaskExecutor[T]) consumeTask() T {
	var task T
	if te.opts.Consume == ConsumePop {
		task = te.queue[len(te.queue)-1]
		te.queue = te.queue[:len(te.queue)-1]
	} else {
		task = te.queue[0]
		te.queue = te.queue[1:]
	}
	return task
}

// sortTasksByPriority requires te.mu held. Stable, so tasks of equal priority
// keep their arrival order.
func (te *TaskExecutor[T]) sortTasksByPriority() {
	if te.priority == nil {
		return
	}
	sort.SliceStable(te.queue, func(i, j int) bool {
		return te.priority(te.queue[i]) && !te.priority(te.queue[j])
	})
}

// collectRunnable consumes as many tasks as the window allows and returns
// them for execution outside the lock. Requires te.mu held. In sync mode at
// most one task is in flight at a time.
func (te *TaskExecutor[T]) collectRunnable() []T {
	var runnable []T
	for len(te.queue) > 0 && te.countPeriod < te.opts.MaxQuantity {
		if te.opts.Run == RunSync {
			if te.executing || len(runnable) > 0 {
				break
			}
			te.executing = true
		}
		te.sortTasksByPriority()
		te.countPeriod++
		runnable = append(runnable, te.consumeTask())
	}
	return runnable
}

func (te *TaskExecutor[T]) runTasks(tasks []T) {
	for _, task := range tasks {
		if te.opts.Run == RunSync {
			te.runSync(task)
		} else {
			te.runTask(task)
		}
	}
}

func (te *TaskExecutor[T]) runSync(task T) {
	go func() {
		te.runTask(task)
		if te.opts.Delay > 0 {
			time.Sleep(te.opts.Delay)
		}
		te.mu.Lock()
		te.executing = false
		runnable := te.collectRunnable()
		te.mu.Unlock()
		te.runTasks(runnable)
	}()
}

func (te *TaskExecutor[T]) runTask(task T) {
	if err := te.exec(task); err != nil {
		panic(err)
	}
}

// startTasksInterval requires te.mu held.
func (te *TaskExecutor[T]) startTasksInterval() {
	te.intervalOn = true
	te.ticker = time.NewTicker(te.opts.Period)
	te.stopInterval = make(chan struct{})
	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-ticker.C:
				te.processTasksInterval()
			case <-stop:
				return
			}
		}
	}(te.ticker, te.stopInterval)
}

// stopTasksInterval requires te.mu held. No idle timers: the interval dies as
// soon as a window opens on an empty queue.
func (te *TaskExecutor[T]) stopTasksInterval() {
	te.intervalOn = false
	te.ticker.Stop()
	close(te.stopInterval)
}

// processTasksInterval opens a new window: applies any deferred limit change,
// resets the consumed count and drains, or shuts the interval down when there
// is nothing left to do.
func (te *TaskExecutor[T]) processTasksInterval() {
	te.mu.Lock()
	if !te.intervalOn {
		te.mu.Unlock()
		return
	}
	if te.pendingLimit != nil {
		te.applyLimit(*te.pendingLimit)
		te.pendingLimit = nil
	}
	te.countPeriod = 0
	if len(te.queue) == 0 && !te.executing {
		te.stopTasksInterval()
		te.mu.Unlock()
		return
	}
	runnable := te.collectRunnable()
	te.mu.Unlock()
	te.runTasks(runnable)
}
