// Package broker is an in-process queue broker. Workers register named
// functions and consume their task queues through subscriptions; clients
// submit tasks either fire-and-forget or batched behind a fan-in barrier.
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Handler processes one task. A non-nil error marks the task failed;
// batch waiters still observe it as complete.
type Handler func(ctx context.Context, t *Task) error

// Task is one unit of work queued against a function.
type Task struct {
	Function string
	Payload  []byte

	done chan struct{}
	err  error
}

// Done is closed once the task has been handled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the handler error, valid after Done is closed.
func (t *Task) Err() error { return t.err }

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// FunctionStatus is one row of the broker status report.
type FunctionStatus struct {
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
	Workers int    `json:"workers"`
}

type function struct {
	name    string
	tasks   chan *Task
	running atomic.Int64
	workers atomic.Int64
}

// Broker routes tasks to registered functions. The zero value is not
// usable; construct with New.
type Broker struct {
	capacity int

	mu        sync.Mutex
	functions map[string]*function
}

// New returns a broker whose per-function queues hold up to capacity
// pending tasks.
func New(capacity int) *Broker {
	if capacity < 1 {
		capacity = 1
	}
	return &Broker{
		capacity:  capacity,
		functions: make(map[string]*function),
	}
}

// Register creates the named function if needed and returns a subscription
// consuming its queue. Multiple subscriptions per function are allowed.
func (b *Broker) Register(name string) (*Subscription, error) {
	if name == "" {
		return nil, fmt.Errorf("broker: function name cannot be empty")
	}
	b.mu.Lock()
	fn, ok := b.functions[name]
	if !ok {
		fn = &function{name: name, tasks: make(chan *Task, b.capacity)}
		b.functions[name] = fn
	}
	b.mu.Unlock()

	fn.workers.Add(1)
	return &Subscription{fn: fn}, nil
}

// Submit queues one task for the named function without waiting for
// completion. It fails when the function is unknown or its queue is full.
func (b *Broker) Submit(name string, payload []byte) (*Task, error) {
	b.mu.Lock()
	fn, ok := b.functions[name]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("broker: unknown function %q", name)
	}

	t := &Task{Function: name, Payload: payload, done: make(chan struct{})}
	select {
	case fn.tasks <- t:
		return t, nil
	default:
		return nil, fmt.Errorf("broker: queue full for function %q", name)
	}
}

// DropFunction deregisters the named function. Pending tasks are finished
// with an error so no barrier waits on them forever. Dropping an unknown
// function is a no-op.
func (b *Broker) DropFunction(name string) {
	b.mu.Lock()
	fn, ok := b.functions[name]
	if ok {
		delete(b.functions, name)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	for {
		select {
		case t := <-fn.tasks:
			t.finish(fmt.Errorf("broker: function %q dropped", name))
		default:
			return
		}
	}
}

// Status lists every registered function with its queue depth, running
// task count and worker count, sorted by name.
func (b *Broker) Status() []FunctionStatus {
	b.mu.Lock()
	out := make([]FunctionStatus, 0, len(b.functions))
	for _, fn := range b.functions {
		out = append(out, FunctionStatus{
			Name:    fn.name,
			Queued:  len(fn.tasks),
			Running: int(fn.running.Load()),
			Workers: int(fn.workers.Load()),
		})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscription consumes one function's task queue.
type Subscription struct {
	fn     *function
	closed atomic.Bool
}

// Run handles tasks until ctx is canceled. Handler panics do not kill the
// subscription; the task is finished with an error instead.
func (s *Subscription) Run(ctx context.Context, h Handler) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.fn.tasks:
			s.fn.running.Add(1)
			t.finish(s.handle(ctx, h, t))
			s.fn.running.Add(-1)
		}
	}
}

func (s *Subscription) handle(ctx context.Context, h Handler, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broker: handler panic on %q: %v", t.Function, r)
		}
	}()
	return h(ctx, t)
}

// Close releases the subscription's worker slot. Safe to call more than
// once; Run calls it on return.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.fn.workers.Add(-1)
	}
}
