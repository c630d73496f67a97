package broker

import "context"

// Batch collects tasks submitted for one round so the caller can block on
// all of them at once. Tasks are queued as they are added; Wait is the
// fan-in barrier.
type Batch struct {
	b     *Broker
	tasks []*Task
}

func (b *Broker) NewBatch() *Batch {
	return &Batch{b: b}
}

// Add submits one task to the named function and tracks it for Wait.
func (bt *Batch) Add(name string, payload []byte) (*Task, error) {
	t, err := bt.b.Submit(name, payload)
	if err != nil {
		return nil, err
	}
	bt.tasks = append(bt.tasks, t)
	return t, nil
}

// Len reports the number of tracked tasks.
func (bt *Batch) Len() int { return len(bt.tasks) }

// Wait blocks until every tracked task has been handled or ctx is
// canceled. Individual task failures do not fail the barrier; inspect
// Task.Err for per-task outcomes.
func (bt *Batch) Wait(ctx context.Context) error {
	for _, t := range bt.tasks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Done():
		}
	}
	return nil
}
