package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWorker(t *testing.T, b *Broker, name string, h Handler) context.CancelFunc {
	t.Helper()
	sub, err := b.Register(name)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sub.Run(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return cancel
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
		return nil
	}
}

func TestSubmitAndHandle(t *testing.T) {
	b := New(8)

	var got atomic.Value
	runWorker(t, b, "fn", func(ctx context.Context, task *Task) error {
		got.Store(string(task.Payload))
		return nil
	})

	task, err := b.Submit("fn", []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, "hello", got.Load())
}

func TestSubmitUnknownFunction(t *testing.T) {
	b := New(8)
	_, err := b.Submit("nope", nil)
	assert.Error(t, err)
}

func TestSubmitQueueFull(t *testing.T) {
	b := New(1)
	// Registered but never consumed, so the second submit has no room.
	_, err := b.Register("fn")
	require.NoError(t, err)

	_, err = b.Submit("fn", []byte("a"))
	require.NoError(t, err)
	_, err = b.Submit("fn", []byte("b"))
	assert.Error(t, err)
}

func TestHandlerErrorReachesWaiter(t *testing.T) {
	b := New(8)
	boom := errors.New("boom")
	runWorker(t, b, "fn", func(ctx context.Context, task *Task) error {
		return boom
	})

	task, err := b.Submit("fn", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, waitTask(t, task), boom)
}

func TestHandlerPanicBecomesError(t *testing.T) {
	b := New(8)
	runWorker(t, b, "fn", func(ctx context.Context, task *Task) error {
		panic("kaboom")
	})

	task, err := b.Submit("fn", nil)
	require.NoError(t, err)
	assert.Error(t, waitTask(t, task))
}

func TestBatchWaitBlocksUntilAllDone(t *testing.T) {
	b := New(64)

	var handled atomic.Int64
	for _, fn := range []string{"fn-1", "fn-2", "fn-3"} {
		runWorker(t, b, fn, func(ctx context.Context, task *Task) error {
			time.Sleep(time.Millisecond)
			handled.Add(1)
			return nil
		})
	}

	batch := b.NewBatch()
	for i := 0; i < 12; i++ {
		fn := []string{"fn-1", "fn-2", "fn-3"}[i%3]
		_, err := batch.Add(fn, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.Equal(t, 12, batch.Len())

	require.NoError(t, batch.Wait(context.Background()))
	assert.Equal(t, int64(12), handled.Load())
}

func TestBatchWaitToleratesTaskErrors(t *testing.T) {
	b := New(8)
	runWorker(t, b, "fn", func(ctx context.Context, task *Task) error {
		return errors.New("per-task failure")
	})

	batch := b.NewBatch()
	for i := 0; i < 3; i++ {
		_, err := batch.Add("fn", nil)
		require.NoError(t, err)
	}
	// Individual failures are outcomes, not barrier errors.
	assert.NoError(t, batch.Wait(context.Background()))
}

func TestBatchWaitHonorsContext(t *testing.T) {
	b := New(8)
	// No worker consumes fn, so the batch can never finish.
	_, err := b.Register("fn")
	require.NoError(t, err)

	batch := b.NewBatch()
	_, err = batch.Add("fn", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, batch.Wait(ctx))
}

func TestDropFunctionFailsPending(t *testing.T) {
	b := New(8)
	_, err := b.Register("fn")
	require.NoError(t, err)

	task, err := b.Submit("fn", nil)
	require.NoError(t, err)

	b.DropFunction("fn")
	assert.Error(t, waitTask(t, task))

	_, err = b.Submit("fn", nil)
	assert.Error(t, err, "dropped function no longer accepts tasks")
}

func TestStatusReportsFunctions(t *testing.T) {
	b := New(8)
	runWorker(t, b, "b-fn", func(ctx context.Context, task *Task) error { return nil })
	_, err := b.Register("a-fn")
	require.NoError(t, err)

	_, err = b.Submit("a-fn", nil)
	require.NoError(t, err)

	st := b.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "a-fn", st[0].Name, "status is sorted by name")
	assert.Equal(t, 1, st[0].Queued)
	assert.Equal(t, 1, st[0].Workers)
	assert.Equal(t, "b-fn", st[1].Name)
	assert.Equal(t, 1, st[1].Workers)
}

func TestRegisterSecondSubscription(t *testing.T) {
	b := New(8)
	_, err := b.Register("fn")
	require.NoError(t, err)
	sub, err := b.Register("fn")
	require.NoError(t, err)

	st := b.Status()
	require.Len(t, st, 1)
	assert.Equal(t, 2, st[0].Workers)

	sub.Close()
	sub.Close() // idempotent
	assert.Equal(t, 1, b.Status()[0].Workers)
}

func TestRegisterEmptyName(t *testing.T) {
	b := New(8)
	_, err := b.Register("")
	assert.Error(t, err)
}
