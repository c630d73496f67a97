// Package pool supervises the worker goroutines behind broker functions.
// It keeps an explicit registry of pool id -> worker handles so teardown
// and staleness checks never have to reconstruct ownership from function
// names.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"massmail/internal/broker"
)

// Handle is one live worker: a broker subscription bound to a goroutine.
type Handle struct {
	Function  string
	JobID     string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager spawns and reaps workers. All operations are best-effort: a
// worker or function that is already gone is not an error.
type Manager struct {
	broker *broker.Broker
	log    *zap.Logger

	mu    sync.Mutex
	pools map[string][]*Handle
}

func NewManager(b *broker.Broker, log *zap.Logger) *Manager {
	return &Manager{
		broker: b,
		log:    log,
		pools:  make(map[string][]*Handle),
	}
}

// Spawn registers function fn with the broker and starts a worker
// goroutine consuming it under the given pool. The function is registered
// before Spawn returns, so tasks submitted afterwards will be picked up;
// no settling delay is needed.
func (m *Manager) Spawn(ctx context.Context, poolID, jobID, fn string, h broker.Handler) error {
	sub, err := m.broker.Register(fn)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	handle := &Handle{
		Function:  fn,
		JobID:     jobID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.pools[poolID] = append(m.pools[poolID], handle)
	m.mu.Unlock()

	go func() {
		defer close(handle.done)
		sub.Run(wctx, h)
	}()

	m.log.Info("worker spawned",
		zap.String("pool", poolID),
		zap.String("function", fn),
	)
	return nil
}

// Shutdown terminates every worker of the pool and drops their broker
// functions. It does not wait for worker goroutines to exit, so a worker
// may tear down its own pool on the way out. Idempotent: a second call
// finds no registry entry and returns.
func (m *Manager) Shutdown(poolID string) {
	m.mu.Lock()
	handles := m.pools[poolID]
	delete(m.pools, poolID)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		m.broker.DropFunction(h.Function)
	}
	if len(handles) > 0 {
		m.log.Info("pool shut down",
			zap.String("pool", poolID),
			zap.Int("workers", len(handles)),
		)
	}
}

// ShutdownWorkers terminates only the named functions within the pool,
// leaving the rest of the pool standing. Used to reap one round's send
// workers while the orchestrator keeps running.
func (m *Manager) ShutdownWorkers(poolID string, fns []string) {
	drop := make(map[string]bool, len(fns))
	for _, fn := range fns {
		drop[fn] = true
	}

	m.mu.Lock()
	var kept, victims []*Handle
	for _, h := range m.pools[poolID] {
		if drop[h.Function] {
			victims = append(victims, h)
		} else {
			kept = append(kept, h)
		}
	}
	if len(kept) > 0 {
		m.pools[poolID] = kept
	} else if len(victims) > 0 {
		delete(m.pools, poolID)
	}
	m.mu.Unlock()

	for _, h := range victims {
		h.cancel()
		m.broker.DropFunction(h.Function)
	}
}

// DropIdleFunctions deregisters every broker function with an empty
// queue, nothing running and no workers attached.
func (m *Manager) DropIdleFunctions() {
	for _, st := range m.broker.Status() {
		if st.Queued == 0 && st.Running == 0 && st.Workers == 0 {
			m.broker.DropFunction(st.Name)
			m.log.Debug("idle function dropped", zap.String("function", st.Name))
		}
	}
}

// ReapStaleWorkers terminates every registered worker older than maxAge
// and drops its function. Staleness comes from the registry's StartedAt,
// not from parsing function names.
func (m *Manager) ReapStaleWorkers(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var victims []*Handle
	for poolID, handles := range m.pools {
		var kept []*Handle
		for _, h := range handles {
			if h.StartedAt.Before(cutoff) {
				victims = append(victims, h)
			} else {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(m.pools, poolID)
		} else {
			m.pools[poolID] = kept
		}
	}
	m.mu.Unlock()

	for _, h := range victims {
		h.cancel()
		m.broker.DropFunction(h.Function)
		m.log.Warn("stale worker reaped",
			zap.String("function", h.Function),
			zap.String("job_id", h.JobID),
			zap.Time("started_at", h.StartedAt),
		)
	}
	return len(victims)
}

// Status exposes the broker's function listing.
func (m *Manager) Status() []broker.FunctionStatus {
	return m.broker.Status()
}

// Wait blocks until every worker of the pool has exited, or ctx is done.
// Intended for tests and graceful shutdown.
func (m *Manager) Wait(ctx context.Context, poolID string) error {
	m.mu.Lock()
	handles := append([]*Handle(nil), m.pools[poolID]...)
	m.mu.Unlock()

	for _, h := range handles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
		}
	}
	return nil
}
