// Package scheduler runs submission retries at their scheduled time as fresh
// units of work. No lock is held while a retry waits.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "efile/pkg/domain"
)

// Handler runs one retry.
type Handler func(ctx context.Context, subID id.SubmissionID)

// Memory schedules retries with time.AfterFunc. Scheduled retries do not
// survive a restart; the tracker's RetryDue sweep covers that.
type Memory struct {
	handler Handler
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[id.SubmissionID]*time.Timer
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type MemoryOption func(*Memory)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

func NewMemory(handler Handler, opts ...MemoryOption) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		handler: handler,
		now:     time.Now,
		logger:  slog.Default(),
		timers:  make(map[id.SubmissionID]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schedule replaces any retry already scheduled for subID.
func (m *Memory) Schedule(_ context.Context, subID id.SubmissionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.stopLocked(subID)

	var timer *time.Timer
	m.wg.Add(1)
	timer = time.AfterFunc(max(at.Sub(m.now()), 0), func() {
		defer m.wg.Done()
		m.mu.Lock()
		if m.timers[subID] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.timers, subID)
		m.mu.Unlock()
		m.handler(m.ctx, subID)
	})
	m.timers[subID] = timer
	return nil
}

func (m *Memory) Cancel(_ context.Context, subID id.SubmissionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(subID)
	return nil
}

func (m *Memory) stopLocked(subID id.SubmissionID) {
	t, ok := m.timers[subID]
	if !ok {
		return
	}
	delete(m.timers, subID)
	if t.Stop() {
		m.wg.Done()
	}
}

// Pending reports how many retries are waiting.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close drops waiting retries and waits for running ones.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for subID := range m.timers {
		m.stopLocked(subID)
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}
