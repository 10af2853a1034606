// Package publisher emits audit events to a Store, either synchronously
// (fail-closed) or through a bounded buffer drained by one goroutine.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "efile/pkg/domain"
	audit "efile/pkg/platform/audit"
	"efile/pkg/requestcontext"
)

// Metrics counts audit emission outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "efile_audit_events_emitted_total",
			Help: "Audit events persisted, by category",
		}, []string{"category"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "efile_audit_events_dropped_total",
			Help: "Audit events dropped because the async buffer was full",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "efile_audit_persist_failures_total",
			Help: "Audit events that could not be persisted",
		}),
	}
}

func (m *Metrics) incEmitted(c audit.EventCategory) {
	if m != nil {
		m.Emitted.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithAsyncBuffer switches to buffered emission. Emit never blocks; events
// that do not fit are dropped and counted.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit fills in ID, timestamp, category and request id, then persists the
// event. In synchronous mode a persistence failure is returned and the caller
// must fail its operation.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	if uuidZero(event.ID) {
		event.ID = id.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if p.buffer != nil {
		select {
		case p.buffer <- event:
		default:
			p.metrics.incDropped()
			p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		}
		return nil
	}
	return p.persist(ctx, event)
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.incPersistFailures()
		p.logger.ErrorContext(ctx, "audit persistence failed",
			"action", event.Action,
			"submission_id", event.SubmissionID.String(),
			"error", err,
		)
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	p.metrics.incEmitted(event.Category)
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		_ = p.persist(context.Background(), event)
	}
}

// List returns the events recorded for one submission.
func (p *Publisher) List(ctx context.Context, subID id.SubmissionID) ([]audit.Event, error) {
	return p.store.ListBySubmission(ctx, subID)
}

// Close drains any buffered events. Safe to call more than once.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
	return nil
}

func uuidZero(e id.EventID) bool {
	return e == id.EventID{}
}
