// Package worker relays audit outbox rows to Kafka.
package worker

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"efile/internal/platform/kafka"
	audit "efile/pkg/platform/audit"
	"efile/pkg/platform/audit/store/postgres"
)

// Outbox is the relay's view of the outbox store.
type Outbox interface {
	Relay(ctx context.Context, limit int, publish func(context.Context, []postgres.OutboxEntry) error) (int, error)
}

// Topics maps a category to its topic.
type Topics map[audit.EventCategory]string

func DefaultTopics() Topics {
	return Topics{
		audit.CategoryCompliance: "efile.audit.compliance",
		audit.CategorySecurity:   "efile.audit.security",
		audit.CategoryOperations: "efile.audit.operations",
	}
}

// Relay polls the outbox and produces each row to its category topic.
// Delivery is at-least-once; consumers dedupe on the event id in the payload.
type Relay struct {
	outbox    Outbox
	producer  kafka.Producer
	topics    Topics
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

func WithTopics(t Topics) Option {
	return func(r *Relay) { r.topics = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(outbox Outbox, producer kafka.Producer, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		topics:    DefaultTopics(),
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "audit_relay")
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another pass; otherwise the relay waits one interval.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
		}
		if n == r.batchSize && err == nil {
			timer.Reset(0)
		} else {
			timer.Reset(r.interval)
		}
	}
}

// RelayOnce publishes one batch and returns how many rows it covered.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.outbox.Relay(ctx, r.batchSize, func(ctx context.Context, entries []postgres.OutboxEntry) error {
		msgs := make([]kafka.Message, 0, len(entries))
		for _, e := range entries {
			topic, ok := r.topics[e.Category]
			if !ok {
				topic = r.topics[audit.CategoryOperations]
			}
			msgs = append(msgs, kafka.Message{
				Topic:   topic,
				Key:     []byte(e.AggregateID),
				Value:   e.Payload,
				Headers: map[string]string{"event_type": e.EventType},
			})
		}
		return r.producer.Produce(ctx, msgs...)
	})
}

// TopicNames lists every configured topic, for bootstrap.
func (t Topics) TopicNames() []string {
	return slices.Sorted(maps.Values(t))
}
