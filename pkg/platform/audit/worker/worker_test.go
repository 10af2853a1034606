package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/platform/kafka"
	audit "efile/pkg/platform/audit"
	"efile/pkg/platform/audit/store/postgres"
)

type fakeOutbox struct {
	pending   []postgres.OutboxEntry
	published int
}

func (o *fakeOutbox) Relay(ctx context.Context, limit int, publish func(context.Context, []postgres.OutboxEntry) error) (int, error) {
	batch := o.pending[:min(limit, len(o.pending))]
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}
	o.pending = o.pending[len(batch):]
	o.published += len(batch)
	return len(batch), nil
}

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) Produce(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestRelayOnceRoutesByCategory(t *testing.T) {
	outbox := &fakeOutbox{pending: []postgres.OutboxEntry{
		{AggregateID: "a", EventType: "submission_accepted", Category: audit.CategoryCompliance, Payload: []byte(`{}`)},
		{AggregateID: "b", EventType: "retry_scheduled", Category: audit.CategoryOperations, Payload: []byte(`{}`)},
		{AggregateID: "c", EventType: "credential_rotated", Category: audit.CategorySecurity, Payload: []byte(`{}`)},
		{AggregateID: "d", EventType: "odd", Category: "unknown", Payload: []byte(`{}`)},
	}}
	p := &captureProducer{}
	r := NewRelay(outbox, p, WithBatchSize(10))

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.Len(t, p.msgs, 4)
	assert.Equal(t, "efile.audit.compliance", p.msgs[0].Topic)
	assert.Equal(t, "efile.audit.operations", p.msgs[1].Topic)
	assert.Equal(t, "efile.audit.security", p.msgs[2].Topic)
	assert.Equal(t, "efile.audit.operations", p.msgs[3].Topic)
	assert.Equal(t, "a", string(p.msgs[0].Key))
	assert.Equal(t, "submission_accepted", p.msgs[0].Headers["event_type"])
}

func TestRelayOnceKeepsRowsWhenProduceFails(t *testing.T) {
	outbox := &fakeOutbox{pending: []postgres.OutboxEntry{{AggregateID: "a", Category: audit.CategoryCompliance}}}
	r := NewRelay(outbox, &captureProducer{err: errors.New("broker down")})

	_, err := r.RelayOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, outbox.pending, 1)
	assert.Zero(t, outbox.published)
}

func TestRelayBatches(t *testing.T) {
	outbox := &fakeOutbox{}
	for range 5 {
		outbox.pending = append(outbox.pending, postgres.OutboxEntry{Category: audit.CategoryOperations})
	}
	r := NewRelay(outbox, &captureProducer{}, WithBatchSize(2))

	var total int
	for {
		n, err := r.RelayOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, 5, total)
}

func TestTopicNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"efile.audit.compliance", "efile.audit.operations", "efile.audit.security"},
		DefaultTopics().TopicNames())
}
