package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	id "efile/pkg/domain"
	audit "efile/pkg/platform/audit"
	"efile/pkg/platform/audit/store/memory"
	"efile/pkg/requestcontext"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subID := id.NewSubmissionID()
	err := pub.Emit(context.Background(), audit.Event{
		SubmissionID: subID,
		Action:       audit.ActionSubmissionAccepted,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSubmissionAccepted, events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEqual(t, id.EventID{}, events[0].ID)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	subID := id.NewSubmissionID()
	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			SubmissionID: subID,
			Action:       audit.ActionRetryScheduled,
		}))
	}
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close(), "second close is a no-op")

	events, err := store.ListBySubmission(context.Background(), subID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFullDropsAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	block := make(chan struct{})
	store := &blockingStore{release: block}
	pub := NewPublisher(store, WithAsyncBuffer(1), WithMetrics(m))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Event{Action: audit.ActionRetryScheduled})
		}()
	}
	wg.Wait()
	close(block)
	require.NoError(t, pub.Close())

	assert.Positive(t, testutil.ToFloat64(m.Dropped), "a one-slot buffer cannot hold ten events")
}

func TestPublisher_FailClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	pub := NewPublisher(failingStore{}, WithMetrics(m))

	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionSubmissionFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit persistence failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
}

func TestPublisher_RequiresAction(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	assert.Error(t, pub.Emit(context.Background(), audit.Event{}))
}

func TestPublisher_FillsTimestampAndRequestID(t *testing.T) {
	fixed := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	subID := id.NewSubmissionID()
	ctx := requestcontext.WithRequestID(context.Background(), "req-42")
	require.NoError(t, pub.Emit(ctx, audit.Event{SubmissionID: subID, Action: audit.ActionSubmissionCreated}))

	preset := fixed.Add(-time.Hour)
	require.NoError(t, pub.Emit(ctx, audit.Event{SubmissionID: subID, Action: audit.ActionSubmissionTransmitted, Timestamp: preset}))

	events, err := pub.List(ctx, subID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.Equal(t, preset, events[1].Timestamp, "existing timestamp preserved")
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }
func (failingStore) ListBySubmission(context.Context, id.SubmissionID) ([]audit.Event, error) {
	return nil, nil
}

type blockingStore struct {
	release chan struct{}
}

func (s *blockingStore) Append(context.Context, audit.Event) error {
	<-s.release
	return nil
}

func (s *blockingStore) ListBySubmission(context.Context, id.SubmissionID) ([]audit.Event, error) {
	return nil, nil
}
