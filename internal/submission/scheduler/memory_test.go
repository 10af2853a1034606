package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	id "efile/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	ids  []id.SubmissionID
	done chan struct{}
}

func newRecorder(expected int) *recorder {
	return &recorder{done: make(chan struct{}, expected)}
}

func (r *recorder) handle(_ context.Context, subID id.SubmissionID) {
	r.mu.Lock()
	r.ids = append(r.ids, subID)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) seen() []id.SubmissionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]id.SubmissionID(nil), r.ids...)
}

func TestMemoryRunsAtScheduledTime(t *testing.T) {
	rec := newRecorder(1)
	m := NewMemory(rec.handle)
	defer m.Close()

	subID := id.NewSubmissionID()
	require.NoError(t, m.Schedule(context.Background(), subID, time.Now().Add(10*time.Millisecond)))
	assert.Equal(t, 1, m.Pending())

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never ran")
	}
	assert.Equal(t, []id.SubmissionID{subID}, rec.seen())
	assert.Equal(t, 0, m.Pending())
}

func TestMemoryPastTimeRunsImmediately(t *testing.T) {
	rec := newRecorder(1)
	m := NewMemory(rec.handle)
	defer m.Close()

	require.NoError(t, m.Schedule(context.Background(), id.NewSubmissionID(), time.Now().Add(-time.Hour)))
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue retry never ran")
	}
}

func TestMemoryRescheduleReplaces(t *testing.T) {
	rec := newRecorder(2)
	m := NewMemory(rec.handle)
	defer m.Close()

	subID := id.NewSubmissionID()
	require.NoError(t, m.Schedule(context.Background(), subID, time.Now().Add(time.Hour)))
	require.NoError(t, m.Schedule(context.Background(), subID, time.Now().Add(5*time.Millisecond)))
	assert.Equal(t, 1, m.Pending())

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("rescheduled retry never ran")
	}
	assert.Len(t, rec.seen(), 1)
}

func TestMemoryCancelAndClose(t *testing.T) {
	rec := newRecorder(1)
	m := NewMemory(rec.handle)

	cancelled := id.NewSubmissionID()
	require.NoError(t, m.Schedule(context.Background(), cancelled, time.Now().Add(20*time.Millisecond)))
	require.NoError(t, m.Cancel(context.Background(), cancelled))
	require.NoError(t, m.Schedule(context.Background(), id.NewSubmissionID(), time.Now().Add(time.Hour)))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Empty(t, rec.seen())
	assert.ErrorIs(t, m.Schedule(context.Background(), id.NewSubmissionID(), time.Now()), ErrClosed)
}
