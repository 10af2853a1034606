package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"efile/internal/alerting"
	"efile/internal/forms"
	"efile/internal/submission/models"
	"efile/internal/submission/service"
	"efile/internal/submission/service/mocks"
	"efile/internal/submission/store/memory"
	id "efile/pkg/domain"
)

func TestPollerAppliesReadyAcknowledgments(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	now := time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	svc := service.New(memory.NewInMemoryStore(), transport,
		service.WithAlerter(&alerting.Recorder{}),
		service.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{Accepted: true}, nil).Times(3)
	var ids []id.SubmissionID
	for range 3 {
		rec, err := svc.Create(ctx, service.CreateRequest{FormType: forms.Form1040})
		require.NoError(t, err)
		_, err = svc.Transmit(ctx, rec.ID)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	ack := func(subID id.SubmissionID) []byte {
		return models.Acknowledgment{Status: models.AckAccepted, SubmissionID: subID.String()}.Marshal()
	}
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), ids[0]).Return(ack(ids[0]), true, nil)
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), ids[1]).Return(nil, false, nil)
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), ids[2]).Return(nil, false, errors.New("unreachable"))

	poller := service.NewPoller(svc, service.WithPollWorkers(2))
	applied, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	for i, want := range []models.Status{models.StatusAccepted, models.StatusTransmitted, models.StatusTransmitted} {
		rec, err := svc.Get(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status)
	}
}

func TestPollerSurvivesPanicsAndIndentedAcknowledgments(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	svc := service.New(memory.NewInMemoryStore(), transport, service.WithAlerter(&alerting.Recorder{}))
	ctx := context.Background()

	transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{Accepted: true}, nil).Times(2)
	var ids []id.SubmissionID
	for range 2 {
		rec, err := svc.Create(ctx, service.CreateRequest{FormType: forms.Form1040})
		require.NoError(t, err)
		_, err = svc.Transmit(ctx, rec.ID)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	indented := "<Acknowledgment>\n  <Status>ACCEPTED</Status>\n  <SubmissionId>" + ids[0].String() + "</SubmissionId>\n</Acknowledgment>\n"
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), ids[0]).Return([]byte(indented), true, nil)
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), ids[1]).
		DoAndReturn(func(context.Context, id.SubmissionID) ([]byte, bool, error) { panic("decoder exploded") }).
		Times(2)

	poller := service.NewPoller(svc, service.WithPollWorkers(1))
	applied, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	got, err := svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	got, err = svc.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransmitted, got.Status)
}

func TestPollerRetriesDueWithoutScheduler(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	now := time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	svc := service.New(memory.NewInMemoryStore(), transport,
		service.WithAlerter(&alerting.Recorder{}),
		service.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	rec, err := svc.Create(ctx, service.CreateRequest{FormType: forms.Form1040})
	require.NoError(t, err)
	gomock.InOrder(
		transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{}, errors.New("reset")),
		transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{Accepted: true}, nil),
	)
	_, _ = svc.Transmit(ctx, rec.ID)

	now = now.Add(time.Minute)
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), rec.ID).Return(nil, false, nil)
	_, err = service.NewPoller(svc).PollOnce(ctx)
	require.NoError(t, err)

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransmitted, got.Status)
}

type fakeLock struct {
	held     bool
	keys     []string
	released int
}

func (l *fakeLock) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestPollerSkipsCycleWhenLockIsHeldElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	svc := service.New(memory.NewInMemoryStore(), transport, service.WithAlerter(&alerting.Recorder{}))
	ctx := context.Background()

	transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{Accepted: true}, nil)
	rec, err := svc.Create(ctx, service.CreateRequest{FormType: forms.Form1040})
	require.NoError(t, err)
	_, err = svc.Transmit(ctx, rec.ID)
	require.NoError(t, err)

	lock := &fakeLock{held: true}
	poller := service.NewPoller(svc, service.WithPollLock(lock))
	applied, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	lock.held = false
	transport.EXPECT().FetchAcknowledgment(gomock.Any(), rec.ID).Return(nil, false, nil)
	_, err = poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{service.PollLockKey, service.PollLockKey}, lock.keys)
	assert.Equal(t, 1, lock.released)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := service.New(memory.NewInMemoryStore(), mocks.NewMockTransport(ctrl))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.NewPoller(svc, service.WithPollInterval(time.Millisecond)).Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
