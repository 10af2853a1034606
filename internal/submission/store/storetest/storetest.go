// Package storetest is the behavioural contract every submission store must
// satisfy. Store packages run it against their own implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/forms"
	"efile/internal/signer"
	"efile/internal/submission/models"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
)

// Store is the repository contract under test.
type Store interface {
	Save(ctx context.Context, rec *models.Submission) error
	Load(ctx context.Context, subID id.SubmissionID) (*models.Submission, error)
	UpdateStatus(ctx context.Context, rec *models.Submission, from models.Status) error
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Submission, error)
}

var base = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

// Sample returns a PENDING record created at base+offset.
func Sample(offset time.Duration) *models.Submission {
	created := base.Add(offset)
	prev := id.NewSubmissionID()
	rec := &models.Submission{
		ID:         id.NewSubmissionID(),
		FormType:   forms.Form1040,
		TaxYear:    2024,
		XMLContent: []byte(`<Return><ReturnHeader/></Return>`),
		Envelope: signer.Envelope{
			Document:    []byte(`<Return/>`),
			Signature:   []byte{0x01, 0x02, 0x03},
			Certificate: []byte{0x30, 0x82},
		},
		ResubmissionOf: &prev,
		CreatedAt:      created,
	}
	rec.Record(models.HistoryEntry{Type: models.EventCreated, ToStatus: models.StatusPending, Timestamp: created})
	return rec
}

// Run exercises newStore, which must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	opts := cmp.Options{cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(time.Microsecond)}

	t.Run("save and load round trip", func(t *testing.T) {
		s := newStore(t)
		rec := Sample(0)
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(rec, got, opts); diff != "" {
			t.Fatalf("loaded record differs (-want +got):\n%s", diff)
		}
	})

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, id.NewSubmissionID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("duplicate save conflicts", func(t *testing.T) {
		s := newStore(t)
		rec := Sample(0)
		require.NoError(t, s.Save(ctx, rec))
		assert.ErrorIs(t, s.Save(ctx, rec), sentinel.ErrConflict)
	})

	t.Run("update status compare and set", func(t *testing.T) {
		s := newStore(t)
		rec := Sample(0)
		require.NoError(t, s.Save(ctx, rec))

		next := rec.Clone()
		retryAt := base.Add(5 * time.Second)
		next.RetryCount = 1
		next.TransmissionAttempts = 1
		next.NextAttemptAt = &retryAt
		next.ErrorDetails = &models.ErrorDetails{Type: "transmission_failure", Category: "SUBMISSION", Severity: "HIGH", Message: "reset", Retryable: true}
		next.Record(models.HistoryEntry{Type: models.EventFailure, ToStatus: models.StatusError, Timestamp: base.Add(time.Second), Detail: "reset"})
		require.NoError(t, s.UpdateStatus(ctx, next, models.StatusPending))

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(next, got, opts); diff != "" {
			t.Fatalf("updated record differs (-want +got):\n%s", diff)
		}

		stale := rec.Clone()
		stale.Record(models.HistoryEntry{Type: models.EventTransmitted, ToStatus: models.StatusTransmitted, Timestamp: base.Add(2 * time.Second)})
		assert.ErrorIs(t, s.UpdateStatus(ctx, stale, models.StatusPending), sentinel.ErrConflict)

		got, err = s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, got.Status, "losing writer changes nothing")
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateStatus(ctx, Sample(0), models.StatusPending)
		assert.Error(t, err)
	})

	t.Run("list by status ordered and limited", func(t *testing.T) {
		s := newStore(t)
		var pending []*models.Submission
		for i := range 4 {
			rec := Sample(time.Duration(3-i) * time.Minute)
			require.NoError(t, s.Save(ctx, rec))
			pending = append(pending, rec)
		}
		moved := pending[0].Clone()
		moved.Record(models.HistoryEntry{Type: models.EventCancelled, ToStatus: models.StatusCancelled, Timestamp: base.Add(time.Hour)})
		require.NoError(t, s.UpdateStatus(ctx, moved, models.StatusPending))

		got, err := s.ListByStatus(ctx, models.StatusPending, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, pending[3].ID, got[0].ID, "oldest first")
		assert.Equal(t, pending[1].ID, got[2].ID)

		limited, err := s.ListByStatus(ctx, models.StatusPending, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		cancelled, err := s.ListByStatus(ctx, models.StatusCancelled, 10)
		require.NoError(t, err)
		require.Len(t, cancelled, 1)
		assert.Equal(t, moved.ID, cancelled[0].ID)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		rec := Sample(0)
		require.NoError(t, s.Save(ctx, rec))
		rec.XMLContent[0] = 'X'

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, byte('<'), got.XMLContent[0])
	})
}
