package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/amendment"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	original := id.NewSubmissionID()
	base := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	second := &amendment.Record{ID: id.NewAmendmentID(), OriginalID: original, SubmissionID: id.NewSubmissionID(), CreatedAt: base.Add(time.Hour)}
	first := &amendment.Record{
		ID:           id.NewAmendmentID(),
		OriginalID:   original,
		SubmissionID: id.NewSubmissionID(),
		Changes:      []amendment.Change{{Op: amendment.OpSet, Path: "ReturnData/IRS1040/Income/WagesAmt", Value: "1.00"}},
		Diff:         amendment.Entries{{Path: "ReturnData/IRS1040/Income/WagesAmt", Type: amendment.ValueChange, Original: "0.00", Amended: "1.00"}},
		CreatedAt:    base,
	}
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, &amendment.Record{ID: id.NewAmendmentID(), OriginalID: id.NewSubmissionID(), CreatedAt: base}))

	assert.ErrorIs(t, s.Save(ctx, first), sentinel.ErrConflict)

	got, err := s.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got.Changes[0].Value = "mutated"
	again, _ := s.Load(ctx, first.ID)
	assert.Equal(t, "1.00", again.Changes[0].Value)

	_, err = s.Load(ctx, id.NewAmendmentID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	list, err := s.ListByOriginal(ctx, original)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
