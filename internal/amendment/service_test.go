package amendment_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"efile/internal/amendment"
	"efile/internal/amendment/store/memory"
	"efile/internal/consistency"
	"efile/internal/credential"
	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/forms/formstest"
	"efile/internal/optimizer"
	"efile/internal/pipeline"
	"efile/internal/retry"
	"efile/internal/schema"
	"efile/internal/signer"
	"efile/internal/submission/models"
	"efile/internal/submission/service"
	"efile/internal/submission/service/mocks"
	submissions "efile/internal/submission/store/memory"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

type AmendmentSuite struct {
	suite.Suite
	ctx       context.Context
	creds     *credential.Manager
	registry  *schema.Registry
	transport *mocks.MockTransport
	tracker   *service.Service
	store     *memory.Store
	filer     *pipeline.Pipeline
	svc       *amendment.Service
	now       time.Time
}

func TestAmendmentSuite(t *testing.T) {
	suite.Run(t, new(AmendmentSuite))
}

func (s *AmendmentSuite) SetupSuite() {
	s.ctx = context.Background()
	s.creds = credential.NewManager(filepath.Join(s.T().TempDir(), "keys"))
	_, err := s.creds.Initialize(s.ctx)
	s.Require().NoError(err)
	s.registry, err = schema.New(s.ctx)
	s.Require().NoError(err)
	s.now = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
}

func (s *AmendmentSuite) SetupTest() {
	s.transport = mocks.NewMockTransport(gomock.NewController(s.T()))
	s.transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).
		Return(models.Handoff{Accepted: true, Reference: "MEF-1"}, nil).AnyTimes()
	s.tracker = service.New(submissions.NewInMemoryStore(), s.transport)

	calc := consistency.New()
	p, err := pipeline.New(pipeline.Deps{
		Forms:       forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock })),
		Schemas:     s.registry,
		Calculator:  calc,
		Optimizer:   optimizer.New(),
		Signer:      signer.New(),
		Credentials: s.creds,
		Tracker:     s.tracker,
	})
	s.Require().NoError(err)
	s.store = memory.New()
	s.svc = amendment.New(s.tracker, p, s.registry, calc, s.store, amendment.WithClock(func() time.Time { return s.now }))
	s.filer = p
}

// accepted files the self-employed return and has MeF accept it.
func (s *AmendmentSuite) accepted() id.SubmissionID {
	sc := formstest.SelfEmployed()
	res := s.filer.Submit(s.ctx, pipeline.Request{TaxYear: formstest.TaxYear, Primary: sc.Primary, Attachments: sc.Attachments})
	s.Require().Equal(models.StatusTransmitted, res.Status, "%+v", res.Errors)

	ack := models.Acknowledgment{Status: models.AckAccepted, Timestamp: s.now, SubmissionID: res.SubmissionID.String()}.Marshal()
	rec, err := s.tracker.ProcessAcknowledgment(s.ctx, res.SubmissionID, ack)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusAccepted, rec.Status)
	return res.SubmissionID
}

const addressPath = "ReturnData/IRS1040/Filer/USAddress/AddressLine1Txt"

func (s *AmendmentSuite) TestOneChangedFieldGivesOneValueChange() {
	original := s.accepted()

	rec, err := s.svc.CreateAmendment(s.ctx, original, []amendment.Change{
		{Op: amendment.OpSet, Path: addressPath, Value: "2 Analytical Way"},
	})
	s.Require().NoError(err)

	s.Equal(1, rec.Diff.Count(amendment.ValueChange))
	s.Zero(rec.Diff.Count(amendment.StructureChange))
	s.Equal(amendment.Entry{
		Path:     addressPath,
		Type:     amendment.ValueChange,
		Original: "1 Analytical Way",
		Amended:  "2 Analytical Way",
	}, rec.Diff[0])
	s.Equal(original, rec.OriginalID)
	s.Equal(s.now, rec.CreatedAt)

	filed, err := s.tracker.Get(s.ctx, rec.SubmissionID)
	s.Require().NoError(err)
	s.Equal(models.StatusTransmitted, filed.Status)
	s.Require().NotNil(filed.AmendmentOf)
	s.Equal(original, *filed.AmendmentOf)

	root, err := document.Parse(filed.XMLContent)
	s.Require().NoError(err)
	ind, _ := root.Attr(document.AttrAmended)
	s.Equal("X", ind)
	ref, _ := root.Attr(document.AttrOriginalSubmission)
	s.Equal(original.String(), ref)

	stored, err := s.svc.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Diff, stored.Diff)
	list, err := s.svc.ForSubmission(s.ctx, original)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *AmendmentSuite) TestInconsistentAmendmentIsNotFiled() {
	original := s.accepted()

	_, err := s.svc.CreateAmendment(s.ctx, original, []amendment.Change{
		{Op: amendment.OpSet, Path: "ReturnData/IRS1040ScheduleSE/Earnings/NetNonFarmProfitLossAmt", Value: "6000.01"},
	})

	var vf *retry.ValidationFailure
	s.Require().True(errors.As(err, &vf), "got %v", err)
	s.NotEmpty(vf.Outcome.ConsistencyErrors)
	list, err := s.svc.ForSubmission(s.ctx, original)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *AmendmentSuite) TestStructurallyInvalidAmendmentIsNotFiled() {
	original := s.accepted()

	_, err := s.svc.CreateAmendment(s.ctx, original, []amendment.Change{
		{Op: amendment.OpRemove, Path: "ReturnData/IRS1040/Filer/PrimarySSN"},
	})

	var vf *retry.ValidationFailure
	s.Require().True(errors.As(err, &vf), "got %v", err)
	s.NotEmpty(vf.Outcome.StructuralErrors)
}

func (s *AmendmentSuite) TestOnlyAcceptedSubmissionsCanBeAmended() {
	sc := formstest.SelfEmployed()
	res := s.filer.Submit(s.ctx, pipeline.Request{TaxYear: formstest.TaxYear, Primary: sc.Primary, Attachments: sc.Attachments})
	s.Require().Equal(models.StatusTransmitted, res.Status)

	_, err := s.svc.CreateAmendment(s.ctx, res.SubmissionID, []amendment.Change{
		{Op: amendment.OpSet, Path: addressPath, Value: "2 Analytical Way"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)

	_, err = s.svc.CreateAmendment(s.ctx, id.NewSubmissionID(), []amendment.Change{
		{Op: amendment.OpSet, Path: addressPath, Value: "2 Analytical Way"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
}

func (s *AmendmentSuite) TestBadChangesAreRefused() {
	original := s.accepted()

	_, err := s.svc.CreateAmendment(s.ctx, original, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.svc.CreateAmendment(s.ctx, original, []amendment.Change{
		{Op: amendment.OpSet, Path: "ReturnData/IRS1040/Nowhere/Amt", Value: "1"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *AmendmentSuite) TestGetMissing() {
	_, err := s.svc.Get(s.ctx, id.NewAmendmentID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
