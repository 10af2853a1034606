package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"efile/internal/alerting"
	"efile/internal/consistency"
	"efile/internal/credential"
	"efile/internal/document"
	"efile/internal/forms"
	"efile/internal/forms/formstest"
	"efile/internal/optimizer"
	"efile/internal/pipeline"
	"efile/internal/schedules"
	"efile/internal/schema"
	"efile/internal/signer"
	"efile/internal/submission/models"
	"efile/internal/submission/service"
	"efile/internal/submission/service/mocks"
	"efile/internal/submission/store/memory"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type PipelineSuite struct {
	suite.Suite
	ctx       context.Context
	creds     *credential.Manager
	registry  *schema.Registry
	verifier  *signer.Signer
	ctrl      *gomock.Controller
	transport *mocks.MockTransport
	alerts    *alerting.Recorder
	tracker   *service.Service
	pipeline  *pipeline.Pipeline

	mu   sync.Mutex
	sent []signer.Envelope
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupSuite() {
	s.ctx = context.Background()
	s.creds = credential.NewManager(filepath.Join(s.T().TempDir(), "keys"))
	_, err := s.creds.Initialize(s.ctx)
	s.Require().NoError(err)
	s.registry, err = schema.New(s.ctx)
	s.Require().NoError(err)
	s.verifier = signer.New()
}

func (s *PipelineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.transport = mocks.NewMockTransport(s.ctrl)
	s.alerts = &alerting.Recorder{}
	s.tracker = service.New(memory.NewInMemoryStore(), s.transport, service.WithAlerter(s.alerts))
	s.sent = nil
	s.pipeline = s.newPipeline(s.creds)
}

func (s *PipelineSuite) newPipeline(creds pipeline.CredentialSource, opts ...pipeline.Option) *pipeline.Pipeline {
	p, err := pipeline.New(pipeline.Deps{
		Forms:       forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock })),
		Schemas:     s.registry,
		Calculator:  consistency.New(),
		Optimizer:   optimizer.New(),
		Signer:      signer.New(),
		Credentials: creds,
		Tracker:     s.tracker,
	}, opts...)
	s.Require().NoError(err)
	return p
}

// accept makes MeF take every handoff and remembers what it was sent.
func (s *PipelineSuite) accept() {
	s.transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env signer.Envelope) (models.Handoff, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, env)
			return models.Handoff{Accepted: true, Reference: "MEF-1"}, nil
		}).AnyTimes()
}

func selfEmployed() pipeline.Request {
	sc := formstest.SelfEmployed()
	return pipeline.Request{TaxYear: formstest.TaxYear, Primary: sc.Primary, Attachments: sc.Attachments}
}

// inconsistent reports self-employment earnings one cent off Schedule C.
func inconsistent() pipeline.Request {
	req := selfEmployed()
	for i, in := range req.Attachments {
		if in.FormType() == forms.ScheduleSE {
			se := formstest.ScheduleSE()
			se.NetNonFarmProfit = forms.Amt("6000.01")
			req.Attachments[i] = se
		}
	}
	return req
}

func (s *PipelineSuite) load(subID id.SubmissionID) *models.Submission {
	rec, err := s.tracker.Get(s.ctx, subID)
	s.Require().NoError(err)
	return rec
}

func (s *PipelineSuite) TestSubmitTransmitsASignedReturn() {
	s.accept()

	res := s.pipeline.Submit(s.ctx, selfEmployed())

	s.Require().True(res.OK(), "%+v", res.Errors)
	s.Equal(models.StatusTransmitted, res.Status)
	s.True(res.Outcome.IsValid)

	rec := s.load(res.SubmissionID)
	s.Equal(forms.Form1040, rec.FormType)
	s.Equal(2024, rec.TaxYear)
	s.Equal([]models.Status{models.StatusPending, models.StatusTransmitted}, rec.Statuses())

	s.Require().Len(s.sent, 1)
	s.True(s.verifier.Verify(s.sent[0]))
	doc, err := document.ParseDocument(rec.XMLContent)
	s.Require().NoError(err)
	names := make([]string, 0, len(doc.Bodies()))
	for _, b := range doc.Bodies() {
		names = append(names, b.Name)
	}
	s.Equal([]string{"IRS1040", "IRSW2", "IRS1099NEC", "IRS4562", "IRS1040ScheduleC", "IRS1040ScheduleSE", "IRS1040Schedule1", "IRS1040Schedule2"}, names)
}

func (s *PipelineSuite) TestAttachmentsAreFiledInDependencyOrder() {
	s.accept()
	req := selfEmployed()
	// reverse the caller's order
	for i, j := 0, len(req.Attachments)-1; i < j; i, j = i+1, j-1 {
		req.Attachments[i], req.Attachments[j] = req.Attachments[j], req.Attachments[i]
	}

	res := s.pipeline.Submit(s.ctx, req)
	s.Require().True(res.OK(), "%+v", res.Errors)

	expected := s.pipeline.Submit(s.ctx, selfEmployed())
	s.Require().True(expected.OK())
	s.Equal(s.load(expected.SubmissionID).XMLContent, s.load(res.SubmissionID).XMLContent)
}

func (s *PipelineSuite) TestInconsistentReturnFailsWithoutTransmission() {
	res := s.pipeline.Submit(s.ctx, inconsistent())

	s.False(res.OK())
	s.Equal(models.StatusFailed, res.Status)
	s.False(res.Outcome.IsValid)
	s.Len(res.Outcome.ConsistencyErrors, 1)
	s.Require().NotEmpty(res.Errors)
	s.Equal(dErrors.CodeValidation, res.Errors[0].Code)
	s.Equal("validation_failure", res.Errors[0].Kind)

	rec := s.load(res.SubmissionID)
	s.Equal([]models.Status{models.StatusPending, models.StatusError, models.StatusFailed}, rec.Statuses())
	s.Equal(1, rec.RetryCount)
	s.Len(s.alerts.Alerts(), 1)
}

func (s *PipelineSuite) TestIncompleteInputIsRecordedAsFailed() {
	res := s.pipeline.Submit(s.ctx, pipeline.Request{TaxYear: formstest.TaxYear, Primary: forms.Form1040Input{}})

	s.Equal(models.StatusFailed, res.Status)
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeIncompleteInput, res.Errors[0].Code)
	s.False(res.SubmissionID.IsNil())

	rec := s.load(res.SubmissionID)
	s.Require().NotNil(rec.ErrorDetails)
	s.False(rec.ErrorDetails.Retryable)
	s.Equal("VALIDATION", rec.ErrorDetails.Category)
}

func (s *PipelineSuite) TestFactsRequireEverySchedule() {
	req := pipeline.Request{
		TaxYear:     formstest.TaxYear,
		Primary:     formstest.Form1040(),
		Attachments: []forms.Input{formstest.W2()},
		Facts:       &schedules.TaxpayerFacts{FilingStatus: forms.FilingSingle, W2Count: 1, Businesses: 1},
	}

	res := s.pipeline.Submit(s.ctx, req)

	s.Equal(models.StatusFailed, res.Status)
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeIncompleteInput, res.Errors[0].Code)
	s.Contains(res.Errors[0].Message, string(forms.ScheduleC))
}

func (s *PipelineSuite) TestMissingPrimaryIsRefusedWithoutARecord() {
	res := s.pipeline.Submit(s.ctx, pipeline.Request{TaxYear: formstest.TaxYear})

	s.True(res.SubmissionID.IsNil())
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeInvalidInput, res.Errors[0].Code)
}

func (s *PipelineSuite) TestRefusedHandoffSchedulesARetry() {
	s.transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).
		Return(models.Handoff{Accepted: false, Message: "busy"}, nil)

	res := s.pipeline.Submit(s.ctx, selfEmployed())

	s.Equal(models.StatusPending, res.Status)
	s.Require().Len(res.Errors, 1)
	s.Equal("transmission_failure", res.Errors[0].Kind)
	rec := s.load(res.SubmissionID)
	s.NotNil(rec.NextAttemptAt)
	s.Empty(s.alerts.Alerts())
}

func (s *PipelineSuite) TestCredentialUnavailable() {
	empty := credential.NewManager(filepath.Join(s.T().TempDir(), "none"))
	p := s.newPipeline(empty)

	res := p.Submit(s.ctx, selfEmployed())

	s.Equal(models.StatusFailed, res.Status)
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeConfiguration, res.Errors[0].Code)
	rec := s.load(res.SubmissionID)
	s.Equal("SYSTEM", rec.ErrorDetails.Category)
	s.NotEmpty(rec.XMLContent)
}

type panickingCredentials struct{}

func (panickingCredentials) Current() (*credential.Credential, error) { panic("key store exploded") }

func (s *PipelineSuite) TestPanicBecomesAResult() {
	p := s.newPipeline(panickingCredentials{})

	var res pipeline.Result
	s.NotPanics(func() { res = p.Submit(s.ctx, selfEmployed()) })

	s.Equal(models.StatusFailed, res.Status)
	s.Require().NotEmpty(res.Errors)
	s.Equal(dErrors.CodeInternal, res.Errors[len(res.Errors)-1].Code)
}

func (s *PipelineSuite) TestResubmitLinksTheCorrection() {
	s.accept()
	failed := s.pipeline.Submit(s.ctx, inconsistent())
	s.Require().Equal(models.StatusFailed, failed.Status)

	res := s.pipeline.Resubmit(s.ctx, failed.SubmissionID, selfEmployed())

	s.Require().True(res.OK(), "%+v", res.Errors)
	s.Equal(models.StatusTransmitted, res.Status)
	rec := s.load(res.SubmissionID)
	s.Require().NotNil(rec.ResubmissionOf)
	s.Equal(failed.SubmissionID, *rec.ResubmissionOf)
}

func (s *PipelineSuite) TestResubmissionsAreLimitedByTheValidationBudget() {
	prev := s.pipeline.Submit(s.ctx, inconsistent())
	for range 2 {
		next := s.pipeline.Resubmit(s.ctx, prev.SubmissionID, inconsistent())
		s.Require().Equal(models.StatusFailed, next.Status)
		s.Require().False(next.SubmissionID.IsNil())
		prev = next
	}

	res := s.pipeline.Resubmit(s.ctx, prev.SubmissionID, selfEmployed())

	s.True(res.SubmissionID.IsNil())
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeConflict, res.Errors[0].Code)
	s.Contains(res.Errors[0].Message, "resubmission limit")
}

func (s *PipelineSuite) TestResubmitRequiresAFailedSubmission() {
	s.accept()
	live := s.pipeline.Submit(s.ctx, selfEmployed())
	s.Require().Equal(models.StatusTransmitted, live.Status)

	res := s.pipeline.Resubmit(s.ctx, live.SubmissionID, selfEmployed())
	s.True(res.SubmissionID.IsNil())
	s.Equal(dErrors.CodeConflict, res.Errors[0].Code)

	res = s.pipeline.Resubmit(s.ctx, id.NewSubmissionID(), selfEmployed())
	s.Equal(dErrors.CodeNotFound, res.Errors[0].Code)
}

func (s *PipelineSuite) TestSubmitDocumentDetectsTheForm() {
	s.accept()
	doc, err := formstest.SelfEmployed().Build(s.ctx, forms.NewService(forms.WithClock(func() time.Time { return formstest.Clock })))
	s.Require().NoError(err)

	s.Run("plain", func() {
		res := s.pipeline.SubmitDocument(s.ctx, pipeline.DocumentRequest{Data: doc.Bytes()})
		s.Require().True(res.OK(), "%+v", res.Errors)
		s.Equal(models.StatusTransmitted, res.Status)
		s.Equal(forms.Form1040, s.load(res.SubmissionID).FormType)
	})

	s.Run("indented", func() {
		pretty := bytes.ReplaceAll(doc.Bytes(), []byte("><"), []byte(">\n  <"))
		res := s.pipeline.SubmitDocument(s.ctx, pipeline.DocumentRequest{Data: pretty})
		s.Require().True(res.OK(), "%+v", res.Errors)
		s.Equal(models.StatusTransmitted, res.Status)
		s.Equal(forms.Form1040, s.load(res.SubmissionID).FormType)
	})

	s.Run("compressed", func() {
		packed, err := optimizer.New(optimizer.WithMaxSize(64)).Optimize(doc.Bytes())
		s.Require().NoError(err)
		s.Require().True(packed.Compressed)

		res := s.pipeline.SubmitDocument(s.ctx, pipeline.DocumentRequest{Data: packed.Data})
		s.Require().True(res.OK(), "%+v", res.Errors)
		s.Equal(doc.Bytes(), s.load(res.SubmissionID).XMLContent)
	})

	s.Run("amendment link", func() {
		original := id.NewSubmissionID()
		res := s.pipeline.SubmitDocument(s.ctx, pipeline.DocumentRequest{Data: doc.Bytes(), AmendmentOf: &original})
		s.Require().True(res.OK(), "%+v", res.Errors)
		s.Equal(&original, s.load(res.SubmissionID).AmendmentOf)
	})
}

func (s *PipelineSuite) TestSubmitDocumentRejectsMalformedInput() {
	res := s.pipeline.SubmitDocument(s.ctx, pipeline.DocumentRequest{Data: []byte("<Return><ReturnData>")})

	s.True(res.SubmissionID.IsNil())
	s.Require().Len(res.Errors, 1)
	s.Equal(dErrors.CodeInvalidInput, res.Errors[0].Code)
}

func (s *PipelineSuite) TestSubmitBatchKeepsRequestOrder() {
	s.accept()
	reqs := []pipeline.Request{selfEmployed(), inconsistent(), selfEmployed(), {TaxYear: formstest.TaxYear}}
	p := s.newPipeline(s.creds, pipeline.WithBatchConcurrency(2))

	results := p.SubmitBatch(s.ctx, reqs)

	s.Require().Len(results, len(reqs))
	s.Equal(models.StatusTransmitted, results[0].Status)
	s.Equal(models.StatusFailed, results[1].Status)
	s.Equal(models.StatusTransmitted, results[2].Status)
	s.True(results[3].SubmissionID.IsNil())
	s.NotEqual(results[0].SubmissionID, results[2].SubmissionID)
	s.Len(s.sent, 2)
}

func TestNewRequiresEveryStage(t *testing.T) {
	_, err := pipeline.New(pipeline.Deps{})
	if !dErrors.HasCode(err, dErrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var de *dErrors.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *dErrors.Error, got %T", err)
	}
}
