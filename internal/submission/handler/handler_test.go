package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"efile/internal/alerting"
	"efile/internal/forms"
	"efile/internal/platform/secrets"
	"efile/internal/submission/handler"
	"efile/internal/submission/metrics"
	"efile/internal/submission/models"
	"efile/internal/submission/service"
	"efile/internal/submission/service/mocks"
	"efile/internal/submission/store/memory"
	id "efile/pkg/domain"
	"efile/pkg/testutil"
)

const webhookSecret = "ack-push-secret"

type HandlerSuite struct {
	suite.Suite
	transport *mocks.MockTransport
	svc       *service.Service
	router    http.Handler
	healthErr error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.transport = mocks.NewMockTransport(ctrl)
	reg := prometheus.NewRegistry()
	s.svc = service.New(memory.NewInMemoryStore(), s.transport,
		service.WithAlerter(&alerting.Recorder{}),
		service.WithMetrics(metrics.New(reg)),
		service.WithClock(func() time.Time { return time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC) }))

	hash, err := secrets.Hash(webhookSecret)
	s.Require().NoError(err)
	verifier, err := secrets.NewBearerVerifier(hash)
	s.Require().NoError(err)

	s.healthErr = nil
	s.router = handler.New(s.svc,
		handler.WithVerifier(verifier),
		handler.WithGatherer(reg),
		handler.WithCheck("store", func(context.Context) error { return s.healthErr }),
	).Router()
}

func (s *HandlerSuite) transmitted() *models.Submission {
	rec, err := s.svc.Create(context.Background(), service.CreateRequest{FormType: forms.Form1040, TaxYear: 2024})
	s.Require().NoError(err)
	s.transport.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(models.Handoff{Accepted: true}, nil)
	rec, err = s.svc.Transmit(context.Background(), rec.ID)
	s.Require().NoError(err)
	return rec
}

func (s *HandlerSuite) TestHealth() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)

	s.healthErr = errors.New("connection refused")
	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "status", "degraded")
}

func (s *HandlerSuite) TestMetrics() {
	s.transmitted()
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Contains(rr.Body.String(), "efile_submission_transitions_total")
}

func (s *HandlerSuite) TestGetSubmission() {
	t := s.T()
	rec := s.transmitted()

	req := testutil.WithRequestID(testutil.NewRequest(t, http.MethodGet, "/v1/submissions/"+rec.ID.String()), "req-42")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(t, rr)
	s.Equal("req-42", rr.Header().Get("X-Request-ID"))
	testutil.AssertJSONContains(t, rr, "status", "TRANSMITTED")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions/"+id.NewSubmissionID().String()))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions/not-a-uuid"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestListAndHistory() {
	t := s.T()
	rec := s.transmitted()

	rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions?status=TRANSMITTED&limit=5"))
	testutil.AssertStatusOK(t, rr)
	list := testutil.UnmarshalResponse[[]map[string]any](t, rr)
	s.Require().Len(*list, 1)
	s.Equal(rec.ID.String(), (*list)[0]["id"])

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions?limit=zero"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions/"+rec.ID.String()+"/history"))
	testutil.AssertStatusOK(t, rr)
	history := testutil.UnmarshalResponse[[]models.HistoryEntry](t, rr)
	s.Len(*history, 2)
}

func (s *HandlerSuite) TestAcknowledgmentPush() {
	t := s.T()
	rec := s.transmitted()
	path := "/v1/acknowledgments/" + rec.ID.String()
	ack := string(models.Acknowledgment{Status: models.AckAccepted, SubmissionID: rec.ID.String()}.Marshal())

	rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, path, ack))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	rr = testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, path, ack), "wrong"))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	rr = testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, path, ack), webhookSecret))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ACCEPTED")

	// the submission is final now
	rr = testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, path, ack), webhookSecret))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
}

func (s *HandlerSuite) TestMalformedAcknowledgmentIsRecorded() {
	t := s.T()
	rec := s.transmitted()
	req := testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, "/v1/acknowledgments/"+rec.ID.String(), "<Ack"), webhookSecret)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(t, rr, http.StatusAccepted)
	testutil.AssertJSONContains(t, rr, "status", "FAILED")
}

func (s *HandlerSuite) TestCancel() {
	t := s.T()
	rec, err := s.svc.Create(context.Background(), service.CreateRequest{FormType: forms.Form1040})
	s.Require().NoError(err)

	req := testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/v1/submissions/"+rec.ID.String()+"/cancel?reason=withdrawn"), webhookSecret)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "CANCELLED")
}

func (s *HandlerSuite) TestRejectedAcknowledgment() {
	testutil.Given(s.T(), "a transmitted return", func(t *testing.T) {
		rec := s.transmitted()
		ack := string(models.Acknowledgment{
			Status:       models.AckRejected,
			SubmissionID: rec.ID.String(),
			Errors:       []models.AckError{{Code: "IND-031", Message: "primary SSN does not match"}},
		}.Marshal())

		testutil.When(t, "MeF pushes a rejection", func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, "/v1/acknowledgments/"+rec.ID.String(), ack), webhookSecret)
			rr := testutil.DoRequest(s.router, req)

			testutil.Then(t, "the submission is REJECTED with the reason kept", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "status", "REJECTED")
				testutil.AssertJSONHasKey(t, rr, "error_details")
			})

			testutil.Then(t, "the history ends with the rejection", func(t *testing.T) {
				rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/submissions/"+rec.ID.String()+"/history"))
				testutil.AssertStatusOK(t, rr)
				history := *testutil.UnmarshalResponse[[]models.HistoryEntry](t, rr)
				if s.NotEmpty(history) {
					s.Equal(models.StatusRejected, history[len(history)-1].ToStatus)
				}
			})
		})
	})
}
