package mef_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"efile/internal/credential"
	"efile/internal/retry"
	"efile/internal/signer"
	"efile/internal/submission/models"
	"efile/internal/transport/mef"
	"efile/internal/transport/mef/meftest"
	id "efile/pkg/domain"
	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/circuit"
	"efile/pkg/requestcontext"
)

const (
	issuer   = "efile"
	audience = "mef"
)

type ClientSuite struct {
	suite.Suite
	creds  *credential.Manager
	cred   *credential.Credential
	stub   *meftest.Stub
	server *httptest.Server
	client *mef.Client
	env    signer.Envelope
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.creds = credential.NewManager(filepath.Join(s.T().TempDir(), "keys"))
	var err error
	s.cred, err = s.creds.Initialize(context.Background())
	s.Require().NoError(err)

	s.stub, err = meftest.NewStub(s.cred.CertificateDER, issuer, audience)
	s.Require().NoError(err)
	s.server = s.stub.Start()
	s.T().Cleanup(s.server.Close)

	s.client = s.newClient()
	s.env, err = signer.New().Sign([]byte(`<Return><ReturnData documentCnt="0"/></Return>`), s.cred)
	s.Require().NoError(err)
}

func (s *ClientSuite) newClient(opts ...mef.Option) *mef.Client {
	tokens := mef.NewTokenIssuer(s.creds, issuer, audience, "EFILEGO1", time.Minute)
	return mef.New(s.server.URL, tokens, opts...)
}

func (s *ClientSuite) TestTransmitAndFetch() {
	subID := id.NewSubmissionID()
	ctx := requestcontext.WithSubmissionID(context.Background(), subID)

	_, ready, err := s.client.FetchAcknowledgment(ctx, subID)
	s.Require().NoError(err)
	s.False(ready)

	handoff, err := s.client.Transmit(ctx, s.env)
	s.Require().NoError(err)
	s.True(handoff.Accepted)
	s.Equal("MEF-"+subID.String(), handoff.Reference)
	s.Len(s.stub.Received(), 1)

	raw, ready, err := s.client.FetchAcknowledgment(ctx, subID)
	s.Require().NoError(err)
	s.True(ready)
	ack, err := models.ParseAcknowledgment(raw)
	s.Require().NoError(err)
	s.Equal(models.AckAccepted, ack.Status)
	s.Equal(subID.String(), ack.SubmissionID)
}

func (s *ClientSuite) TestTamperedEnvelopeIsRefused() {
	env := s.env
	env.Document = append([]byte(nil), env.Document...)
	env.Document[1] ^= 0x01

	handoff, err := s.client.Transmit(context.Background(), env)
	s.Require().NoError(err)
	s.False(handoff.Accepted)
	s.Contains(handoff.Message, "signature")
}

func (s *ClientSuite) TestRefusedHandoff() {
	s.stub.Refuse("duplicate submission")
	handoff, err := s.client.Transmit(context.Background(), s.env)
	s.Require().NoError(err)
	s.False(handoff.Accepted)
	s.Equal("duplicate submission", handoff.Message)
}

func (s *ClientSuite) TestUntrustedCredentialIsAuthenticationError() {
	other := credential.NewManager(filepath.Join(s.T().TempDir(), "other"))
	otherCred, err := other.Generate()
	s.Require().NoError(err)
	s.Require().NoError(s.stub.Trust(otherCred.CertificateDER))

	_, err = s.client.Transmit(context.Background(), s.env)
	var authErr *mef.AuthenticationError
	s.Require().ErrorAs(err, &authErr)
	s.Equal(http.StatusUnauthorized, authErr.Status)

	cls := retry.NewClassifier().Classify(err, retry.CategorySubmission)
	s.Equal("authentication_error", cls.Type)
	s.False(cls.IsRetryable)
}

func (s *ClientSuite) TestRotationTakesEffectOnNextRequest() {
	rotated, err := s.creds.Rotate(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(s.stub.Trust(rotated.CertificateDER))

	handoff, err := s.client.Transmit(context.Background(), s.env)
	s.Require().NoError(err)
	s.True(handoff.Accepted)
}

func (s *ClientSuite) TestServerErrorsOpenTheCircuit() {
	client := s.newClient(mef.WithBreaker(circuit.New("mef", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))
	s.stub.FailNext(http.StatusServiceUnavailable, http.StatusBadGateway)

	for range 2 {
		_, err := client.Transmit(context.Background(), s.env)
		var statusErr *mef.StatusError
		s.Require().ErrorAs(err, &statusErr)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}

	_, err := client.Transmit(context.Background(), s.env)
	s.ErrorIs(err, mef.ErrCircuitOpen)
	s.Len(s.stub.Received(), 2, "an open circuit does not reach MeF")
}

func (s *ClientSuite) TestTimeout() {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	tokens := mef.NewTokenIssuer(s.creds, issuer, audience, "EFILEGO1", time.Minute)
	client := mef.New(slow.URL, tokens)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Transmit(ctx, s.env)
	s.Require().Error(err)
	s.True(errors.Is(err, context.DeadlineExceeded))
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}
