package signer_test

import (
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"efile/internal/credential"
	"efile/internal/signer"
)

type SignerSuite struct {
	suite.Suite
	now    time.Time
	cred   *credential.Credential
	signer *signer.Signer
	doc    []byte
}

func TestSignerSuite(t *testing.T) {
	suite.Run(t, new(SignerSuite))
}

func (s *SignerSuite) SetupSuite() {
	s.now = time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	mgr := credential.NewManager(filepath.Join(s.T().TempDir(), "keys"),
		credential.WithClock(func() time.Time { return s.now }))
	var err error
	s.cred, err = mgr.Generate()
	s.Require().NoError(err)
	s.doc = []byte(`<?xml version="1.0" encoding="UTF-8"?><Return><ReturnData documentCnt="0"/></Return>`)
}

func (s *SignerSuite) SetupTest() {
	s.signer = signer.New(signer.WithClock(func() time.Time { return s.now.Add(time.Hour) }))
}

func (s *SignerSuite) sign() signer.Envelope {
	env, err := s.signer.Sign(s.doc, s.cred)
	s.Require().NoError(err)
	return env
}

func (s *SignerSuite) TestRoundTrip() {
	env := s.sign()
	s.Equal(s.doc, env.Document)
	s.Equal(s.cred.CertificateDER, env.Certificate)
	s.True(s.signer.Verify(env))
}

func (s *SignerSuite) TestAnyFlippedByteFails() {
	env := s.sign()
	parts := map[string][]byte{
		"document":    env.Document,
		"signature":   env.Signature,
		"certificate": env.Certificate,
	}
	for name, part := range parts {
		s.Run(name, func() {
			for i := range part {
				part[i] ^= 0x01
				s.False(s.signer.Verify(env), "byte %d", i)
				part[i] ^= 0x01
			}
			s.True(s.signer.Verify(env))
		})
	}
}

func (s *SignerSuite) TestMalformedInput() {
	s.False(s.signer.Verify(signer.Envelope{}))
	s.False(s.signer.Verify(signer.Envelope{Document: s.doc, Signature: []byte{1}, Certificate: []byte{2}}))
	s.False(s.signer.VerifyWire(nil))
	s.False(s.signer.VerifyWire([]byte("<SignedSubmission><Document>!!</Document></SignedSubmission>")))
	s.False(s.signer.VerifyWire([]byte("<Return/>")))
}

func (s *SignerSuite) TestValidityWindow() {
	env := s.sign()

	expired := signer.New(signer.WithClock(func() time.Time { return s.cred.NotAfter.Add(time.Second) }))
	s.False(expired.Verify(env))

	early := signer.New(signer.WithClock(func() time.Time { return s.cred.NotBefore.Add(-time.Second) }))
	s.False(early.Verify(env))
}

func (s *SignerSuite) TestRoots() {
	env := s.sign()

	trusted := x509.NewCertPool()
	trusted.AddCert(s.cred.Certificate)
	s.True(signer.New(signer.WithRoots(trusted), signer.WithClock(func() time.Time { return s.now })).Verify(env))

	s.False(signer.New(signer.WithRoots(x509.NewCertPool()), signer.WithClock(func() time.Time { return s.now })).Verify(env))
}

func (s *SignerSuite) TestWire() {
	env := s.sign()
	raw := signer.EncodeEnvelope(env)
	s.True(signer.IsEnvelope(raw))
	s.True(s.signer.VerifyWire(raw))

	decoded, err := signer.DecodeEnvelope(raw)
	s.Require().NoError(err)
	s.Equal(env, decoded)

	s.Run("wrapper is deterministic", func() {
		s.Equal(raw, signer.EncodeEnvelope(env))
	})

	s.Run("unsupported algorithm", func() {
		bad := []byte(`<SignedSubmission><Document>AA==</Document><Signature algorithm="DSA">AA==</Signature><Certificate>AA==</Certificate></SignedSubmission>`)
		_, err := signer.DecodeEnvelope(bad)
		s.Error(err)
	})
}

func (s *SignerSuite) TestSignWithoutCredential() {
	_, err := s.signer.Sign(s.doc, nil)
	s.Error(err)
}
