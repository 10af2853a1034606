// Package signer signs the exact bytes to be transmitted and verifies signed
// envelopes, including signed acknowledgments.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"log/slog"
	"time"

	"efile/internal/credential"
	dErrors "efile/pkg/domain-errors"
)

// Envelope bundles a document with its signature and the signer's
// certificate (DER).
type Envelope struct {
	Document    []byte
	Signature   []byte
	Certificate []byte
}

// Signer is stateless apart from its verification policy.
type Signer struct {
	roots  *x509.CertPool
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Signer)

// WithRoots makes Verify chain certificates to roots. Without it Verify
// accepts any certificate that is self-signed and currently valid, which only
// proves the document was not altered after signing.
func WithRoots(roots *x509.CertPool) Option {
	return func(s *Signer) { s.roots = roots }
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) { s.logger = logger }
}

func New(opts ...Option) *Signer {
	s := &Signer{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign computes SHA-256 over doc and signs it with PKCS#1 v1.5. doc is copied
// into the envelope unchanged.
func (s *Signer) Sign(doc []byte, cred *credential.Credential) (Envelope, error) {
	if cred == nil || cred.Key == nil || len(cred.CertificateDER) == 0 {
		return Envelope{}, &credential.CredentialUnavailableError{Reason: "no credential supplied"}
	}
	digest := sha256.Sum256(doc)
	sig, err := rsa.SignPKCS1v15(rand.Reader, cred.Key, crypto.SHA256, digest[:])
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign document")
	}
	return Envelope{
		Document:    append([]byte(nil), doc...),
		Signature:   sig,
		Certificate: append([]byte(nil), cred.CertificateDER...),
	}, nil
}

// Verify reports whether env carries a valid signature over its document by a
// certificate that is trusted and currently valid. It never panics.
func (s *Signer) Verify(env Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("signature verification panicked", "panic", r)
			ok = false
		}
	}()
	if err := s.verify(env); err != nil {
		s.logger.Debug("signature rejected", "error", err)
		return false
	}
	return true
}

func (s *Signer) verify(env Envelope) error {
	if len(env.Signature) == 0 || len(env.Certificate) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "envelope is missing signature or certificate")
	}
	cert, err := x509.ParseCertificate(env.Certificate)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse certificate")
	}

	now := s.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return dErrors.New(dErrors.CodeUnauthorized, "certificate outside its validity window")
	}
	if s.roots != nil {
		_, err = cert.Verify(x509.VerifyOptions{
			Roots:       s.roots,
			CurrentTime: now,
			KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
	} else {
		err = cert.CheckSignatureFrom(cert)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "untrusted certificate")
	}

	pub, isRSA := cert.PublicKey.(*rsa.PublicKey)
	if !isRSA {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate key is not RSA")
	}
	digest := sha256.Sum256(env.Document)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], env.Signature); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "signature mismatch")
	}
	return nil
}
