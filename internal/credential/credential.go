// Package credential owns the signing key pair and its self-issued certificate.
// Exactly one credential is current; rotation archives the previous files and
// swaps the current pointer atomically.
package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	dErrors "efile/pkg/domain-errors"
)

const (
	DefaultValidity   = 365 * 24 * time.Hour
	DefaultKeyBits    = 2048
	DefaultCommonName = "efile transmitter"
)

// Credential is a private key and the certificate binding its public half.
type Credential struct {
	Key            *rsa.PrivateKey
	Certificate    *x509.Certificate
	CertificateDER []byte
	NotBefore      time.Time
	NotAfter       time.Time
	Serial         string
}

// ValidAt reports whether t falls inside the certificate's validity window.
func (c *Credential) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// CredentialUnavailableError means no usable signing credential exists. The
// process must not continue without one.
type CredentialUnavailableError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CredentialUnavailableError) Error() string {
	msg := "signing credential unavailable"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialUnavailableError) Unwrap() error { return e.Err }

func (e *CredentialUnavailableError) DomainCode() dErrors.Code { return dErrors.CodeConfiguration }

func unavailable(path, reason string, err error) error {
	return &CredentialUnavailableError{Path: path, Reason: reason, Err: err}
}

// issue creates a key pair and a self-signed certificate valid from now for
// the given duration.
func issue(commonName string, bits int, now time.Time, validity time.Duration) (*Credential, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate signing key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate certificate serial")
	}

	notBefore := now.UTC().Truncate(time.Second)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create certificate")
	}
	return fromParts(key, der)
}

// fromParts checks that key and certificate belong together.
func fromParts(key *rsa.PrivateKey, der []byte) (*Credential, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("certificate does not match private key")
	}
	return &Credential{
		Key:            key,
		Certificate:    cert,
		CertificateDER: der,
		NotBefore:      cert.NotBefore,
		NotAfter:       cert.NotAfter,
		Serial:         cert.SerialNumber.Text(16),
	}, nil
}

func certSerial(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", err
	}
	return cert.SerialNumber.Text(16), nil
}
