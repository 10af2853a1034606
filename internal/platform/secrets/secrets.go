// Package secrets issues and checks the shared bearer secret MeF presents when
// pushing acknowledgments. Only the bcrypt hash is ever configured.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "efile/pkg/domain-errors"
)

// Generate returns a random 256-bit secret, URL-safe base64 encoded.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the bcrypt hash to put in configuration.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks secret against hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid secret")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}

// BearerVerifier checks Authorization headers against one configured hash.
type BearerVerifier struct {
	hash string
}

// NewBearerVerifier rejects anything that is not a bcrypt hash up front.
func NewBearerVerifier(hash string) (*BearerVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "webhook secret hash is not a bcrypt hash")
	}
	return &BearerVerifier{hash: hash}, nil
}

// VerifyHeader accepts "Bearer <secret>".
func (v *BearerVerifier) VerifyHeader(header string) error {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "missing bearer secret")
	}
	return Verify(token, v.hash)
}
