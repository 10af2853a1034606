package mef

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"efile/internal/credential"
	dErrors "efile/pkg/domain-errors"
)

// Claims are carried by every request to MeF.
type Claims struct {
	SoftwareID string `json:"software_id"`
	CertSerial string `json:"cert_serial"`
	jwt.RegisteredClaims
}

// CredentialSource yields the credential currently used for signing.
type CredentialSource interface {
	Current() (*credential.Credential, error)
}

// TokenIssuer mints short-lived RS256 bearer tokens with the current
// credential, so a rotation takes effect on the next request.
type TokenIssuer struct {
	creds      CredentialSource
	issuer     string
	audience   string
	softwareID string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenIssuer(creds CredentialSource, issuer, audience, softwareID string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{
		creds:      creds,
		issuer:     issuer,
		audience:   audience,
		softwareID: softwareID,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue signs a new token.
func (i *TokenIssuer) Issue() (string, error) {
	cred, err := i.creds.Current()
	if err != nil {
		return "", err
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		SoftwareID: i.softwareID,
		CertSerial: cred.Serial,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	})
	token.Header["kid"] = cred.Serial
	signed, err := token.SignedString(cred.Key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign transport token")
	}
	return signed, nil
}

// ValidateToken checks a token against the transmitter's public key. MeF does
// this on its side; the fake server and tests use it too.
func ValidateToken(tokenString string, key *rsa.PublicKey, issuer, audience string, now func() time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
