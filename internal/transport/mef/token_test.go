package mef

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efile/internal/credential"
	dErrors "efile/pkg/domain-errors"
)

func TestTokenRoundTrip(t *testing.T) {
	mgr := credential.NewManager(filepath.Join(t.TempDir(), "keys"))
	cred, err := mgr.Initialize(context.Background())
	require.NoError(t, err)

	now := time.Now()
	issuer := NewTokenIssuer(mgr, "efile", "mef", "EFILEGO1", time.Minute)
	issuer.now = func() time.Time { return now }

	token, err := issuer.Issue()
	require.NoError(t, err)

	claims, err := ValidateToken(token, &cred.Key.PublicKey, "efile", "mef", func() time.Time { return now })
	require.NoError(t, err)
	assert.Equal(t, "EFILEGO1", claims.SoftwareID)
	assert.Equal(t, cred.Serial, claims.CertSerial)

	_, err = ValidateToken(token, &cred.Key.PublicKey, "efile", "someone-else", func() time.Time { return now })
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = ValidateToken(token, &cred.Key.PublicKey, "efile", "mef", func() time.Time { return now.Add(2 * time.Minute) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}
