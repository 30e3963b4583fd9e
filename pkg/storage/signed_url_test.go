package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, expiresAt, err := signer.Generate("export-1", "entries/entry.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	jobID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "export-1", jobID)
	require.Equal(t, "entries/entry.pdf", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", 10*time.Millisecond)
	token, _, err := signer.Generate("export-1", "entries/entry.pdf")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err, "expired token must be rejected by default")

	// Cleanup needs to resolve the stored path even after expiry.
	jobID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "export-1", jobID)
	require.Equal(t, "entries/entry.pdf", path)
}

func TestSignedURLRejectsBadSignatures(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("export-1", "entries/entry.pdf")
	require.NoError(t, err)

	cases := map[string]struct {
		signer *SignedURLSigner
		token  string
	}{
		"tampered token":  {signer, token + "x"},
		"truncated token": {signer, token[:len(token)-4]},
		"wrong secret":    {NewSignedURLSigner("other-secret", time.Hour), token},
		"garbage":         {signer, "not.a.real.token"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := tc.signer.Parse(tc.token, false)
			require.Error(t, err)
		})
	}
}
