package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor("correct horse battery staple")
	require.NoError(t, err)

	creds := map[string]string{"api_token": "secret-token", "base_url": "https://tracker.local"}
	blob, err := enc.Encrypt(creds)
	require.NoError(t, err)
	assert.True(t, enc.IsEncrypted(blob))
	assert.NotContains(t, blob, "secret-token")

	got, err := enc.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestDecryptSurvivesNewEncryptorInstance(t *testing.T) {
	enc1, err := NewCredentialEncryptor("passphrase")
	require.NoError(t, err)
	blob, err := enc1.Encrypt(map[string]string{"k": "v"})
	require.NoError(t, err)

	// Salt travels inside the blob, so a fresh process can decrypt it.
	enc2, err := NewCredentialEncryptor("passphrase")
	require.NoError(t, err)
	got, err := enc2.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc1, _ := NewCredentialEncryptor("right")
	blob, err := enc1.Encrypt(map[string]string{"k": "v"})
	require.NoError(t, err)

	enc2, _ := NewCredentialEncryptor("wrong")
	_, err = enc2.Decrypt(blob)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	enc, _ := NewCredentialEncryptor("p")

	got, err := enc.Decrypt(`{"api_token":"dev-token"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_token": "dev-token"}, got)
}

func TestDecryptGarbage(t *testing.T) {
	enc, _ := NewCredentialEncryptor("p")

	for _, blob := range []string{"not json at all", "enc:%%%not-base64%%%", "enc:" + strings.Repeat("A", 8)} {
		_, err := enc.Decrypt(blob)
		require.Error(t, err, blob)
		assert.ErrorIs(t, err, domain.ErrDecryption, blob)
	}
}

func TestTamperedBlobFailsAuthentication(t *testing.T) {
	enc, _ := NewCredentialEncryptor("p")
	blob, err := enc.Encrypt(map[string]string{"k": "v"})
	require.NoError(t, err)

	tampered := blob[:len(blob)-2] + "zz"
	_, err = enc.Decrypt(tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := NewCredentialEncryptor("")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEncryption)
}
