// Package crypto implements credential blob encryption with AES-256-GCM.
// Keys are derived from a passphrase via Argon2id; the salt travels inside
// the blob so blobs survive restarts and passphrase-scoped key rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"deskpilot/internal/domain"
)

const (
	encPrefix = "enc:"
	saltSize  = 16
)

// CredentialEncryptor encrypts and decrypts credential maps. It implements
// domain.CredentialDecryptor; plaintext JSON blobs without the "enc:"
// prefix are accepted for development setups.
type CredentialEncryptor struct {
	passphrase []byte
}

// NewCredentialEncryptor creates an encryptor from a passphrase.
func NewCredentialEncryptor(passphrase string) (*CredentialEncryptor, error) {
	if passphrase == "" {
		return nil, domain.NewDomainError("crypto.NewCredentialEncryptor", domain.ErrEncryption, "empty passphrase")
	}
	return &CredentialEncryptor{passphrase: []byte(passphrase)}, nil
}

// Encrypt serializes the credential map and returns
// "enc:" + base64(salt + nonce + ciphertext).
func (e *CredentialEncryptor) Encrypt(creds map[string]string) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := e.gcm(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	blob := append(append(salt, nonce...), sealed...)
	return encPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt recovers the credential map from a blob. Blobs without the
// "enc:" prefix are treated as plaintext JSON.
func (e *CredentialEncryptor) Decrypt(blob string) (map[string]string, error) {
	if !strings.HasPrefix(blob, encPrefix) {
		var creds map[string]string
		if err := json.Unmarshal([]byte(blob), &creds); err != nil {
			return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "not encrypted and not valid JSON")
		}
		return creds, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, encPrefix))
	if err != nil {
		return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "base64 decode failed")
	}
	if len(data) < saltSize {
		return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "blob too short")
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "blob too short")
	}

	nonce, sealed := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "authentication failed")
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, domain.NewDomainError("crypto.Decrypt", domain.ErrDecryption, "invalid credential payload")
	}
	return creds, nil
}

// IsEncrypted checks for the "enc:" prefix.
func (e *CredentialEncryptor) IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

func (e *CredentialEncryptor) gcm(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(e.passphrase, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

var _ domain.CredentialDecryptor = (*CredentialEncryptor)(nil)
