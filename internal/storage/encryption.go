package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	apperrors "site-guardian/internal/errors"
)

const (
	pbkdf2Iterations = 100000
	defaultKeySalt   = "site-guardian/storage"
)

// Encryptor seals objects with AES-256-GCM. The nonce is prepended to the
// ciphertext.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte key
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key)), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create GCM cipher", err)
	}
	return &Encryptor{aead: aead}, nil
}

// DeriveKey derives a 256-bit key from a passphrase using PBKDF2-SHA256
func DeriveKey(passphrase string, salt []byte) []byte {
	if len(salt) == 0 {
		salt = []byte(defaultKeySalt)
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

// NewEncryptorFromConfig returns nil when encryption is disabled. A hex key in
// the configured environment variable wins over the passphrase.
func NewEncryptorFromConfig(config EncryptionConfig) (*Encryptor, error) {
	if !config.Enabled {
		return nil, nil
	}

	if config.KeyEnvVar != "" {
		if keyHex := os.Getenv(config.KeyEnvVar); keyHex != "" {
			key, err := hex.DecodeString(keyHex)
			if err != nil {
				return nil, apperrors.NewConfigurationError("failed to decode hex key from environment variable", err).
					WithContext("env_var", config.KeyEnvVar)
			}
			return NewEncryptor(key)
		}
	}

	if config.Passphrase == "" {
		return nil, apperrors.NewConfigurationError("encryption enabled but no key or passphrase configured", nil)
	}
	return NewEncryptor(DeriveKey(config.Passphrase, []byte(config.Salt)))
}

// Seal encrypts data
func (e *Encryptor) Seal(data []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts data produced by Seal
func (e *Encryptor) Open(data []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}
