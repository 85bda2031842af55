// Package crypto seals OAuth tokens before they land in Postgres. The rows
// hold bearer credentials for streamers' Twitch and DonationAlerts accounts,
// so a leaked dump or a misdirected query must not hand them out in the
// clear. Sealing is AES-256-GCM with a random nonce per value, the nonce
// prepended to the sealed bytes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrSealedDataCorrupt covers every way opening can fail: truncation,
// tampering and a wrong key all look the same to callers on purpose.
var ErrSealedDataCorrupt = errors.New("crypto: sealed data corrupt or wrong key")

// Encryptor seals and opens byte slices. AESEncryptor is the one real
// implementation; the interface keeps package db testable without a key.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// AESEncryptor holds the AEAD built once from ENCRYPTION_KEY at startup.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor builds a sealer from a base64-encoded 256-bit key, the
// output of `openssl rand -base64 32`.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, errors.New("crypto: encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: encryption key must decode to 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext as nonce || ciphertext || tag.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("crypto: nothing to encrypt")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens bytes sealed by Encrypt.
func (e *AESEncryptor) Decrypt(sealed []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) <= ns {
		return nil, ErrSealedDataCorrupt
	}
	plaintext, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrSealedDataCorrupt
	}
	return plaintext, nil
}

// EncryptString seals a token and base64-encodes it for a text column.
// Empty tokens pass through unchanged so optional columns stay empty.
func EncryptString(enc Encryptor, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	sealed, err := enc.Encrypt([]byte(token))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("crypto: stored value is not valid base64: %w", err)
	}
	token, err := enc.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(token), nil
}
