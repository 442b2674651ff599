package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const encryptedPrefix = "enc:"

var ErrNoEncryptionKey = errors.New("encryption key not configured")

// SecretBox seals stored credentials. With no key configured it passes
// values through untouched.
type SecretBox struct {
	key []byte
}

func NewSecretBox(key string) (*SecretBox, error) {
	if key == "" {
		return &SecretBox{}, nil
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SecretBox{key: []byte(key)}, nil
}

func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || b == nil || len(b.key) == 0 {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the encrypted
// prefix are returned as they are.
func (b *SecretBox) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if b == nil || len(b.key) == 0 {
		return "", ErrNoEncryptionKey
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", err
	}
	if len(decoded) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := decoded[:aead.NonceSize()], decoded[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
