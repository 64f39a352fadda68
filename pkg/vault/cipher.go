package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required size for the master encryption key (256-bit).
const KeySize = chacha20poly1305.KeySize

var (
	ErrInvalidKeySize = errors.New("vault: key must be 32 bytes")

	// ErrVaultDecryption indicates a stored field could not be opened with the
	// configured key: wrong key, tampered value or truncated data.
	ErrVaultDecryption = errors.New("vault: decryption failed")
)

// Cipher seals single values with XChaCha20-Poly1305. Every sealed value is
// base64(nonce || ciphertext || tag) and opens on its own.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte master key.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}

	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create chacha20 cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromBase64 decodes a base64 master key, as carried in VAULT_KEY.
func NewCipherFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: key is not valid base64: %w", err)
	}

	return NewCipher(key)
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVaultDecryption, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrVaultDecryption)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVaultDecryption, err)
	}

	return string(plaintext), nil
}
