package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Codec encrypts token payloads with AES-256-GCM. The key is derived from
// the configured secret with HKDF so replicas sharing a secret decrypt each
// other's tokens.
type Codec struct {
	aead cipher.AEAD
}

var errCiphertext = errors.New("malformed ciphertext")

// NewCodec derives the payload key from secret and builds the AEAD.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("attendly-token-payload"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive payload key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext and returns "nonceHex:cipherHex".
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Codec) Decrypt(ciphertext string) ([]byte, error) {
	nonceHex, sealedHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return nil, errCiphertext
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, errCiphertext
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, errCiphertext
	}
	return c.aead.Open(nil, nonce, sealed, nil)
}

// NewValue generates an opaque random token value.
func NewValue() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
