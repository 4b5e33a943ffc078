// Package secret encrypts IMAP account passwords at rest. Unlike the
// admin-password hashing elsewhere in this stack, these secrets must be
// recoverable to log in to the mailbox, so they are encrypted rather than
// hashed.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32

// Box encrypts and decrypts account passwords with a single symmetric key.
type Box struct {
	key [keySize]byte
}

// NewBox derives a Box from a key supplied as base64 or raw bytes. The key
// must decode or measure to exactly 32 bytes.
func NewBox(keyMaterial string) (*Box, error) {
	if keyMaterial == "" {
		return nil, errors.New("secret: account_secret_key is required")
	}

	raw, err := decodeKey(keyMaterial)
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("secret: key must be %d bytes, got %d", keySize, len(raw))
	}

	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

func decodeKey(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	return []byte(s), nil
}

// Encrypt returns a base64-encoded nonce||ciphertext suitable for storage.
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secret: failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails closed: any tampering or corruption
// returns an error rather than a partially-decrypted value.
func (b *Box) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secret: invalid encoding: %w", err)
	}
	if len(sealed) < 24 {
		return "", errors.New("secret: ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return "", errors.New("secret: decryption failed, key mismatch or corrupted data")
	}
	return string(plaintext), nil
}
