// Package crypto provides the A12 chained MAC (mac.go) and the AES-GCM
// stream cipher engaged once a session negotiates EncNeg.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrInvalidKey reports an AES key outside the 16/24/32-byte AES
	// key-size envelope.
	ErrInvalidKey = errors.New("crypto: invalid AES key size")
	// ErrDecryptionFailed reports a sealed body that failed GCM
	// authentication (tampered, wrong key, or truncated).
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Context is the AES-256-GCM stream cipher applied to Control/Event
// packet bodies once a session has negotiated EncNeg.
type Context struct {
	gcm cipher.AEAD
}

// NewContext builds a Context from a 16/24/32-byte AES key. A12's own
// authentication key is 1..64 bytes and arbitrary length; use
// DeriveAESKey to normalize it before calling NewContext.
func NewContext(key []byte) (*Context, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Context{gcm: gcm}, nil
}

// DeriveAESKey normalizes A12's 1..64-byte authentication key into a
// fixed 32-byte AES-256 key via blake2b-256, the same keyed-hash family
// already used for the chained MAC (mac.go).
func DeriveAESKey(key []byte) [32]byte {
	return blake2b.Sum256(key)
}

// NonceSize is the nonce width Seal/Open expect.
func (c *Context) NonceSize() int {
	return c.gcm.NonceSize()
}

// Overhead is the number of bytes Seal adds beyond the plaintext length
// (the GCM authentication tag), letting a caller size a fixed-length
// wire body that now carries a sealed payload.
func (c *Context) Overhead() int {
	return c.gcm.Overhead()
}

// Seal encrypts plaintext under nonce, returning ciphertext with the
// GCM authentication tag appended.
func (c *Context) Seal(nonce, plaintext []byte) []byte {
	return c.gcm.Seal(nil, nonce, plaintext, nil)
}

// Open authenticates and decrypts a buffer produced by Seal.
func (c *Context) Open(nonce, sealed []byte) ([]byte, error) {
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
