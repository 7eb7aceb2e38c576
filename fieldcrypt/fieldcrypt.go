// Package fieldcrypt encrypts individual database fields (TOTP secrets,
// backup code lists) with XChaCha20-Poly1305.
//
// The AEAD key is derived from a master secret with HKDF-SHA256, so the same
// master secret can be shared with other subsystems under a different info
// label. Ciphertexts are "v1:" followed by base64(nonce || sealed).
package fieldcrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	versionPrefix = "v1:"
	hkdfInfo      = "authcore/fieldcrypt/v1"

	// MinMasterKeySize is the shortest accepted master secret.
	MinMasterKeySize = 32
)

var (
	// ErrInvalidKey is returned for a missing or short master secret.
	ErrInvalidKey = errors.New("fieldcrypt: invalid master key")
	// ErrInvalidCiphertext is returned for malformed input to Decrypt.
	ErrInvalidCiphertext = errors.New("fieldcrypt: invalid ciphertext")
	// ErrDecryptionFailed is returned when authentication fails.
	ErrDecryptionFailed = errors.New("fieldcrypt: decryption failed")
)

// Encryptor is implemented by field ciphers.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Cipher is an XChaCha20-Poly1305 [Encryptor]. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a field key from master (at least 32 bytes) and salt.
func New(master, salt []byte) (*Cipher, error) {
	if len(master) < MinMasterKeySize {
		return nil, ErrInvalidKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(versionPrefix))
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, versionPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, []byte(versionPrefix))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
