package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrCrypto is returned when a ciphertext cannot be decrypted, either because
// it was corrupted or because it was sealed under a different key.
var ErrCrypto = errors.New("token decryption failed")

const keySize = 32

// Secret is a per-purpose key and initialization vector pair.
type Secret struct {
	Key string
	IV  string
}

// Cipher encrypts and decrypts a single kind of token with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
	iv   []byte
}

// New derives an AES-256 key from the secret (HKDF-SHA256, salted with the IV)
// and returns a Cipher bound to that pair. The IV is also authenticated as
// additional data, so ciphertexts do not decrypt under a pair with another IV.
func New(purpose string, s Secret) (*Cipher, error) {
	if s.Key == "" {
		return nil, fmt.Errorf("%s: secret key is empty", purpose)
	}
	if s.IV == "" {
		return nil, fmt.Errorf("%s: initialization vector is empty", purpose)
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(s.Key), []byte(s.IV), []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%s: failed to derive key: %w", purpose, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create block cipher: %w", purpose, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create GCM: %w", purpose, err)
	}

	return &Cipher{aead: aead, iv: []byte(s.IV)}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The returned slice is
// nonce || ciphertext || tag.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), c.iv), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure wraps ErrCrypto.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, c.iv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return string(plaintext), nil
}

// Keys holds the dedicated ciphers for the two token kinds.
type Keys struct {
	Access  *Cipher
	Refresh *Cipher
}

// NewKeys builds the access and refresh token ciphers. The two secrets must
// differ so that compromising one does not expose the other token.
func NewKeys(access, refresh Secret) (*Keys, error) {
	if access == refresh {
		return nil, errors.New("access and refresh token secrets must differ")
	}

	a, err := New("access_token", access)
	if err != nil {
		return nil, err
	}
	r, err := New("refresh_token", refresh)
	if err != nil {
		return nil, err
	}
	return &Keys{Access: a, Refresh: r}, nil
}
