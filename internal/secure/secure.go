// Package secure is the only place that touches key material or randomness.
// Payload keys are derived from a per-business secret string with HKDF-SHA256;
// payloads are sealed with AES-256-GCM so any tampering fails authentication.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	IVSize    = 12
	MACSize   = sha256.Size
	CodeBytes = 16

	encInfo = "stampd payload encryption v1"
	macInfo = "stampd payload signature v1"
)

var (
	ErrEmptySecret = errors.New("empty secret")
	ErrKeySize     = errors.New("invalid key size")
	ErrIVSize      = errors.New("invalid iv size")
	// ErrDecrypt is returned for every decryption failure. It never says why.
	ErrDecrypt = errors.New("decryption failed")
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// KeySet holds the two keys derived from one business secret.
type KeySet struct {
	Enc []byte
	MAC []byte
}

// DeriveKey derives the 32-byte AES-256 payload key from a business secret.
// The same secret always yields the same key.
func DeriveKey(secret string) ([]byte, error) {
	return derive(secret, encInfo)
}

// DeriveKeySet derives both the encryption and signing keys for a secret.
func DeriveKeySet(secret string) (KeySet, error) {
	enc, err := derive(secret, encInfo)
	if err != nil {
		return KeySet{}, err
	}
	mac, err := derive(secret, macInfo)
	if err != nil {
		return KeySet{}, err
	}
	return KeySet{Enc: enc, MAC: mac}, nil
}

func derive(secret, info string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// NewIV returns a fresh random GCM nonce.
func NewIV() ([]byte, error) {
	return RandomBytes(IVSize)
}

// NewTokenCode returns a 26-character code carrying 128 bits of entropy.
func NewTokenCode() (string, error) {
	b, err := RandomBytes(CodeBytes)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return codeEncoding.EncodeToString(b), nil
}

// NewSecret returns a fresh business secret: 32 random bytes, hex encoded.
func NewSecret() (string, error) {
	b, err := RandomBytes(KeySize)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
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

// Encrypt seals plaintext under key with the given IV. The returned
// ciphertext includes the GCM authentication tag.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, ErrIVSize
	}
	return gcm.Seal(nil, iv, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Any failure, including a
// wrong key or a flipped bit, returns ErrDecrypt.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(iv) != gcm.NonceSize() || len(ciphertext) < gcm.Overhead() {
		return nil, ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Sign returns HMAC-SHA256(key, data).
func Sign(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// Verify reports whether mac is a valid signature of data, in constant time.
func Verify(key, data, mac []byte) bool {
	return hmac.Equal(Sign(key, data), mac)
}
