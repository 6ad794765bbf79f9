package cryptox

import (
	"crypto/rand"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the length of the random nonce prefixed to every ciphertext.
	NonceSize = 24
	// Overhead is the number of bytes Encrypt adds to the plaintext.
	Overhead = NonceSize + secretbox.Overhead
)

// Encrypt seals plaintext with key and returns nonce‖ciphertext. A fresh
// random nonce is drawn on every call.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, common.ErrInvalidKey
	}
	var k [KeySize]byte
	copy(k[:], key)
	defer common.WipeByteArray(k[:])

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, len(plaintext)+Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &k), nil
}

// Decrypt opens a value produced by Encrypt. Every failure is reported as
// common.ErrDecryptionFailed.
func Decrypt(combined, key []byte) ([]byte, error) {
	if len(key) != KeySize || len(combined) < Overhead {
		return nil, common.ErrDecryptionFailed
	}
	var k [KeySize]byte
	copy(k[:], key)
	defer common.WipeByteArray(k[:])

	var nonce [NonceSize]byte
	copy(nonce[:], combined[:NonceSize])

	plain, ok := secretbox.Open(nil, combined[NonceSize:], &nonce, &k)
	if !ok {
		return nil, common.ErrDecryptionFailed
	}
	return plain, nil
}

// EncryptText encrypts the UTF-8 bytes of s.
func EncryptText(s string, key []byte) ([]byte, error) {
	return Encrypt([]byte(s), key)
}

// DecryptText decrypts combined and requires the result to be valid UTF-8.
func DecryptText(combined, key []byte) (string, error) {
	plain, err := Decrypt(combined, key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", common.ErrDecryptionFailed
	}
	return string(plain), nil
}
