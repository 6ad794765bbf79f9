// Package cryptox holds the client-side cryptography of DuoDeck: X25519 key
// agreement between partners, the per-pair shared-secret cache, the
// authenticated content cipher, and passphrase-derived keys for local storage.
//
// Nothing in this package performs I/O except reading the device private key
// through a PrivateKeySource on a secret-cache miss.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of public, private and shared keys in bytes.
const KeySize = 32

var secretInfo = []byte("duodeck pair secret v1")

// KeyPair is an X25519 key pair with both halves base64 encoded for storage.
// The private half must never leave the device.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, KeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	defer common.WipeByteArray(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	return &KeyPair{
		PublicKey:  EncodeKey(pub),
		PrivateKey: EncodeKey(priv),
	}, nil
}

// PublicKeyOf recomputes the public half of a stored private key.
func PublicKeyOf(privateKey string) (string, error) {
	if privateKey == "" {
		return "", common.ErrKeyMissing
	}
	priv, err := DecodeKey(privateKey)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	return EncodeKey(pub), nil
}

// DeriveSharedSecret computes the symmetric key both partners share: X25519 of
// the own private key and the partner's public key, expanded with HKDF-SHA256.
// The result is identical on both sides.
func DeriveSharedSecret(partnerPublicKey, ownPrivateKey string) ([]byte, error) {
	if ownPrivateKey == "" {
		return nil, common.ErrKeyMissing
	}

	priv, err := DecodeKey(ownPrivateKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(priv)

	pub, err := DecodeKey(partnerPublicKey)
	if err != nil {
		return nil, err
	}

	point, err := curve25519.X25519(priv, pub)
	if err != nil {
		// low-order partner key
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidKey, err)
	}
	defer common.WipeByteArray(point)

	secret := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, point, nil, secretInfo), secret); err != nil {
		return nil, fmt.Errorf("expand shared secret: %w", err)
	}
	return secret, nil
}

// EncodeKey renders a raw key for storage.
func EncodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeKey parses a stored key and checks its length.
func DecodeKey(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return nil, common.ErrInvalidKey
	}
	return b, nil
}
