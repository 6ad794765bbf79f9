package keystore

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/cryptox"
)

const (
	keySalt     = "seal_salt"
	keyVerifier = "seal_verifier"
	saltSize    = 16
)

var (
	// ErrLocked is returned by a SealedStore before Unlock.
	ErrLocked = errors.New("keystore is locked")
	// ErrWrongPassphrase is returned by Unlock for a passphrase that does not
	// match the one the store was sealed with.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// SealedStore encrypts values with a passphrase-derived key before storing
// them in the inner Store. The salt and a verifier of the key are kept in
// the inner Store unencrypted.
type SealedStore struct {
	inner Store

	mu  sync.RWMutex
	key []byte
}

func NewSealedStore(inner Store) *SealedStore {
	return &SealedStore{inner: inner}
}

// Initialized reports whether a passphrase was ever set.
func (s *SealedStore) Initialized(ctx context.Context) (bool, error) {
	_, ok, err := s.inner.Get(ctx, keyVerifier)
	return ok, err
}

// Unlock derives the sealing key from passphrase. The first Unlock on an empty
// store sets the passphrase.
func (s *SealedStore) Unlock(ctx context.Context, passphrase string) error {
	salt, err := s.salt(ctx)
	if err != nil {
		return err
	}
	key := cryptox.DeriveMasterKey([]byte(passphrase), salt)
	verifier := cryptox.MakeVerifier(key)

	stored, ok, err := s.inner.Get(ctx, keyVerifier)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.inner.Set(ctx, keyVerifier, base64.StdEncoding.EncodeToString(verifier)); err != nil {
			return err
		}
	} else {
		want, err := base64.StdEncoding.DecodeString(stored)
		if err != nil || subtle.ConstantTimeCompare(want, verifier) != 1 {
			common.WipeByteArray(key)
			return ErrWrongPassphrase
		}
	}

	s.mu.Lock()
	common.WipeByteArray(s.key)
	s.key = key
	s.mu.Unlock()
	return nil
}

func (s *SealedStore) salt(ctx context.Context) ([]byte, error) {
	v, ok, err := s.inner.Get(ctx, keySalt)
	if err != nil {
		return nil, err
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt keystore salt: %w", err)
		}
		return salt, nil
	}
	salt := common.GenerateRandByteArray(saltSize)
	if err := s.inner.Set(ctx, keySalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// Lock forgets the sealing key.
func (s *SealedStore) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.key)
	s.key = nil
}

func (s *SealedStore) sealingKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrLocked
	}
	return append([]byte(nil), s.key...), nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	k, err := s.sealingKey()
	if err != nil {
		return "", false, err
	}
	defer common.WipeByteArray(k)

	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	sealed, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", false, common.ErrDecryptionFailed
	}
	plain, err := cryptox.DecryptText(sealed, k)
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	k, err := s.sealingKey()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(k)

	sealed, err := cryptox.EncryptText(value, k)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}
