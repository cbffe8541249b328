package storage

import (
	"fmt"
	"time"

	eciesgo "github.com/ecies/go/v2"
)

// EncryptedStorage wraps another Storage and transparently ECIES-encrypts
// values under a single recipient public key before they ever reach the
// wrapped store. Get returns the stored ciphertext as is; Decrypt, given
// the matching private key, recovers the plaintext. It is what backs
// StoreRequest.Private in the HTTP control plane: a client can ask that a
// value only ever be held in plaintext-recoverable form by the holder of
// one specific private key, served from this node's own storage only.
type EncryptedStorage struct {
	inner  Storage
	pubkey *eciesgo.PublicKey
}

// NewEncryptedStorage wraps inner so that every Store call encrypts value
// under recipient before delegating.
func NewEncryptedStorage(inner Storage, recipient *eciesgo.PublicKey) *EncryptedStorage {
	return &EncryptedStorage{inner: inner, pubkey: recipient}
}

func (s *EncryptedStorage) Store(key Key, value []byte, ttl time.Duration) {
	ciphertext, err := eciesgo.Encrypt(s.pubkey, value)
	if err != nil {
		// Encryption of a value we generated ourselves failing means the
		// recipient key is malformed; there is nothing sensible to store.
		return
	}
	s.inner.Store(key, ciphertext, ttl)
}

func (s *EncryptedStorage) Get(key Key) ([]byte, bool) {
	ciphertext, ok := s.inner.Get(key)
	if !ok {
		return nil, false
	}
	return ciphertext, true
}

func (s *EncryptedStorage) Delete(key Key) { s.inner.Delete(key) }
func (s *EncryptedStorage) Keys() []Key    { return s.inner.Keys() }

func (s *EncryptedStorage) Contains(key Key) bool { return s.inner.Contains(key) }
func (s *EncryptedStorage) Touch(key Key)         { s.inner.Touch(key) }

func (s *EncryptedStorage) Timestamp(key Key) (time.Time, bool) { return s.inner.Timestamp(key) }

func (s *EncryptedStorage) ExpirationTimeSec(key Key) (int64, bool) { return s.inner.ExpirationTimeSec(key) }

// Decrypt recovers the plaintext for a value previously stored through
// this EncryptedStorage, given the matching private key. It is called by
// the HTTP control plane on behalf of a client that owns priv, not by the
// DHT core, since the core never needs to read the plaintext it routes.
func Decrypt(priv *eciesgo.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := eciesgo.Decrypt(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("storage: decrypt value: %w", err)
	}
	return plaintext, nil
}
