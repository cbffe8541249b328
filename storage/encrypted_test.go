package storage

import (
	"testing"

	eciesgo "github.com/ecies/go/v2"
)

func TestEncryptedStorageRoundTrip(t *testing.T) {
	priv, err := eciesgo.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	enc := NewEncryptedStorage(NewMemoryStorage(), priv.PublicKey)
	key := Key{0x01}
	enc.Store(key, []byte("secret"), 0)

	ciphertext, ok := enc.Get(key)
	if !ok {
		t.Fatalf("expected stored ciphertext to be present")
	}
	if string(ciphertext) == "secret" {
		t.Fatalf("Get returned plaintext, expected ciphertext")
	}

	plaintext, err := Decrypt(priv, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "secret" {
		t.Fatalf("Decrypt = %q, want %q", plaintext, "secret")
	}
}

func TestEncryptedStorageWrongKeyFailsToDecrypt(t *testing.T) {
	priv, _ := eciesgo.GenerateKey()
	other, _ := eciesgo.GenerateKey()

	enc := NewEncryptedStorage(NewMemoryStorage(), priv.PublicKey)
	key := Key{0x01}
	enc.Store(key, []byte("secret"), 0)

	ciphertext, _ := enc.Get(key)
	if _, err := Decrypt(other, ciphertext); err == nil {
		t.Fatalf("expected decrypt with the wrong private key to fail")
	}
}
