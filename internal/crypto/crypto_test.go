package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/live-labs/envsync/internal/codec"
)

func testSnapshot() *codec.Snapshot {
	s := codec.NewSnapshot()
	s.Set(codec.VariableEntry{Key: "DB_HOST", Value: "localhost"})
	s.Set(codec.VariableEntry{Key: "API_KEY", Value: "s3cr3t", IsSecret: true})
	s.Set(codec.VariableEntry{Key: "DEBUG", Value: "true"})
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := []byte("correct horse battery staple")
	original := testSnapshot()

	blob, err := Encrypt(original, secret)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if blob.AlgorithmID != AlgorithmID {
		t.Errorf("expected algorithm %q, got %q", AlgorithmID, blob.AlgorithmID)
	}

	decrypted, err := Decrypt(blob, secret)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !decrypted.Equal(original) {
		t.Error("decrypted snapshot differs from original")
	}
}

func TestEncryptFreshIVAndSalt(t *testing.T) {
	secret := []byte("secret")
	s := testSnapshot()

	first, err := Encrypt(s, secret)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := Encrypt(s, secret)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if first.IV == second.IV {
		t.Error("two encryptions reused an IV")
	}
	if first.Salt == second.Salt {
		t.Error("two encryptions reused a salt")
	}
	if first.Ciphertext == second.Ciphertext {
		t.Error("identical ciphertexts for independent encryptions")
	}
}

func TestDecryptWrongSecret(t *testing.T) {
	blob, err := Encrypt(testSnapshot(), []byte("right"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = Decrypt(blob, []byte("wrong"))
	if !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Errorf("expected ErrIntegrityCheckFailed, got %v", err)
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	secret := []byte("secret")
	pristine, err := Encrypt(testSnapshot(), secret)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	flipHex := func(s string) string {
		b := []byte(s)
		if b[0] == '0' {
			b[0] = '1'
		} else {
			b[0] = '0'
		}
		return string(b)
	}

	tests := []struct {
		name   string
		mutate func(b *EncryptedBlob)
	}{
		{"ciphertext bit flip", func(b *EncryptedBlob) { b.Ciphertext = flipHex(b.Ciphertext) }},
		{"auth tag bit flip", func(b *EncryptedBlob) { b.AuthTag = flipHex(b.AuthTag) }},
		{"iv bit flip", func(b *EncryptedBlob) { b.IV = flipHex(b.IV) }},
		{"salt bit flip", func(b *EncryptedBlob) { b.Salt = flipHex(b.Salt) }},
		{"non-hex ciphertext", func(b *EncryptedBlob) { b.Ciphertext = "zz" + b.Ciphertext[2:] }},
		{"truncated iv", func(b *EncryptedBlob) { b.IV = b.IV[:4] }},
		{"unknown algorithm", func(b *EncryptedBlob) { b.AlgorithmID = "rot13" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := *pristine
			tt.mutate(&blob)
			snapshot, err := Decrypt(&blob, secret)
			if !errors.Is(err, ErrIntegrityCheckFailed) {
				t.Errorf("expected ErrIntegrityCheckFailed, got %v", err)
			}
			if snapshot != nil {
				t.Error("tampered blob released a snapshot")
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("passphrase")

	key1, salt, err := DeriveKey(secret, nil)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(key1) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(key1))
	}
	if len(salt) != SaltSize {
		t.Errorf("expected %d-byte salt, got %d", SaltSize, len(salt))
	}

	// Same secret and salt must be deterministic.
	key2, _, err := DeriveKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("derivation with fixed salt is not deterministic")
	}

	// Fresh salt must give a different key.
	key3, _, err := DeriveKey(secret, nil)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("independent derivations produced the same key")
	}
}

func TestDeriveKeyEmptySecret(t *testing.T) {
	_, _, err := DeriveKey(nil, nil)
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestEncryptEmptySecret(t *testing.T) {
	_, err := Encrypt(testSnapshot(), nil)
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not cleared", i)
		}
	}
}
