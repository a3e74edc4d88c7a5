package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/live-labs/envsync/internal/codec"
)

const (
	SaltSize          = 32     // Salt size in bytes
	KeySize           = 32     // AES-256 key size
	NonceSize         = 12     // GCM nonce size
	TagSize           = 16     // GCM authentication tag size
	DefaultIterations = 210000 // PBKDF2 iterations (OWASP minimum)

	// AlgorithmID identifies the cipher suite in the blob wire form.
	AlgorithmID = "aes-256-gcm/pbkdf2-sha256"

	// domainTag is bound as GCM associated data so snapshot ciphertexts
	// cannot be replayed into other contexts.
	domainTag = "envsync.snapshot.v1"
)

var (
	ErrEncryptionFailed     = errors.New("encryption failed")
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	ErrKeyUnavailable       = errors.New("encryption key unavailable")
)

// EncryptedBlob is the wire form of an encrypted snapshot. All byte fields
// are hex encoded.
type EncryptedBlob struct {
	Ciphertext  string `json:"ciphertext"`
	IV          string `json:"iv"`
	AuthTag     string `json:"authTag"`
	Salt        string `json:"salt"`
	AlgorithmID string `json:"algorithmId"`
}

// DeriveKey derives a fixed-length symmetric key from a secret. When salt is
// nil a fresh random salt is generated and returned alongside the key. The
// caller owns the key and should ClearBytes it when done.
func DeriveKey(secret, salt []byte) (key, usedSalt []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, ErrKeyUnavailable
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("%w: generating salt: %v", ErrEncryptionFailed, err)
		}
	}
	key = pbkdf2.Key(secret, salt, DefaultIterations, KeySize, sha256.New)
	return key, salt, nil
}

// Encrypt encrypts a snapshot under a key derived from secret with a fresh
// salt and nonce. Two calls on identical input never produce the same IV.
func Encrypt(snapshot *codec.Snapshot, secret []byte) (*EncryptedBlob, error) {
	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding snapshot: %v", ErrEncryptionFailed, err)
	}
	defer ClearBytes(plaintext)

	key, salt, err := DeriveKey(secret, nil)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(domainTag))
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return &EncryptedBlob{
		Ciphertext:  hex.EncodeToString(body),
		IV:          hex.EncodeToString(nonce),
		AuthTag:     hex.EncodeToString(tag),
		Salt:        hex.EncodeToString(salt),
		AlgorithmID: AlgorithmID,
	}, nil
}

// Decrypt re-derives the key from the blob's salt and opens the ciphertext.
// The authentication tag is verified before any plaintext is released; on
// mismatch or malformed input it fails with ErrIntegrityCheckFailed and
// returns no snapshot.
func Decrypt(blob *EncryptedBlob, secret []byte) (*codec.Snapshot, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: missing blob", ErrIntegrityCheckFailed)
	}
	if blob.AlgorithmID != AlgorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrIntegrityCheckFailed, blob.AlgorithmID)
	}

	body, err := decodeField("ciphertext", blob.Ciphertext)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("iv", blob.IV)
	if err != nil {
		return nil, err
	}
	tag, err := decodeField("authTag", blob.AuthTag)
	if err != nil {
		return nil, err
	}
	salt, err := decodeField("salt", blob.Salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize || len(tag) != TagSize || len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: malformed blob", ErrIntegrityCheckFailed)
	}

	key, _, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityCheckFailed, err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(body, tag...), []byte(domainTag))
	if err != nil {
		return nil, ErrIntegrityCheckFailed
	}
	defer ClearBytes(plaintext)

	snapshot := codec.NewSnapshot()
	if err := json.Unmarshal(plaintext, snapshot); err != nil {
		return nil, fmt.Errorf("%w: corrupt plaintext encoding", ErrIntegrityCheckFailed)
	}
	return snapshot, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decodeField(name, value string) ([]byte, error) {
	data, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s", ErrIntegrityCheckFailed, name)
	}
	return data, nil
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
