// Package crypto encrypts and decrypts snapshots.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the environment secret via PBKDF2
//   - 12-byte random nonce per encryption operation
//   - a fixed domain-separation tag bound as associated data
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random salt, fresh per encryption (stored in the blob)
//   - 210,000 iterations (OWASP minimum recommendation)
//
// Decryption verifies the authentication tag before releasing any
// plaintext; tampered or wrongly keyed blobs fail with
// ErrIntegrityCheckFailed and return no data.
//
// Memory safety: use ClearBytes() to zero sensitive data after use.
package crypto
