package backend

import (
	"context"
	"fmt"
	"time"
)

// Provider tags a backend variant in the project manifest.
type Provider string

const (
	ProviderGit   Provider = "git"
	ProviderVault Provider = "vault"
	ProviderAPI   Provider = "api"
)

// ParseProvider validates a provider tag read from configuration.
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderGit, ProviderVault, ProviderAPI:
		return Provider(name), nil
	}
	return "", fmt.Errorf("unknown backend provider %q", name)
}

// Payload formats.
const (
	FormatSnapshot      = "snapshot/json" // plain codec.Snapshot JSON
	FormatEncryptedBlob = "blob/json"     // crypto.EncryptedBlob JSON
)

// Payload is the stored representation of one environment's snapshot,
// either plain or encrypted.
type Payload struct {
	Data      []byte `json:"data"`
	Encrypted bool   `json:"encrypted"`
	Format    string `json:"format"`
}

// Metadata describes a stored payload.
type Metadata struct {
	ID        string    `json:"id"`
	Location  string    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is one element of a backend listing.
type Summary struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Backend is the uniform capability contract for remote persistence.
//
// Store with an empty id creates a new remote object and returns the
// assigned id in Metadata; a non-empty id updates in place (upsert).
type Backend interface {
	Initialize(ctx context.Context) error
	Store(ctx context.Context, id string, payload Payload) (*Metadata, error)
	Retrieve(ctx context.Context, id string) (Payload, *Metadata, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
}
