// Package keyring resolves per-environment secrets from the OS keyring.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/live-labs/envsync/internal/crypto"
)

const serviceName = "envsync"

// Provider looks up environment secrets in the operating system keyring.
type Provider struct {
	service string
}

// New creates a keyring provider under the default service name.
func New() *Provider {
	return &Provider{service: serviceName}
}

// Secret returns the secret for an environment. A missing or unreadable
// entry maps to crypto.ErrKeyUnavailable so callers can distinguish "no
// key" from a failed decryption.
func (p *Provider) Secret(env string) ([]byte, error) {
	secret, err := keyring.Get(p.service, env)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w: no keyring entry for environment %q", crypto.ErrKeyUnavailable, env)
		}
		return nil, fmt.Errorf("%w: %v", crypto.ErrKeyUnavailable, err)
	}
	return []byte(secret), nil
}

// SetSecret stores the secret for an environment in the OS keyring
func (p *Provider) SetSecret(env string, secret []byte) error {
	return keyring.Set(p.service, env, string(secret))
}

// DeleteSecret removes the secret for an environment from the OS keyring
func (p *Provider) DeleteSecret(env string) error {
	return keyring.Delete(p.service, env)
}

// HasSecret checks if a secret is stored for an environment
func (p *Provider) HasSecret(env string) bool {
	_, err := keyring.Get(p.service, env)
	return err == nil
}
