package keyring

import (
	"errors"
	"testing"

	zkeyring "github.com/zalando/go-keyring"

	"github.com/live-labs/envsync/internal/crypto"
)

func TestSecretLifecycle(t *testing.T) {
	zkeyring.MockInit()
	p := New()

	if p.HasSecret("dev") {
		t.Fatal("unexpected secret before set")
	}

	if err := p.SetSecret("dev", []byte("passphrase")); err != nil {
		t.Fatalf("SetSecret failed: %v", err)
	}
	if !p.HasSecret("dev") {
		t.Error("HasSecret false after set")
	}

	secret, err := p.Secret("dev")
	if err != nil {
		t.Fatalf("Secret failed: %v", err)
	}
	if string(secret) != "passphrase" {
		t.Errorf("unexpected secret %q", secret)
	}

	if err := p.DeleteSecret("dev"); err != nil {
		t.Fatalf("DeleteSecret failed: %v", err)
	}
	if p.HasSecret("dev") {
		t.Error("HasSecret true after delete")
	}
}

func TestMissingSecretMapsToKeyUnavailable(t *testing.T) {
	zkeyring.MockInit()
	p := New()

	_, err := p.Secret("ghost")
	if !errors.Is(err, crypto.ErrKeyUnavailable) {
		t.Errorf("expected ErrKeyUnavailable, got %v", err)
	}
}
