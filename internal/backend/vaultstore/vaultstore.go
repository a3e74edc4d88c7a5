// Package vaultstore persists payloads in a HashiCorp Vault KV v2 secrets
// engine. Store is an idempotent upsert: an update of the current secret
// version first, falling back to create when the secret does not exist.
// List and Retrieve are scoped under a configurable name prefix.
package vaultstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/backend"
)

// Config holds Vault connection settings.
type Config struct {
	Address string
	Token   string
	// Mount is the KV v2 mount point, "secret" by default.
	Mount string
	// Prefix namespaces this project's secrets under the mount.
	Prefix string
}

// Store is a cloud secret-manager-style backend on Vault KV v2.
type Store struct {
	cfg    Config
	client *vault.Client
	logger *zap.Logger
}

// New creates a vaultstore backend. Call Initialize before use.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "envsync"
	}

	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, backend.NewError(backend.ErrFatal, "initialize", err.Error())
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return &Store{cfg: cfg, client: client, logger: logger}, nil
}

// Initialize verifies the server is reachable and the token is usable.
func (s *Store) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return classify("initialize", err)
	}
	return nil
}

// Store upserts the payload. The current secret version is read first and
// the write is issued check-and-set against it; a missing secret falls back
// to a cas=0 create. A concurrent writer surfaces as ErrConflict.
func (s *Store) Store(ctx context.Context, id string, payload backend.Payload) (*backend.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	cas := 0
	meta, err := s.client.Logical().ReadWithContext(ctx, s.metadataPath(id))
	switch {
	case err != nil:
		mapped := classify("store", err)
		if !errors.Is(mapped, backend.ErrNotFound) {
			return nil, mapped
		}
	case meta != nil:
		if v, ok := meta.Data["current_version"].(json.Number); ok {
			if n, err := v.Int64(); err == nil {
				cas = int(n)
			}
		}
	}

	now := time.Now().UTC()
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"data":      base64.StdEncoding.EncodeToString(payload.Data),
			"encrypted": payload.Encrypted,
			"format":    payload.Format,
			"updatedAt": now.Format(time.RFC3339Nano),
		},
		"options": map[string]interface{}{"cas": cas},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(id), body); err != nil {
		return nil, classify("store", err)
	}

	s.logger.Debug("payload stored in vault", zap.String("id", id), zap.Int("cas", cas))
	return &backend.Metadata{ID: id, Location: s.dataPath(id), UpdatedAt: now}, nil
}

// Retrieve reads a payload back from the prefix-scoped path.
func (s *Store) Retrieve(ctx context.Context, id string) (backend.Payload, *backend.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return backend.Payload{}, nil, err
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(id))
	if err != nil {
		return backend.Payload{}, nil, classify("retrieve", err)
	}
	if secret == nil {
		return backend.Payload{}, nil, backend.NewError(backend.ErrNotFound, "retrieve", id)
	}

	fields, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return backend.Payload{}, nil, backend.NewError(backend.ErrFatal, "retrieve", "malformed secret data")
	}

	encoded, _ := fields["data"].(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return backend.Payload{}, nil, backend.NewError(backend.ErrFatal, "retrieve", "malformed payload encoding")
	}
	encrypted, _ := fields["encrypted"].(bool)
	format, _ := fields["format"].(string)

	metadata := &backend.Metadata{ID: id, Location: s.dataPath(id)}
	if raw, ok := fields["updatedAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			metadata.UpdatedAt = t
		}
	}
	return backend.Payload{Data: data, Encrypted: encrypted, Format: format}, metadata, nil
}

// List enumerates secret names under the prefix.
func (s *Store) List(ctx context.Context) ([]backend.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := s.client.Logical().ListWithContext(ctx, s.metadataPath(""))
	if err != nil {
		return nil, classify("list", err)
	}
	if secret == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	summaries := make([]backend.Summary, 0, len(keys))
	for _, raw := range keys {
		id, ok := raw.(string)
		if !ok {
			continue
		}
		payload, metadata, err := s.Retrieve(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable secret", zap.String("id", id), zap.Error(err))
			continue
		}
		summaries = append(summaries, backend.Summary{
			ID:        id,
			Size:      int64(len(payload.Data)),
			Encrypted: payload.Encrypted,
			UpdatedAt: metadata.UpdatedAt,
		})
	}
	return summaries, nil
}

// Delete removes the secret and all its versions.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Probe first so a missing secret maps to ErrNotFound; Vault's
	// metadata delete succeeds silently for unknown paths.
	probe, err := s.client.Logical().ReadWithContext(ctx, s.metadataPath(id))
	if err != nil {
		return classify("delete", err)
	}
	if probe == nil {
		return backend.NewError(backend.ErrNotFound, "delete", id)
	}

	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(id)); err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *Store) dataPath(id string) string {
	return path.Join(s.cfg.Mount, "data", s.cfg.Prefix, id)
}

func (s *Store) metadataPath(id string) string {
	return path.Join(s.cfg.Mount, "metadata", s.cfg.Prefix, id)
}

// classify maps Vault client errors onto the backend taxonomy.
func classify(op string, err error) error {
	var respErr *vault.ResponseError
	if errors.As(err, &respErr) {
		return backend.FromStatus(op, respErr.StatusCode, fmt.Sprintf("%v", respErr.Errors))
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return backend.NewError(backend.ErrTransient, op, urlErr.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return backend.NewError(backend.ErrFatal, op, err.Error())
}
