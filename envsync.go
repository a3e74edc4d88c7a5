package envsync

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/backend"
	"github.com/live-labs/envsync/internal/backend/apistore"
	"github.com/live-labs/envsync/internal/backend/gitstore"
	"github.com/live-labs/envsync/internal/backend/vaultstore"
	"github.com/live-labs/envsync/internal/conflict"
	"github.com/live-labs/envsync/internal/history"
	"github.com/live-labs/envsync/internal/keyring"
	"github.com/live-labs/envsync/internal/manifest"
	"github.com/live-labs/envsync/internal/security"
	"github.com/live-labs/envsync/internal/syncer"
)

// HistoryFileName is the version history database at a project root.
const HistoryFileName = ".envsync.db"

// Merge strategies accepted by Sync.
type Strategy = conflict.Strategy

const (
	StrategyLocal    = conflict.StrategyLocal
	StrategyRemote   = conflict.StrategyRemote
	StrategyThreeWay = conflict.StrategyThreeWay
)

// ParseStrategy validates a strategy name from user input.
func ParseStrategy(name string) (Strategy, error) {
	return conflict.ParseStrategy(name)
}

// Backend provider tags.
type Provider = backend.Provider

const (
	ProviderGit   = backend.ProviderGit
	ProviderVault = backend.ProviderVault
	ProviderAPI   = backend.ProviderAPI
)

// ParseProvider validates a provider tag from user input.
func ParseProvider(name string) (Provider, error) {
	return backend.ParseProvider(name)
}

// Re-exported result and record types.
type (
	Result        = syncer.Result
	ConflictSet   = conflict.ConflictSet
	ConflictError = conflict.ConflictError
	Environment   = manifest.Environment
	VersionRecord = history.VersionRecord
	AuditEntry    = history.AuditEntry
	Violation     = syncer.Violation

	ValidationError = syncer.ValidationError
	UnresolvedError = syncer.UnresolvedError
)

// Sentinel errors surfaced by Project operations.
var (
	ErrEnvironmentNotFound = syncer.ErrEnvironmentNotFound
	ErrEnvironmentInactive = syncer.ErrEnvironmentInactive
	ErrNeverPushed         = syncer.ErrNeverPushed
	ErrVersionNotFound     = history.ErrVersionNotFound
	ErrRemoteNotFound      = backend.ErrNotFound
)

// FormatDiff renders a conflict set for display. Secret values are masked.
func FormatDiff(cs ConflictSet) string {
	return conflict.RenderDiff(cs)
}

// Config configures a Project. Root is required; everything else has a
// usable default.
type Config struct {
	// Root is the project directory. The manifest, the history database
	// and all local snapshot files live under it.
	Root string

	// Actor is recorded on version and audit records. Defaults to
	// "unknown".
	Actor string

	Logger *zap.Logger

	// Per-provider backend settings. Only the providers the manifest
	// actually references need to be configured; the git backend defaults
	// to a store directory under Root.
	Git   gitstore.Config
	Vault vaultstore.Config
	API   apistore.Config
}

// Project is the top-level handle for one managed project.
type Project struct {
	root     string
	cfg      Config
	manifest *manifest.Manifest
	history  *history.Store
	secrets  *keyring.Provider
	orch     *syncer.Orchestrator
	logger   *zap.Logger
}

// Open loads the project at cfg.Root, creating the manifest and history
// database on first use.
func Open(cfg Config) (*Project, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	if cfg.Actor == "" {
		cfg.Actor = "unknown"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Git.Dir == "" {
		cfg.Git.Dir = filepath.Join(cfg.Root, ".envsync-store")
	}

	m, err := manifest.Load(filepath.Join(cfg.Root, manifest.DefaultFileName))
	if err != nil {
		return nil, err
	}

	hist, err := history.Open(filepath.Join(cfg.Root, HistoryFileName), cfg.Logger)
	if err != nil {
		return nil, err
	}

	secrets := keyring.New()

	p := &Project{
		root:     cfg.Root,
		cfg:      cfg,
		manifest: m,
		history:  hist,
		secrets:  secrets,
		logger:   cfg.Logger,
	}

	orch, err := syncer.New(syncer.Options{
		Root:     cfg.Root,
		Manifest: m,
		History:  hist,
		Backends: p.openBackend,
		Secrets:  secrets,
		Actor:    cfg.Actor,
		Logger:   cfg.Logger,
	})
	if err != nil {
		hist.Close()
		return nil, err
	}
	p.orch = orch
	return p, nil
}

// Close releases the history database and filesystem handles.
func (p *Project) Close() error {
	err := p.orch.Close()
	if cerr := p.history.Close(); err == nil {
		err = cerr
	}
	return err
}

// openBackend constructs and initializes the backend for a provider tag.
func (p *Project) openBackend(ctx context.Context, provider backend.Provider) (backend.Backend, error) {
	var b backend.Backend
	switch provider {
	case backend.ProviderGit:
		b = gitstore.New(p.cfg.Git, p.logger)
	case backend.ProviderVault:
		store, err := vaultstore.New(p.cfg.Vault, p.logger)
		if err != nil {
			return nil, err
		}
		b = store
	case backend.ProviderAPI:
		b = apistore.New(p.cfg.API, p.logger)
	default:
		return nil, fmt.Errorf("unknown backend provider %q", provider)
	}

	if err := b.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", provider, err)
	}
	return b, nil
}

// Push uploads the named environment's local snapshot.
func (p *Project) Push(ctx context.Context, env string) (*Result, error) {
	return p.orch.Push(ctx, env)
}

// Pull replaces the named environment's local snapshot with the remote
// one, backing up the previous file first.
func (p *Project) Pull(ctx context.Context, env string) (*Result, error) {
	return p.orch.Pull(ctx, env)
}

// Sync reconciles local and remote using the given strategy. Pass an
// empty strategy to probe: divergence then fails with *UnresolvedError
// carrying the conflict set.
func (p *Project) Sync(ctx context.Context, env string, strategy Strategy) (*Result, error) {
	return p.orch.Sync(ctx, env, strategy)
}

// Diff compares local against remote without modifying either side.
func (p *Project) Diff(ctx context.Context, env string) (ConflictSet, error) {
	return p.orch.Diff(ctx, env)
}

// Rollback restores the local snapshot to a historical version. The
// remote is not touched; push or sync afterwards to propagate.
func (p *Project) Rollback(ctx context.Context, env string, version uint64) (*Result, error) {
	return p.orch.Rollback(ctx, env, version)
}

// History lists all recorded versions for an environment, oldest first.
func (p *Project) History(env string) ([]VersionRecord, error) {
	return p.history.List(env)
}

// Version retrieves one recorded version.
func (p *Project) Version(env string, version uint64) (*VersionRecord, error) {
	return p.history.Get(env, version)
}

// CurrentVersion returns the latest version number, 0 when none exist.
func (p *Project) CurrentVersion(env string) (uint64, error) {
	return p.history.Current(env)
}

// Audit lists retained audit entries for an environment, oldest first.
func (p *Project) Audit(env string) ([]AuditEntry, error) {
	return p.history.ListAudit(env)
}

// Environments returns the manifest's environment entries.
func (p *Project) Environments() []*Environment {
	return p.manifest.Environments
}

// AddEnvironment registers an environment in the manifest. The provider
// tag and local path are validated before anything is written.
func (p *Project) AddEnvironment(env *Environment) error {
	if env.Name == "" {
		return fmt.Errorf("environment name is required")
	}
	if _, err := backend.ParseProvider(env.Provider); err != nil {
		return err
	}

	validator, err := security.New(p.root)
	if err != nil {
		return err
	}
	defer validator.Close()
	if _, err := validator.ValidateAndNormalize(env.Path); err != nil {
		return fmt.Errorf("invalid snapshot path: %w", err)
	}

	p.manifest.Upsert(env)
	if err := p.manifest.Save(); err != nil {
		return err
	}
	return p.recordAdmin(env.Name, "environment-added", nil)
}

// DeactivateEnvironment soft-deletes an environment. Its history, audit
// trail and local file all remain; operations on it fail with
// ErrEnvironmentInactive until it is reactivated.
func (p *Project) DeactivateEnvironment(name string) error {
	env := p.manifest.Environment(name)
	if env == nil {
		return fmt.Errorf("%w: %s", ErrEnvironmentNotFound, name)
	}
	env.Inactive = true
	if err := p.manifest.Save(); err != nil {
		return err
	}
	if err := p.history.MarkInactive(name); err != nil {
		return err
	}
	return p.recordAdmin(name, "environment-deactivated", nil)
}

// ReactivateEnvironment reverses a soft delete.
func (p *Project) ReactivateEnvironment(name string) error {
	env := p.manifest.Environment(name)
	if env == nil {
		return fmt.Errorf("%w: %s", ErrEnvironmentNotFound, name)
	}
	env.Inactive = false
	if err := p.manifest.Save(); err != nil {
		return err
	}
	if err := p.history.MarkActive(name); err != nil {
		return err
	}
	return p.recordAdmin(name, "environment-reactivated", nil)
}

// SetSecret stores the encryption secret for an environment in the OS
// keyring.
func (p *Project) SetSecret(env string, secret []byte) error {
	if err := p.secrets.SetSecret(env, secret); err != nil {
		return err
	}
	return p.recordAdmin(env, "secret-set", nil)
}

// DeleteSecret removes an environment's secret from the OS keyring.
// Encrypted payloads stored under it become unrecoverable.
func (p *Project) DeleteSecret(env string) error {
	if err := p.secrets.DeleteSecret(env); err != nil {
		return err
	}
	return p.recordAdmin(env, "secret-deleted", nil)
}

// HasSecret reports whether a keyring secret exists for an environment.
func (p *Project) HasSecret(env string) bool {
	return p.secrets.HasSecret(env)
}

// Compact rewrites the history database, reclaiming space freed by audit
// eviction.
func (p *Project) Compact() error {
	return p.history.Compact()
}

func (p *Project) recordAdmin(env, action string, details map[string]string) error {
	err := p.history.AppendAudit(env, AuditEntry{
		Action:    action,
		Actor:     p.cfg.Actor,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
	if err != nil {
		p.logger.Warn("audit append failed",
			zap.String("environment", env),
			zap.String("action", action),
			zap.Error(err))
	}
	return nil
}
