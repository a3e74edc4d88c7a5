package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/backend"
	"github.com/live-labs/envsync/internal/codec"
	"github.com/live-labs/envsync/internal/conflict"
	"github.com/live-labs/envsync/internal/crypto"
	"github.com/live-labs/envsync/internal/history"
	"github.com/live-labs/envsync/internal/manifest"
	"github.com/live-labs/envsync/internal/security"
)

const filePermSecure = 0600

// BackupSuffix is appended to the previous local file before a rewrite.
const BackupSuffix = ".backup"

// keyPattern is the identifier shape every variable key must match.
var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SecretProvider resolves the encryption secret for an environment.
type SecretProvider interface {
	Secret(env string) ([]byte, error)
}

// BackendOpener resolves a ready-to-use backend for a provider tag.
type BackendOpener func(ctx context.Context, provider backend.Provider) (backend.Backend, error)

// Options wires an Orchestrator. Manifest, History and Backends are
// required; Secrets is required only for encrypted environments.
type Options struct {
	// Root is the project root directory local snapshot paths resolve
	// against.
	Root     string
	Manifest *manifest.Manifest
	History  *history.Store
	Backends BackendOpener
	Secrets  SecretProvider
	// Actor is recorded as the author of versions and audit entries.
	Actor  string
	Logger *zap.Logger
}

// Orchestrator runs push, pull and sync for a project's environments. It
// holds no global state; construct one per project/session.
type Orchestrator struct {
	root        string
	manifest    *manifest.Manifest
	history     *history.Store
	openBackend BackendOpener
	secrets     SecretProvider
	actor       string
	validator   *security.Validator
	logger      *zap.Logger
}

// Result reports what one operation did.
type Result struct {
	Environment string
	Operation   string // push, pull or sync
	Version     uint64 // version appended, 0 when nothing was recorded
	Added       int
	Removed     int
	Modified    int
	NoOp        bool
	// Warnings lists bookkeeping failures (version/audit/timestamps)
	// that did not roll back the applied mutation.
	Warnings []string
}

// New creates an orchestrator for the project at opts.Root.
func New(opts Options) (*Orchestrator, error) {
	if opts.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if opts.Backends == nil {
		return nil, fmt.Errorf("backend opener is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	validator, err := security.New(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize path validator: %w", err)
	}

	return &Orchestrator{
		root:        opts.Root,
		manifest:    opts.Manifest,
		history:     opts.History,
		openBackend: opts.Backends,
		secrets:     opts.Secrets,
		actor:       opts.Actor,
		validator:   validator,
		logger:      opts.Logger,
	}, nil
}

// Close releases resources held by the orchestrator.
func (o *Orchestrator) Close() error {
	return o.validator.Close()
}

// Push reads the local snapshot, validates it, optionally encrypts it and
// stores it remotely. A missing local file is an empty snapshot, not an
// error. The first push assigns the environment's storage handle.
func (o *Orchestrator) Push(ctx context.Context, envName string) (*Result, error) {
	env, err := o.environment(envName)
	if err != nil {
		return nil, err
	}

	local, err := o.readLocal(env)
	if err != nil {
		return nil, err
	}
	if err := validateSnapshot(local); err != nil {
		return nil, err
	}

	payload, err := o.encodePayload(env, local)
	if err != nil {
		return nil, err
	}

	b, err := o.openBackend(ctx, backend.Provider(env.Provider))
	if err != nil {
		return nil, err
	}
	meta, err := b.Store(ctx, env.Handle, payload)
	if err != nil {
		return nil, err
	}
	created := env.Handle == ""
	env.Handle = meta.ID

	result := &Result{Environment: envName, Operation: history.ChangePush}
	o.recordChange(env, local, history.ChangePush, "pushed local snapshot", map[string]string{
		"handle":  env.Handle,
		"created": strconv.FormatBool(created),
	}, result)

	now := time.Now().UTC()
	env.LastPush = &now
	if err := o.manifest.Save(); err != nil {
		// The remote write already happened; losing the handle would
		// orphan it, so this cannot be degraded to a warning.
		return nil, fmt.Errorf("push succeeded but manifest save failed: %w", err)
	}

	o.logger.Info("pushed environment",
		zap.String("environment", envName),
		zap.String("handle", env.Handle),
		zap.Uint64("version", result.Version))
	return result, nil
}

// Pull retrieves the remote snapshot, validates it, backs up the local
// file and replaces it.
func (o *Orchestrator) Pull(ctx context.Context, envName string) (*Result, error) {
	env, err := o.environment(envName)
	if err != nil {
		return nil, err
	}
	if env.Handle == "" {
		return nil, fmt.Errorf("%w: %s", ErrNeverPushed, envName)
	}

	b, err := o.openBackend(ctx, backend.Provider(env.Provider))
	if err != nil {
		return nil, err
	}
	payload, _, err := b.Retrieve(ctx, env.Handle)
	if err != nil {
		return nil, err
	}

	remote, err := o.decodePayload(env, payload)
	if err != nil {
		return nil, err
	}
	if err := validateSnapshot(remote); err != nil {
		return nil, err
	}

	if err := o.writeLocal(env, remote); err != nil {
		return nil, err
	}

	result := &Result{Environment: envName, Operation: history.ChangePull}
	o.recordChange(env, remote, history.ChangePull, "pulled remote snapshot", map[string]string{
		"handle": env.Handle,
	}, result)

	now := time.Now().UTC()
	env.LastPull = &now
	if err := o.manifest.Save(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("manifest save failed: %v", err))
	}

	o.logger.Info("pulled environment",
		zap.String("environment", envName),
		zap.Uint64("version", result.Version))
	return result, nil
}

// Sync reconciles local and remote. With no differences it succeeds as a
// no-op. With divergence and an empty strategy it fails with
// UnresolvedError so the calling layer can pick a strategy. The merged
// snapshot is always written locally; it is written back remotely only
// when it differs from what the remote already holds.
func (o *Orchestrator) Sync(ctx context.Context, envName string, strategy conflict.Strategy) (*Result, error) {
	env, err := o.environment(envName)
	if err != nil {
		return nil, err
	}

	local, err := o.readLocal(env)
	if err != nil {
		return nil, err
	}
	if err := validateSnapshot(local); err != nil {
		return nil, err
	}

	remote := codec.NewSnapshot()
	var b backend.Backend
	if env.Handle != "" {
		b, err = o.openBackend(ctx, backend.Provider(env.Provider))
		if err != nil {
			return nil, err
		}
		payload, _, err := b.Retrieve(ctx, env.Handle)
		if err != nil {
			return nil, err
		}
		remote, err = o.decodePayload(env, payload)
		if err != nil {
			return nil, err
		}
		if err := validateSnapshot(remote); err != nil {
			return nil, err
		}
	}

	cs := conflict.Detect(local, remote)
	result := &Result{
		Environment: envName,
		Operation:   history.ChangeSync,
		Added:       len(cs.Added),
		Removed:     len(cs.Removed),
		Modified:    len(cs.Modified),
	}

	if cs.InSync() {
		result.NoOp = true
		now := time.Now().UTC()
		env.LastSync = &now
		if err := o.manifest.Save(); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("manifest save failed: %v", err))
		}
		return result, nil
	}

	if strategy == "" {
		return nil, &UnresolvedError{Environment: envName, Conflicts: cs}
	}

	merged, err := o.merge(env.Name, local, remote, strategy)
	if err != nil {
		return nil, err
	}

	if err := o.writeLocal(env, merged); err != nil {
		return nil, err
	}

	if !merged.Equal(remote) {
		payload, err := o.encodePayload(env, merged)
		if err != nil {
			return nil, err
		}
		if b == nil {
			b, err = o.openBackend(ctx, backend.Provider(env.Provider))
			if err != nil {
				return nil, err
			}
		}
		meta, err := b.Store(ctx, env.Handle, payload)
		if err != nil {
			return nil, err
		}
		env.Handle = meta.ID
	}

	o.recordChange(env, merged, history.ChangeSync, fmt.Sprintf("synchronized with %s strategy", strategy), map[string]string{
		"strategy": string(strategy),
		"added":    strconv.Itoa(result.Added),
		"removed":  strconv.Itoa(result.Removed),
		"modified": strconv.Itoa(result.Modified),
	}, result)

	now := time.Now().UTC()
	env.LastSync = &now
	if err := o.manifest.Save(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("manifest save failed: %v", err))
	}

	o.logger.Info("synchronized environment",
		zap.String("environment", envName),
		zap.String("strategy", string(strategy)),
		zap.Uint64("version", result.Version))
	return result, nil
}

// Diff compares local against remote without writing anything. An
// environment that was never pushed compares against an empty remote.
func (o *Orchestrator) Diff(ctx context.Context, envName string) (conflict.ConflictSet, error) {
	env, err := o.environment(envName)
	if err != nil {
		return conflict.ConflictSet{}, err
	}

	local, err := o.readLocal(env)
	if err != nil {
		return conflict.ConflictSet{}, err
	}

	remote := codec.NewSnapshot()
	if env.Handle != "" {
		b, err := o.openBackend(ctx, backend.Provider(env.Provider))
		if err != nil {
			return conflict.ConflictSet{}, err
		}
		payload, _, err := b.Retrieve(ctx, env.Handle)
		if err != nil {
			return conflict.ConflictSet{}, err
		}
		remote, err = o.decodePayload(env, payload)
		if err != nil {
			return conflict.ConflictSet{}, err
		}
	}

	return conflict.Detect(local, remote), nil
}

// Rollback restores the local file to a historical version and appends a
// new version record continuing the sequence.
func (o *Orchestrator) Rollback(ctx context.Context, envName string, targetVersion uint64) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env, err := o.environment(envName)
	if err != nil {
		return nil, err
	}

	record, err := o.history.Rollback(envName, targetVersion, o.actor)
	if err != nil {
		return nil, err
	}
	if err := o.writeLocal(env, record.Snapshot); err != nil {
		return nil, err
	}

	result := &Result{Environment: envName, Operation: history.ChangeRollback, Version: record.Version}
	if err := o.history.AppendAudit(envName, history.AuditEntry{
		Action: history.ChangeRollback,
		Actor:  o.actor,
		Details: map[string]string{
			"target":  strconv.FormatUint(targetVersion, 10),
			"version": strconv.FormatUint(record.Version, 10),
		},
	}); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("audit append failed: %v", err))
	}
	return result, nil
}

// merge applies the chosen strategy. The three-way strategy resolves
// against the last recorded version as the common ancestor and degrades to
// remote precedence when the environment has no history yet.
func (o *Orchestrator) merge(envName string, local, remote *codec.Snapshot, strategy conflict.Strategy) (*codec.Snapshot, error) {
	if strategy != conflict.StrategyThreeWay {
		return conflict.Merge(local, remote, strategy)
	}

	var ancestor *codec.Snapshot
	current, err := o.history.Current(envName)
	if err == nil && current > 0 {
		if record, err := o.history.Get(envName, current); err == nil {
			ancestor = record.Snapshot
		}
	}
	if ancestor == nil {
		o.logger.Warn("no common ancestor recorded, three-way merge degrades to remote precedence",
			zap.String("environment", envName))
	}
	return conflict.MergeThreeWay(ancestor, local, remote)
}

// recordChange appends the version record and audit entry for an accepted
// mutation. Failures become warnings on the result; the data mutation has
// already been applied and is not rolled back.
func (o *Orchestrator) recordChange(env *manifest.Environment, snapshot *codec.Snapshot, changeType, message string, details map[string]string, result *Result) {
	var bookkeeping *multierror.Error

	record, err := o.history.Append(env.Name, snapshot, o.actor, message, changeType)
	if err != nil {
		bookkeeping = multierror.Append(bookkeeping, fmt.Errorf("version append failed: %w", err))
	} else {
		result.Version = record.Version
		if details == nil {
			details = make(map[string]string)
		}
		details["version"] = strconv.FormatUint(record.Version, 10)
	}

	if err := o.history.AppendAudit(env.Name, history.AuditEntry{
		Action:  changeType,
		Actor:   o.actor,
		Details: details,
	}); err != nil {
		bookkeeping = multierror.Append(bookkeeping, fmt.Errorf("audit append failed: %w", err))
	}

	if bookkeeping != nil {
		for _, err := range bookkeeping.Errors {
			result.Warnings = append(result.Warnings, err.Error())
		}
		o.logger.Warn("history bookkeeping incomplete",
			zap.String("environment", env.Name),
			zap.Error(bookkeeping))
	}
}

// environment resolves a manifest entry, rejecting unknown and
// soft-deleted environments.
func (o *Orchestrator) environment(name string) (*manifest.Environment, error) {
	env := o.manifest.Environment(name)
	if env == nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, name)
	}
	if env.Inactive {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentInactive, name)
	}
	active, err := o.history.IsActive(name)
	if err == nil && !active {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentInactive, name)
	}
	return env, nil
}

// readLocal parses the environment's local snapshot file. A missing file
// is an empty snapshot.
func (o *Orchestrator) readLocal(env *manifest.Environment) (*codec.Snapshot, error) {
	data, err := o.validator.ReadFile(env.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return codec.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", env.Path, err)
	}
	return codec.Parse(data)
}

// writeLocal backs up the existing file, then rewrites it completely. An
// interrupted operation leaves either the old file or a full new one.
func (o *Orchestrator) writeLocal(env *manifest.Environment, snapshot *codec.Snapshot) error {
	existing, err := o.validator.ReadFile(env.Path)
	switch {
	case err == nil:
		if err := o.validator.WriteFile(env.Path+BackupSuffix, existing, filePermSecure); err != nil {
			return fmt.Errorf("failed to back up %s: %w", env.Path, err)
		}
	case os.IsNotExist(err):
		// Nothing to back up.
	default:
		return fmt.Errorf("failed to read %s: %w", env.Path, err)
	}

	if err := o.validator.WriteFile(env.Path, []byte(codec.Stringify(snapshot)), filePermSecure); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Path, err)
	}
	return nil
}

// encodePayload serializes a snapshot for storage, encrypting it when the
// environment has encryption enabled.
func (o *Orchestrator) encodePayload(env *manifest.Environment, snapshot *codec.Snapshot) (backend.Payload, error) {
	if !env.Encrypted {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return backend.Payload{}, fmt.Errorf("failed to encode snapshot: %w", err)
		}
		return backend.Payload{Data: data, Format: backend.FormatSnapshot}, nil
	}

	secret, err := o.secret(env.Name)
	if err != nil {
		return backend.Payload{}, err
	}
	defer crypto.ClearBytes(secret)

	blob, err := crypto.Encrypt(snapshot, secret)
	if err != nil {
		return backend.Payload{}, err
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return backend.Payload{}, fmt.Errorf("failed to encode blob: %w", err)
	}
	return backend.Payload{Data: data, Encrypted: true, Format: backend.FormatEncryptedBlob}, nil
}

// decodePayload turns a retrieved payload back into a snapshot,
// decrypting it when the payload is marked encrypted.
func (o *Orchestrator) decodePayload(env *manifest.Environment, payload backend.Payload) (*codec.Snapshot, error) {
	if payload.Encrypted {
		var blob crypto.EncryptedBlob
		if err := json.Unmarshal(payload.Data, &blob); err != nil {
			return nil, fmt.Errorf("%w: malformed blob envelope", crypto.ErrIntegrityCheckFailed)
		}
		secret, err := o.secret(env.Name)
		if err != nil {
			return nil, err
		}
		defer crypto.ClearBytes(secret)
		return crypto.Decrypt(&blob, secret)
	}

	snapshot := codec.NewSnapshot()
	if err := json.Unmarshal(payload.Data, snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return snapshot, nil
}

func (o *Orchestrator) secret(envName string) ([]byte, error) {
	if o.secrets == nil {
		return nil, fmt.Errorf("%w: no secret provider configured", crypto.ErrKeyUnavailable)
	}
	return o.secrets.Secret(envName)
}

// validateSnapshot checks every key and value and reports all violations
// at once, before any write occurs.
func validateSnapshot(s *codec.Snapshot) error {
	var violations []Violation
	for _, entry := range s.Entries() {
		if !keyPattern.MatchString(entry.Key) {
			violations = append(violations, Violation{
				Key:    entry.Key,
				Reason: "key must contain only letters, digits and underscores and must not start with a digit",
			})
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
