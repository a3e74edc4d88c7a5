// Package gitstore persists payloads as structured files under a
// project-local directory. When the directory sits inside a git worktree,
// every write is followed by a commit as the durability step; otherwise it
// degrades to plain files.
package gitstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/backend"
)

const (
	dirPermSecure  = 0700
	filePermSecure = 0600

	defaultAuthorName  = "envsync"
	defaultAuthorEmail = "envsync@localhost"
)

// Config holds gitstore settings.
type Config struct {
	// Dir is the directory payload files are written to.
	Dir string
	// AuthorName and AuthorEmail sign the durability commits.
	AuthorName  string
	AuthorEmail string
}

// Store is a file/VCS-backed backend.
type Store struct {
	cfg    Config
	repo   *git.Repository
	logger *zap.Logger
}

// envelope is the on-disk file format.
type envelope struct {
	ID        string          `json:"id"`
	Payload   backend.Payload `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// New creates a gitstore backend. Call Initialize before use.
func New(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = defaultAuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = defaultAuthorEmail
	}
	return &Store{cfg: cfg, logger: logger}
}

// Initialize creates the payload directory and detects an enclosing git
// worktree. A missing worktree is not an error; commits are skipped.
func (s *Store) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.cfg.Dir, dirPermSecure); err != nil {
		return backend.NewError(backend.ErrFatal, "initialize", err.Error())
	}

	repo, err := git.PlainOpenWithOptions(s.cfg.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	switch {
	case err == nil:
		s.repo = repo
	case errors.Is(err, git.ErrRepositoryNotExists):
		s.logger.Debug("no git worktree detected, running in plain directory mode",
			zap.String("dir", s.cfg.Dir))
	default:
		return backend.NewError(backend.ErrFatal, "initialize", err.Error())
	}
	return nil
}

// Store writes the payload file atomically and commits it. An empty id
// creates a new object with a generated identifier.
func (s *Store) Store(ctx context.Context, id string, payload backend.Payload) (*backend.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	env := envelope{ID: id, Payload: payload, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, backend.NewError(backend.ErrFatal, "store", err.Error())
	}

	path := s.payloadPath(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePermSecure); err != nil {
		return nil, backend.NewError(backend.ErrTransient, "store", err.Error())
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, backend.NewError(backend.ErrTransient, "store", err.Error())
	}

	if err := s.commit(path, fmt.Sprintf("envsync: store %s", id)); err != nil {
		return nil, err
	}

	return &backend.Metadata{ID: id, Location: path, UpdatedAt: env.UpdatedAt}, nil
}

// Retrieve reads a payload file back.
func (s *Store) Retrieve(ctx context.Context, id string) (backend.Payload, *backend.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return backend.Payload{}, nil, err
	}
	if err := validateID(id); err != nil {
		return backend.Payload{}, nil, err
	}

	path := s.payloadPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return backend.Payload{}, nil, backend.NewError(backend.ErrNotFound, "retrieve", id)
		}
		return backend.Payload{}, nil, backend.NewError(backend.ErrTransient, "retrieve", err.Error())
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return backend.Payload{}, nil, backend.NewError(backend.ErrFatal, "retrieve", fmt.Sprintf("corrupt payload file %s", path))
	}
	return env.Payload, &backend.Metadata{ID: env.ID, Location: path, UpdatedAt: env.UpdatedAt}, nil
}

// List enumerates the payload files in the directory.
func (s *Store) List(ctx context.Context) ([]backend.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*.json"))
	if err != nil {
		return nil, backend.NewError(backend.ErrFatal, "list", err.Error())
	}

	summaries := make([]backend.Summary, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("skipping corrupt payload file", zap.String("path", path))
			continue
		}
		summaries = append(summaries, backend.Summary{
			ID:        env.ID,
			Size:      int64(len(env.Payload.Data)),
			Encrypted: env.Payload.Encrypted,
			UpdatedAt: env.UpdatedAt,
		})
	}
	return summaries, nil
}

// Delete removes the payload file and commits the removal.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	path := s.payloadPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return backend.NewError(backend.ErrNotFound, "delete", id)
	}
	if err := os.Remove(path); err != nil {
		return backend.NewError(backend.ErrTransient, "delete", err.Error())
	}
	return s.commit(path, fmt.Sprintf("envsync: delete %s", id))
}

// commit stages path and records a commit. No-ops without a worktree and
// tolerates empty commits when the content was already committed.
func (s *Store) commit(path, message string) error {
	if s.repo == nil {
		return nil
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return backend.NewError(backend.ErrFatal, "commit", err.Error())
	}

	rel, err := filepath.Rel(worktree.Filesystem.Root(), path)
	if err != nil {
		return backend.NewError(backend.ErrFatal, "commit", err.Error())
	}
	if _, err := worktree.Add(filepath.ToSlash(rel)); err != nil {
		return backend.NewError(backend.ErrFatal, "commit", err.Error())
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.cfg.AuthorName,
			Email: s.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
		return backend.NewError(backend.ErrFatal, "commit", err.Error())
	}

	s.logger.Debug("payload committed", zap.String("path", path))
	return nil
}

func (s *Store) payloadPath(id string) string {
	return filepath.Join(s.cfg.Dir, id+".json")
}

// validateID keeps identifiers usable as file names and confined to the
// payload directory.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || !filepath.IsLocal(id) {
		return backend.NewError(backend.ErrFatal, "validate", fmt.Sprintf("invalid storage id %q", id))
	}
	return nil
}
