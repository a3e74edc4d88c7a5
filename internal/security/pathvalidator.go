// Package security confines snapshot file I/O to the project root.
//
// Environment file paths come from the project manifest, which is plain
// YAML anyone can edit; validating them through os.Root guarantees that a
// tampered manifest cannot make the orchestrator read or overwrite files
// outside the project.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes project root")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// Validator provides path validation and file operations confined to the
// project root using os.Root.
type Validator struct {
	root     *os.Root
	rootPath string
}

// New creates a Validator for the project at the given path.
func New(projectPath string) (*Validator, error) {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open project root: %w", err)
	}

	return &Validator{root: root, rootPath: absPath}, nil
}

// Close releases resources held by the Validator.
func (v *Validator) Close() error {
	if v.root != nil {
		return v.root.Close()
	}
	return nil
}

// ValidateAndNormalize validates a manifest-supplied path and returns a
// normalized slash-separated relative path. It rejects empty paths,
// absolute paths and paths that escape the project root.
func (v *Validator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)
	if !filepath.IsLocal(cleanPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, cleanPath)
	}

	// Containment double-check after lexical normalization.
	relPath, err := filepath.Rel(v.rootPath, filepath.Join(v.rootPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// ReadFile reads a file within the project root. The path is validated
// first; escaping paths fail even if symlinks are involved.
func (v *Validator) ReadFile(path string) ([]byte, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := v.ValidateAndNormalize(platformPath); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return v.root.ReadFile(platformPath)
}

// WriteFile writes a file within the project root.
func (v *Validator) WriteFile(path string, data []byte, perm os.FileMode) error {
	platformPath := filepath.FromSlash(path)
	if _, err := v.ValidateAndNormalize(platformPath); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return v.root.WriteFile(platformPath, data, perm)
}

// MkdirAll creates directories within the project root.
func (v *Validator) MkdirAll(path string, perm os.FileMode) error {
	platformPath := filepath.FromSlash(path)
	if _, err := v.ValidateAndNormalize(platformPath); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return v.root.MkdirAll(platformPath, perm)
}

// Exists reports whether a validated path exists within the project root.
func (v *Validator) Exists(path string) (bool, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := v.ValidateAndNormalize(platformPath); err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}
	_, err := v.root.Stat(platformPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
