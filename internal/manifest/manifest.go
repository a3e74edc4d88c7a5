// Package manifest reads and writes the project manifest: the per-project
// YAML record of environments, their storage handles, local file paths and
// last push/pull/sync timestamps.
//
// Mutations happen in memory; nothing touches disk until Save is called,
// which rewrites the file atomically. This keeps multi-field updates (for
// example handle plus timestamp after a first push) all-or-nothing.
package manifest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the manifest file name at a project root.
const DefaultFileName = ".envsync.yaml"

const filePermSecure = 0600

// Environment is one managed environment within a project.
type Environment struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"` // local snapshot file, relative to project root
	Provider    string `yaml:"provider"`
	Description string `yaml:"description,omitempty"`
	Encrypted   bool   `yaml:"encrypted,omitempty"`
	Inactive    bool   `yaml:"inactive,omitempty"`

	// Handle is the opaque backend locator. Empty means never pushed.
	Handle string `yaml:"handle,omitempty"`

	LastPush *time.Time `yaml:"last_push,omitempty"`
	LastPull *time.Time `yaml:"last_pull,omitempty"`
	LastSync *time.Time `yaml:"last_sync,omitempty"`
}

// Manifest is the full project manifest.
type Manifest struct {
	Version      int            `yaml:"version"`
	Environments []*Environment `yaml:"environments"`

	path string
}

// Load reads a manifest file. A missing file yields an empty manifest so a
// fresh project needs no setup step before its first environment.
func Load(path string) (*Manifest, error) {
	m := &Manifest{Version: 1, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return m, nil
}

// Save writes the manifest atomically via a temp file and rename.
func (m *Manifest) Save() error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePermSecure); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Environment returns the named environment, or nil when absent.
func (m *Manifest) Environment(name string) *Environment {
	for _, env := range m.Environments {
		if env.Name == name {
			return env
		}
	}
	return nil
}

// Upsert adds an environment or replaces the entry with the same name.
func (m *Manifest) Upsert(env *Environment) {
	for i, existing := range m.Environments {
		if existing.Name == env.Name {
			m.Environments[i] = env
			return
		}
	}
	m.Environments = append(m.Environments, env)
}
