package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	assert.Empty(t, m.Environments)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	m, err := Load(path)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	m.Upsert(&Environment{
		Name:      "prod",
		Path:      ".env.production",
		Provider:  "vault",
		Encrypted: true,
		Handle:    "handle-123",
		LastPush:  &now,
	})
	m.Upsert(&Environment{Name: "dev", Path: ".env", Provider: "git"})
	require.NoError(t, m.Save())

	// File permissions stay owner-only; snapshots may hold secrets.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Environments, 2)

	prod := reloaded.Environment("prod")
	require.NotNil(t, prod)
	assert.Equal(t, ".env.production", prod.Path)
	assert.Equal(t, "vault", prod.Provider)
	assert.True(t, prod.Encrypted)
	assert.Equal(t, "handle-123", prod.Handle)
	require.NotNil(t, prod.LastPush)
	assert.True(t, prod.LastPush.Equal(now))

	dev := reloaded.Environment("dev")
	require.NotNil(t, dev)
	assert.Empty(t, dev.Handle, "never-pushed environment has no handle")
	assert.Nil(t, dev.LastPush)
}

func TestUpsertReplaces(t *testing.T) {
	m := &Manifest{Version: 1}
	m.Upsert(&Environment{Name: "dev", Provider: "git"})
	m.Upsert(&Environment{Name: "dev", Provider: "api"})

	require.Len(t, m.Environments, 1)
	assert.Equal(t, "api", m.Environments[0].Provider)
}

func TestEnvironmentMissing(t *testing.T) {
	m := &Manifest{Version: 1}
	assert.Nil(t, m.Environment("ghost"))
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not yaml:"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
