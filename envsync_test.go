package envsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestProject(t *testing.T) *Project {
	t.Helper()
	p, err := Open(Config{Root: t.TempDir(), Actor: "alice"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenRequiresRoot(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestAddEnvironmentValidation(t *testing.T) {
	p := openTestProject(t)

	err := p.AddEnvironment(&Environment{Name: "dev", Path: ".env", Provider: "s3"})
	assert.Error(t, err, "unknown provider rejected")

	err = p.AddEnvironment(&Environment{Name: "dev", Path: "../outside.env", Provider: "git"})
	assert.Error(t, err, "escaping path rejected")

	err = p.AddEnvironment(&Environment{Name: "", Path: ".env", Provider: "git"})
	assert.Error(t, err, "empty name rejected")

	err = p.AddEnvironment(&Environment{Name: "dev", Path: ".env", Provider: "git"})
	require.NoError(t, err)
	require.Len(t, p.Environments(), 1)
}

func TestPushPullLifecycle(t *testing.T) {
	p := openTestProject(t)
	ctx := context.Background()

	require.NoError(t, p.AddEnvironment(&Environment{Name: "dev", Path: ".env", Provider: "git"}))
	require.NoError(t, os.WriteFile(filepath.Join(p.root, ".env"), []byte("DB_HOST=localhost\n"), 0600))

	result, err := p.Push(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Version)

	// Local drifts, pull restores the pushed state.
	require.NoError(t, os.WriteFile(filepath.Join(p.root, ".env"), []byte("DB_HOST=drifted\n"), 0600))
	result, err = p.Pull(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.Version)

	data, err := os.ReadFile(filepath.Join(p.root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "DB_HOST=localhost\n", string(data))

	records, err := p.History("dev")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	entries, err := p.Audit("dev")
	require.NoError(t, err)
	// environment-added, push, pull.
	assert.Len(t, entries, 3)

	current, err := p.CurrentVersion("dev")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current)
}

func TestSyncAndRollbackLifecycle(t *testing.T) {
	p := openTestProject(t)
	ctx := context.Background()

	require.NoError(t, p.AddEnvironment(&Environment{Name: "dev", Path: ".env", Provider: "git"}))
	require.NoError(t, os.WriteFile(filepath.Join(p.root, ".env"), []byte("A=1\n"), 0600))

	_, err := p.Push(ctx, "dev")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p.root, ".env"), []byte("A=2\n"), 0600))

	cs, err := p.Diff(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, cs.InSync())
	assert.Contains(t, FormatDiff(cs), "~ A:")

	// No strategy supplied: divergence is reported, nothing written.
	_, err = p.Sync(ctx, "dev", "")
	var unresolved *UnresolvedError
	require.ErrorAs(t, err, &unresolved)

	result, err := p.Sync(ctx, "dev", StrategyLocal)
	require.NoError(t, err)
	assert.False(t, result.NoOp)

	rolled, err := p.Rollback(ctx, "dev", 1)
	require.NoError(t, err)
	assert.Greater(t, rolled.Version, uint64(2))

	data, err := os.ReadFile(filepath.Join(p.root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", string(data))
}

func TestDeactivateBlocksOperations(t *testing.T) {
	p := openTestProject(t)
	ctx := context.Background()

	require.NoError(t, p.AddEnvironment(&Environment{Name: "dev", Path: ".env", Provider: "git"}))
	require.NoError(t, p.DeactivateEnvironment("dev"))

	_, err := p.Push(ctx, "dev")
	assert.ErrorIs(t, err, ErrEnvironmentInactive)

	require.NoError(t, p.ReactivateEnvironment("dev"))
	_, err = p.Push(ctx, "dev")
	assert.NoError(t, err)
}

func TestManifestPersistsAcrossOpens(t *testing.T) {
	root := t.TempDir()

	p, err := Open(Config{Root: root, Actor: "alice"})
	require.NoError(t, err)
	require.NoError(t, p.AddEnvironment(&Environment{Name: "prod", Path: ".env.production", Provider: "git"}))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.production"), []byte("A=1\n"), 0600))
	_, err = p.Push(context.Background(), "prod")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := Open(Config{Root: root, Actor: "alice"})
	require.NoError(t, err)
	defer reopened.Close()

	env := reopened.manifest.Environment("prod")
	require.NotNil(t, env)
	assert.NotEmpty(t, env.Handle, "handle survives reopen")

	current, err := reopened.CurrentVersion("prod")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), current)
}
