package gitstore

import (
	"context"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/live-labs/envsync/internal/backend"
)

func openPlainStore(t *testing.T) *Store {
	t.Helper()
	store := New(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func TestStoreCreateAssignsID(t *testing.T) {
	store := openPlainStore(t)
	ctx := context.Background()

	meta, err := store.Store(ctx, "", backend.Payload{Data: []byte(`{"a":1}`), Format: backend.FormatSnapshot})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
	assert.NotEmpty(t, meta.Location)

	payload, got, err := store.Retrieve(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), payload.Data)
	assert.Equal(t, backend.FormatSnapshot, payload.Format)
	assert.Equal(t, meta.ID, got.ID)
}

func TestStoreUpdateInPlace(t *testing.T) {
	store := openPlainStore(t)
	ctx := context.Background()

	meta, err := store.Store(ctx, "", backend.Payload{Data: []byte("v1")})
	require.NoError(t, err)

	updated, err := store.Store(ctx, meta.ID, backend.Payload{Data: []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, meta.ID, updated.ID)

	payload, _, err := store.Retrieve(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload.Data)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestRetrieveMissing(t *testing.T) {
	store := openPlainStore(t)
	_, _, err := store.Retrieve(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDelete(t *testing.T) {
	store := openPlainStore(t)
	ctx := context.Background()

	meta, err := store.Store(ctx, "", backend.Payload{Data: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, meta.ID))
	_, _, err = store.Retrieve(ctx, meta.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	err = store.Delete(ctx, meta.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestListReportsEncryption(t *testing.T) {
	store := openPlainStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, "plain", backend.Payload{Data: []byte("aa")})
	require.NoError(t, err)
	_, err = store.Store(ctx, "sealed", backend.Payload{Data: []byte("bbbb"), Encrypted: true, Format: backend.FormatEncryptedBlob})
	require.NoError(t, err)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := map[string]backend.Summary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.False(t, byID["plain"].Encrypted)
	assert.True(t, byID["sealed"].Encrypted)
	assert.Equal(t, int64(4), byID["sealed"].Size)
}

func TestInvalidIDRejected(t *testing.T) {
	store := openPlainStore(t)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", `a\b`, ".."} {
		_, err := store.Store(ctx, id, backend.Payload{Data: []byte("x")})
		assert.Error(t, err, "id %q", id)

		_, _, err = store.Retrieve(ctx, id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestCommitsInsideWorktree(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	store := New(Config{Dir: dir}, nil)
	require.NoError(t, store.Initialize(context.Background()))

	meta, err := store.Store(context.Background(), "prod", backend.Payload{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "prod", meta.ID)

	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "envsync: store prod", commit.Message)
	assert.Equal(t, "envsync", commit.Author.Name)
}

func TestContextCancellation(t *testing.T) {
	store := openPlainStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Store(ctx, "", backend.Payload{Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}
