package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterwatch/internal/ledger/file"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "ledger.txt")})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	links, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestAppendThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "ledger.txt")
	store, err := file.New(file.Config{Path: path})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "https://example.com/a"))
	require.NoError(t, store.Append(ctx, "https://example.com/b"))
	require.NoError(t, store.Close())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a\nhttps://example.com/b\n", string(raw))

	reopened, err := file.New(file.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })
	links, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, links)
}

func TestTornTailIsIgnoredAndIsolated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://example.com/a\nhttps://exam"), 0o600))

	store, err := file.New(file.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	ctx := context.Background()

	links, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a"}, links)

	require.NoError(t, store.Append(ctx, "https://example.com/c"))
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a\nhttps://exam\nhttps://example.com/c\n", string(raw))
}

func TestSecondStoreIsLocked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.txt")
	first, err := file.New(file.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, first.Close()) })

	_, err = file.New(file.Config{Path: path})
	require.ErrorIs(t, err, file.ErrLocked)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := file.New(file.Config{})
	require.Error(t, err)
}
