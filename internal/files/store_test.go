package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PutOpenResolve(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	name := UniqueFilename("Report.PDF")
	require.True(t, strings.HasSuffix(name, ".pdf"))

	p, err := s.Put(ctx, name, strings.NewReader("data"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.Root(), name), p)

	f, err := s.Open(ctx, name)
	require.NoError(t, err)
	b, _ := io.ReadAll(f)
	_ = f.Close()
	require.Equal(t, "data", string(b))

	resolved, err := s.Resolve(p)
	require.NoError(t, err)
	require.Equal(t, p, resolved)

	_, err = s.Put(ctx, name, strings.NewReader("again"))
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, name))
	_, err = s.Open(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	ctx := context.Background()

	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))

	_, err = s.Resolve(secret)
	require.ErrorIs(t, err, ErrPathTraversal)
	_, err = s.Resolve(filepath.Join(s.Root(), "..", "secret.txt"))
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = s.Open(ctx, "../secret.txt")
	require.ErrorIs(t, err, ErrPathTraversal)
	_, err = s.Put(ctx, "..", strings.NewReader(""))
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = s.Resolve(filepath.Join(s.Root(), "nope.txt"))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Resolve("")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueFilename_NoExtension(t *testing.T) {
	a, b := UniqueFilename("README"), UniqueFilename("README")
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}
