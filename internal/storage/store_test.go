package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := NewStore(fs, "uploads", zap.NewNop())
	require.NoError(t, err)
	return store, fs
}

func TestNewStoreCreatesTree(t *testing.T) {
	_, fs := testStore(t)

	for _, dir := range []string{"uploads/tasks", "uploads/temp"} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
}

func TestUniqueNameNoCollisions(t *testing.T) {
	store, _ := testStore(t)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		name := store.UniqueName("report.pdf")
		require.True(t, strings.HasSuffix(name, ".pdf"))
		require.NotContains(t, name, "report")
		_, dup := seen[name]
		require.False(t, dup, "collision on %s", name)
		seen[name] = struct{}{}
	}
}

func TestWriteMeasuresAndHashes(t *testing.T) {
	store, fs := testStore(t)

	content := []byte("attachment body for task forty-two")
	path, size, sum, err := store.Write(bytes.NewReader(content), 42, "abc.txt")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("uploads", "tasks", "42", "abc.txt"), path)
	assert.Equal(t, int64(len(content)), size)

	expected := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(expected[:]), sum)

	onDisk, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)
}

type brokenReader struct{ n int }

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, errors.New("stream interrupted")
	}
	if len(p) > r.n {
		p = p[:r.n]
	}
	for i := range p {
		p[i] = 'x'
	}
	r.n -= len(p)
	return len(p), nil
}

func TestWriteRollsBackPartialFile(t *testing.T) {
	store, fs := testStore(t)

	_, _, _, err := store.Write(&brokenReader{n: 128}, 1, "partial.txt")
	require.Error(t, err)

	exists, serr := afero.Exists(fs, "uploads/tasks/1/partial.txt")
	require.NoError(t, serr)
	assert.False(t, exists, "partial file must not survive a failed write")
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := testStore(t)

	path, _, _, err := store.Write(strings.NewReader("bye"), 2, "f.txt")
	require.NoError(t, err)

	assert.True(t, store.Delete(path))
	assert.False(t, store.Delete(path), "second delete reports false, not an error")
	assert.False(t, store.Delete("uploads/tasks/2/never-existed.txt"))
}

func TestCleanupOrphans(t *testing.T) {
	store, fs := testStore(t)

	kept1, _, _, err := store.Write(strings.NewReader("one"), 1, "one.txt")
	require.NoError(t, err)
	kept2, _, _, err := store.Write(strings.NewReader("two"), 2, "two.txt")
	require.NoError(t, err)
	orphan, _, _, err := store.Write(strings.NewReader("three"), 2, "three.txt")
	require.NoError(t, err)

	referenced := map[string]struct{}{
		kept1: {},
		kept2: {},
	}

	assert.Equal(t, 1, store.CleanupOrphans(referenced))

	for _, path := range []string{kept1, kept2} {
		exists, _ := afero.Exists(fs, path)
		assert.True(t, exists, path)
	}
	exists, _ := afero.Exists(fs, orphan)
	assert.False(t, exists, "orphan must be removed")

	// A second pass finds nothing left to do.
	assert.Equal(t, 0, store.CleanupOrphans(referenced))
}

func TestStats(t *testing.T) {
	store, _ := testStore(t)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	_, _, _, err = store.Write(io.LimitReader(&repeatReader{}, 100), 1, "a.bin")
	require.NoError(t, err)
	_, _, _, err = store.Write(io.LimitReader(&repeatReader{}, 50), 3, "b.bin")
	require.NoError(t, err)

	stats, err = store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, int64(150), stats.TotalBytes)
}

type repeatReader struct{}

func (repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'z'
	}
	return len(p), nil
}
