package common

import (
	"context"
	"crypto/sha256"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(uint64(size), 1))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rng.UintN(256))
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func TestCopyThrottled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "backup.db")
	data := writeRandomFile(t, src, 2*chunkSize+123)

	res, err := CopyThrottled(context.Background(), src, dst, 0)
	require.NoError(t, err)
	require.EqualValues(t, len(data), res.Bytes)
	require.Equal(t, sha256.Sum256(data), res.SHA256)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoFileExists(t, dst+".tmp")
}

func TestCopyThrottledReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "backup.db")
	data := writeRandomFile(t, src, 1000)
	require.NoError(t, os.WriteFile(dst, make([]byte, 5000), 0o644))

	_, err := CopyThrottled(context.Background(), src, dst, 1<<30)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCopyThrottledHonorsContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "backup.db")
	writeRandomFile(t, src, 3*chunkSize)

	// At 1 KiB/s the first chunk alone would take far longer than the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := CopyThrottled(ctx, src, dst, 1024)
	require.Error(t, err)
	require.NoFileExists(t, dst)
	require.NoFileExists(t, dst+".tmp")
}

func TestCopyThrottledMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyThrottled(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "out"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)
}
