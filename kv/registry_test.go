package kv_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdbxkv/mdbxkv/kv"
)

func TestOpenDedupesSamePath(t *testing.T) {
	defer kv.Purge()

	dir := t.TempDir()
	path := filepath.Join(dir, "store.mdbx")
	opts := kv.DefaultOptions()
	opts.Flags = kv.NoSubdir

	a, err := kv.Open(path, opts)
	require.NoError(t, err)
	defer a.Release()

	b, err := kv.Open(path, opts)
	require.NoError(t, err)
	defer b.Release()

	require.Same(t, a, b)
}

func TestOpenRejectsFlagMismatchOnLiveEnv(t *testing.T) {
	defer kv.Purge()

	dir := t.TempDir()
	path := filepath.Join(dir, "store.mdbx")
	opts := kv.DefaultOptions()
	opts.Flags = kv.NoSubdir

	env, err := kv.Open(path, opts)
	require.NoError(t, err)
	defer env.Release()

	conflicting := opts
	conflicting.Flags = kv.NoSubdir | kv.ReadOnly
	_, err = kv.Open(path, conflicting)
	require.ErrorIs(t, err, kv.ErrFlagMismatch)
}

func TestReleaseClosesAfterLastHolder(t *testing.T) {
	defer kv.Purge()

	dir := t.TempDir()
	path := filepath.Join(dir, "store.mdbx")
	opts := kv.DefaultOptions()
	opts.Flags = kv.NoSubdir

	a, err := kv.Open(path, opts)
	require.NoError(t, err)
	b, err := kv.Open(path, opts)
	require.NoError(t, err)

	require.NoError(t, a.Release())

	// b still holds a reference; a fresh open of the same path must not
	// race the partially-torn-down first holder.
	c, err := kv.Open(path, opts)
	require.NoError(t, err)
	require.Same(t, b, c)

	require.NoError(t, b.Release())
	require.NoError(t, c.Release())
}
