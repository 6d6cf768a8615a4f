package kv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdbxkv/mdbxkv/kv"
)

func openTestEnv(t *testing.T) *kv.Env {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.mdbx")
	opts := kv.DefaultOptions()
	opts.Flags = kv.NoSubdir

	env, err := kv.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, env.Release())
		kv.Purge()
	})
	return env
}

func TestPutGetRoundTrip(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Put(dbi, []byte("a"), []byte("1"), 0))
	require.NoError(t, rw.Commit())

	ro, err := env.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Abort()

	val, ok, err := ro.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())
}

func TestSecondTopLevelRWOnSameThreadConflicts(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	defer rw.Abort()

	_, err = env.BeginRW(ctx)
	require.ErrorIs(t, err, kv.ErrNestingConflict)
}

func TestNestedSubtransactionCommitFoldsIntoParent(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)

	child, err := rw.Begin()
	require.NoError(t, err)
	require.NoError(t, child.Put(dbi, []byte("a"), []byte("1"), 0))
	require.NoError(t, child.Commit())

	val, ok, err := rw.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())

	require.NoError(t, rw.Commit())
}

func TestNestedSubtransactionAbortLeavesParentUntouched(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Put(dbi, []byte("a"), []byte("1"), 0))

	child, err := rw.Begin()
	require.NoError(t, err)
	require.NoError(t, child.Put(dbi, []byte("b"), []byte("2"), 0))
	require.NoError(t, child.Abort())

	_, ok, err := rw.Get(dbi, []byte("b"))
	require.NoError(t, err)
	require.False(t, ok)

	val, ok, err := rw.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())

	require.NoError(t, rw.Commit())
}

func TestCommitInvalidatesCursor(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Put(dbi, []byte("a"), []byte("1"), 0))

	cur, err := rw.OpenCursor(dbi)
	require.NoError(t, err)

	require.NoError(t, rw.Commit())

	_, _, err = cur.First()
	require.ErrorIs(t, err, kv.ErrInvalidated)
}

func TestUseAfterCommitIsInvalidated(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	_, _, err = rw.Get(dbi, []byte("a"))
	require.ErrorIs(t, err, kv.ErrInvalidated)
}

func TestReadOnlyTransactionCannotWrite(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Commit())

	ro, err := env.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Abort()

	err = ro.Put(dbi, []byte("a"), []byte("1"), 0)
	require.ErrorIs(t, err, kv.ErrNestingConflict)
}

func TestReadOnlyChildSeesParentUncommittedWrites(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Put(dbi, []byte("a"), []byte("1"), 0))

	child, err := rw.BeginChildRO()
	require.NoError(t, err)
	require.True(t, child.ReadOnly())

	val, ok, err := child.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())

	err = child.Put(dbi, []byte("b"), []byte("2"), 0)
	require.ErrorIs(t, err, kv.ErrNestingConflict)

	require.NoError(t, child.Abort())

	// The RO child's Abort has no effect on the parent's pending write.
	val, ok, err = rw.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())

	require.NoError(t, rw.Commit())
}

func TestCursorSeekRangeFindsLowerBound(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	for _, k := range []string{"b", "d", "f"} {
		require.NoError(t, rw.Put(dbi, []byte(k), []byte(k), 0))
	}
	require.NoError(t, rw.Commit())

	ro, err := env.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Abort()

	cur, err := ro.OpenCursor(dbi)
	require.NoError(t, err)
	defer cur.Close()

	k, _, err := cur.SeekRange([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "d", k.String())
}
