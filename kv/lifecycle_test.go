package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdbxkv/mdbxkv/kv"
)

func TestConvertToReadOnlyInvalidatesRWCursorsAndTx(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	rw, err := env.BeginRW(ctx)
	require.NoError(t, err)
	dbi, err := rw.OpenDBI("widgets", kv.Create)
	require.NoError(t, err)
	require.NoError(t, rw.Put(dbi, []byte("a"), []byte("1"), 0))

	cur, err := rw.OpenCursor(dbi)
	require.NoError(t, err)

	ro, err := rw.ConvertToReadOnly()
	require.NoError(t, err)
	defer ro.Abort()

	_, _, err = cur.First()
	require.ErrorIs(t, err, kv.ErrInvalidated)

	_, _, err = rw.Get(dbi, []byte("a"))
	require.ErrorIs(t, err, kv.ErrInvalidated)

	val, ok, err := ro.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())
}

func TestBeginRWRejectsWhenThreadHoldsAnyTransaction(t *testing.T) {
	env := openTestEnv(t)
	ctx := context.Background()

	ro, err := env.BeginRO(ctx)
	require.NoError(t, err)
	defer ro.Abort()

	_, err = env.BeginRW(ctx)
	require.ErrorIs(t, err, kv.ErrNestingConflict)
}

func TestResizeGrowsMapSize(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.Resize(2*1024*1024*1024))
}

func TestResetRenewRoundTrip(t *testing.T) {
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

	require.NoError(t, ro.Reset())
	require.NoError(t, ro.Renew())

	val, ok, err := ro.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val.String())
}
