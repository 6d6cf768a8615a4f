package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdbxkv/mdbxkv/kv"
)

type point struct {
	X, Y int32
}

func TestEncodeDecodeStructRoundTrip(t *testing.T) {
	p := point{X: 3, Y: -7}
	raw := kv.EncodeStruct(&p)

	out, err := kv.DecodeStruct[point](kv.Val(raw))
	require.NoError(t, err)
	require.Equal(t, p, out)
}

func TestDecodeStructRejectsWrongLength(t *testing.T) {
	_, err := kv.DecodeStruct[point](kv.Val([]byte{1, 2, 3}))
	require.ErrorIs(t, err, kv.ErrLengthMismatch)
}

func TestEncodeDecodeUint32RoundTrip(t *testing.T) {
	raw := kv.EncodeUint32(424242)
	v, err := kv.Val(raw).Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 424242, v)
}

func TestUint64RejectsWrongLength(t *testing.T) {
	_, err := kv.Val([]byte{1, 2, 3}).Uint64()
	require.ErrorIs(t, err, kv.ErrLengthMismatch)
}
