package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdbxkv/mdbxkv/codec"
)

type widget struct {
	Name  string
	Price int64
	Tags  []string
}

func TestBincRoundTrip(t *testing.T) {
	c := codec.NewBinc[widget]()
	in := widget{Name: "bolt", Price: 199, Tags: []string{"hardware", "steel"}}

	data, err := c.Encode(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	out, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCompressedRoundTrip(t *testing.T) {
	c := codec.NewCompressed[widget](codec.NewBinc[widget]())
	in := widget{Name: "washer", Price: 5, Tags: []string{"hardware"}}

	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCompressedSmallerForRedundantPayloads(t *testing.T) {
	type bulky struct{ Blob string }
	plain := codec.NewBinc[bulky]()
	compressed := codec.NewCompressed[bulky](plain)

	v := bulky{Blob: stringsRepeat("a", 4096)}

	rawData, err := plain.Encode(v)
	require.NoError(t, err)
	compData, err := compressed.Encode(v)
	require.NoError(t, err)

	require.Less(t, len(compData), len(rawData))
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return string(out[:n])
}
