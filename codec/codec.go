// Package codec provides the pluggable record serialization the typed
// container uses to turn Go values into the bytes a database stores.
package codec

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/ugorji/go/codec"
)

// Codec converts values of type T to and from their on-disk byte
// representation. Implementations must be safe for concurrent use: a
// single Codec instance is shared by every Table[T] built against it.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

var bincHandle = &codec.BincHandle{}

// Binc is the default Codec, backed by ugorji/go's binary-c ("binc")
// encoding. It requires no struct tags and round-trips any value
// encoding/gob could handle, at a noticeably smaller wire size.
type Binc[T any] struct{}

// NewBinc returns the default codec for T.
func NewBinc[T any]() Binc[T] { return Binc[T]{} }

func (Binc[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, bincHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Binc[T]) Decode(data []byte) (T, error) {
	var out T
	dec := codec.NewDecoderBytes(data, bincHandle)
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Compressed wraps an existing Codec with Snappy block compression. It's
// meant for tables whose records are large and somewhat redundant (e.g.
// repeated field names with Binc's self-describing encoding, or naturally
// compressible payloads); for small fixed-width records the compression
// header overhead usually isn't worth it.
type Compressed[T any] struct {
	Inner Codec[T]
}

// NewCompressed wraps inner with Snappy compression.
func NewCompressed[T any](inner Codec[T]) Compressed[T] {
	return Compressed[T]{Inner: inner}
}

func (c Compressed[T]) Encode(v T) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func (c Compressed[T]) Decode(data []byte) (T, error) {
	var zero T
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return zero, err
	}
	return c.Inner.Decode(raw)
}
