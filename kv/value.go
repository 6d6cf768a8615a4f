package kv

import (
	"encoding/binary"
	"unsafe"
)

// Val is a non-owning view into memory the store mapped in. It is only
// valid for the lifetime of the transaction that produced it — the store
// returns pointers straight into its mmap, so the natural contract here is
// "borrow, do not copy": forcing an allocation on every read would regress
// the entire point of using a memory-mapped engine. Callers who need a
// value to outlive the transaction must call Bytes()/String() and copy it
// themselves before the transaction ends.
type Val []byte

// Uint32 decodes v as a native-endian uint32. It fails with
// ErrLengthMismatch if len(v) != 4, the same contract the original's
// MDBOutVal::get<T>() enforces for arithmetic types.
func (v Val) Uint32() (uint32, error) {
	if len(v) != 4 {
		return 0, newError(KindLengthMismatch, "Val.Uint32", nil)
	}
	return nativeEndian.Uint32(v), nil
}

// Uint64 decodes v as a native-endian uint64.
func (v Val) Uint64() (uint64, error) {
	if len(v) != 8 {
		return 0, newError(KindLengthMismatch, "Val.Uint64", nil)
	}
	return nativeEndian.Uint64(v), nil
}

// Bytes returns the underlying slice without copying. The slice is only
// valid until the originating transaction ends.
func (v Val) Bytes() []byte {
	return []byte(v)
}

// String copies v into a new Go string. Unlike Bytes, the result remains
// valid after the originating transaction ends.
func (v Val) String() string {
	return string(v)
}

// DecodeStruct reinterprets v as a T by value, requiring an exact size
// match (mirroring MDBOutVal::get_struct<T>()). T must have no pointer or
// interface fields: this is a raw reinterpretation of in-memory bytes, not
// a deserialization, and is only safe for plain, fixed-layout structs.
func DecodeStruct[T any](v Val) (T, error) {
	var zero T
	if len(v) != int(unsafe.Sizeof(zero)) {
		return zero, newError(KindLengthMismatch, "DecodeStruct", nil)
	}
	return *(*T)(unsafe.Pointer(&v[0])), nil
}

// EncodeUint32 encodes x as a native-endian 4-byte key/value, matching the
// primary key encoding mdbx's IntegerKey mode requires.
func EncodeUint32(x uint32) []byte {
	buf := make([]byte, 4)
	nativeEndian.PutUint32(buf, x)
	return buf
}

// EncodeUint64 encodes x as a native-endian 8-byte key/value.
func EncodeUint64(x uint64) []byte {
	buf := make([]byte, 8)
	nativeEndian.PutUint64(buf, x)
	return buf
}

// EncodeStruct reinterprets *t's in-memory representation as bytes. The
// inverse of DecodeStruct; same pointer/interface-free requirement applies.
func EncodeStruct[T any](t *T) []byte {
	size := unsafe.Sizeof(*t)
	return unsafe.Slice((*byte)(unsafe.Pointer(t)), size)
}

// nativeEndian is resolved once at init time; mdbx's IntegerKey mode
// compares keys using the host's native byte order, so this wrapper must
// match it rather than hardcoding little-endian or big-endian.
var nativeEndian = resolveNativeEndian()

func resolveNativeEndian() binary.ByteOrder {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
