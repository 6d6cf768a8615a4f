package kv

import "github.com/erigontech/mdbx-go/mdbx"

// DBI is an opaque handle to a named database within an Environment. It
// stays valid for the Environment's whole lifetime once opened, so the
// table package caches the handles it gets back instead of reopening them
// per transaction.
type DBI mdbx.DBI

// DBFlags configures a named database at creation time. The zero value
// opens a plain key -> single-value table with byte-string key comparison.
type DBFlags uint

const (
	// Create creates the database if it doesn't already exist; without it,
	// opening an absent database fails.
	Create DBFlags = 1 << iota
	// DupSort allows multiple values per key, kept sorted, the posting-list
	// shape the typed container's secondary indexes are built on.
	DupSort
	// DupFixed additionally requires every value under a DupSort key to be
	// the same fixed width, which lets mdbx pack them densely; the typed
	// container sets this whenever the indexed field encodes to a fixed
	// size (all of the integer and struct encodings in kv/value.go do).
	DupFixed
	// IntegerKey compares keys as native-endian unsigned integers rather
	// than as byte strings. The primary table of every Table[T] uses this.
	IntegerKey
)

func translateDBFlags(f DBFlags) mdbx.DBIFlags {
	var out mdbx.DBIFlags
	if f&Create != 0 {
		out |= mdbx.Create
	}
	if f&DupSort != 0 {
		out |= mdbx.DupSort
	}
	if f&DupFixed != 0 {
		out |= mdbx.DupFixed
	}
	if f&IntegerKey != 0 {
		out |= mdbx.IntegerKey
	}
	return out
}

// OpenDBI opens (or creates, with Create set) the named database and
// returns its handle. Handles are cached on the Environment so repeated
// opens of the same name within the process are free after the first.
func (tx *Tx) OpenDBI(name string, flags DBFlags) (DBI, error) {
	if cached, ok := tx.env.dbis.Load(name); ok {
		return cached.(DBI), nil
	}
	dbi, err := tx.txn.OpenDBISimple(name, translateDBFlags(flags))
	if err != nil {
		return 0, storeError("mdbx_dbi_open:"+name, err)
	}
	handle := DBI(dbi)
	tx.env.dbis.Store(name, handle)
	return handle, nil
}

func (d DBI) raw() mdbx.DBI { return mdbx.DBI(d) }
