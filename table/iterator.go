package table

import (
	"bytes"
	"fmt"

	"github.com/mdbxkv/mdbxkv/kv"
)

// Iterator walks a sequence of records in key order. It holds a single
// kv.Cursor internally and is only valid for as long as the transaction
// that produced it is open, exactly like the cursor it wraps.
type Iterator[T any] struct {
	table *Table[T]
	tx    *kv.Tx
	idx   *kv.Cursor // nil when iterating the primary table directly
	prim  *kv.Cursor

	prefix   []byte
	eqKey    []byte
	lowerKey []byte
	hasLower bool
	started  bool
	done     bool
	reverse  bool

	curID  uint32
	curVal T
	err    error
}

func (it *Iterator[T]) ownerTx() *kv.Tx { return it.tx }

// Close releases the iterator's cursors early. Safe to call more than
// once; also safe to just let the owning transaction end without calling
// it.
func (it *Iterator[T]) Close() {
	if it.idx != nil {
		it.idx.Close()
	}
	if it.prim != nil {
		it.prim.Close()
	}
}

// Iterate walks every record in the primary table in ascending id order.
func (t *Table[T]) Iterate(tx *kv.Tx) (*Iterator[T], error) {
	c, err := tx.OpenCursor(t.primary)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{table: t, tx: tx, prim: c}, nil
}

// ReverseIterate walks every record in the primary table in descending id
// order, the `end()`-and-decrement traversal the original's iter_t
// supported alongside forward iteration.
func (t *Table[T]) ReverseIterate(tx *kv.Tx) (*Iterator[T], error) {
	c, err := tx.OpenCursor(t.primary)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{table: t, tx: tx, prim: c, reverse: true}, nil
}

// LastIndex returns the record with the greatest key in the named
// secondary index (for a key shared by several records, the one whose id
// sorts last in that key's posting list).
func (t *Table[T]) LastIndex(tx *kv.Tx, indexName string) (v T, ok bool, err error) {
	i, _, err := t.indexByName(indexName)
	if err != nil {
		return v, false, err
	}
	c, err := tx.OpenCursor(t.idx[i])
	if err != nil {
		return v, false, err
	}
	defer c.Close()

	_, val, err := c.Last()
	if err == kv.ErrNotFound {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	id, err := val.Uint32()
	if err != nil {
		return v, false, err
	}
	rec, found, err := t.Get(tx, id)
	if err != nil || !found {
		return v, false, err
	}
	return rec, true, nil
}

// EqualRange walks every record whose projected index key equals key, in
// the sort order of that key's posting list, which compares the
// native-endian encoded ids as byte strings (not numerically, and not by
// insertion time).
func (t *Table[T]) EqualRange(tx *kv.Tx, indexName string, key []byte) (*Iterator[T], error) {
	i, _, err := t.indexByName(indexName)
	if err != nil {
		return nil, err
	}
	c, err := tx.OpenCursor(t.idx[i])
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{table: t, tx: tx, idx: c, eqKey: key}, nil
}

// PrefixRange walks every record whose projected index key starts with
// prefix, in index key order.
func (t *Table[T]) PrefixRange(tx *kv.Tx, indexName string, prefix []byte) (*Iterator[T], error) {
	i, _, err := t.indexByName(indexName)
	if err != nil {
		return nil, err
	}
	c, err := tx.OpenCursor(t.idx[i])
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{table: t, tx: tx, idx: c, prefix: prefix}, nil
}

// LowerBound walks every record whose projected index key is >= key, in
// ascending index key order, with no upper bound.
func (t *Table[T]) LowerBound(tx *kv.Tx, indexName string, key []byte) (*Iterator[T], error) {
	i, _, err := t.indexByName(indexName)
	if err != nil {
		return nil, err
	}
	c, err := tx.OpenCursor(t.idx[i])
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{table: t, tx: tx, idx: c, lowerKey: key, hasLower: true}, nil
}

// Find returns the first record in EqualRange(indexName, key), if any.
func (t *Table[T]) Find(tx *kv.Tx, indexName string, key []byte) (T, bool, error) {
	var zero T
	it, err := t.EqualRange(tx, indexName, key)
	if err != nil {
		return zero, false, err
	}
	defer it.Close()
	if !it.Next() {
		return zero, false, it.Err()
	}
	return it.Value(), true, nil
}

// Last returns the highest-id record in the primary table.
func (t *Table[T]) Last(tx *kv.Tx) (id uint32, v T, ok bool, err error) {
	c, err := tx.OpenCursor(t.primary)
	if err != nil {
		return 0, v, false, err
	}
	defer c.Close()

	k, val, err := c.Last()
	if err == kv.ErrNotFound {
		return 0, v, false, nil
	}
	if err != nil {
		return 0, v, false, err
	}
	id, err = k.Uint32()
	if err != nil {
		return 0, v, false, err
	}
	rec, err := t.codec.Decode(val.Bytes())
	if err != nil {
		return 0, v, false, fmt.Errorf("table %q: decode id %d: %w", t.name, id, err)
	}
	return id, rec, true, nil
}

// Next advances the iterator and reports whether a record is available.
// Callers must check Next before calling Value/ID.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}

	if it.idx != nil {
		return it.nextFromIndex()
	}
	return it.nextFromPrimary()
}

func (it *Iterator[T]) nextFromPrimary() bool {
	var k, v kv.Val
	var err error
	switch {
	case !it.started && it.reverse:
		it.started = true
		k, v, err = it.prim.Last()
	case !it.started:
		it.started = true
		k, v, err = it.prim.First()
	case it.reverse:
		k, v, err = it.prim.Prev()
	default:
		k, v, err = it.prim.Next()
	}
	if err == kv.ErrNotFound {
		it.done = true
		return false
	}
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	it.curID, err = k.Uint32()
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	it.curVal, err = it.table.codec.Decode(v.Bytes())
	if err != nil {
		it.done = true
		it.err = fmt.Errorf("table %q: decode id %d: %w", it.table.name, it.curID, err)
		return false
	}
	return true
}

func (it *Iterator[T]) nextFromIndex() bool {
	var k, v kv.Val
	var err error

	switch {
	case !it.started && it.eqKey != nil:
		it.started = true
		k, v, err = it.idx.Seek(it.eqKey)
	case !it.started && it.prefix != nil:
		it.started = true
		k, v, err = it.idx.SeekRange(it.prefix)
	case !it.started && it.hasLower:
		it.started = true
		k, v, err = it.idx.SeekRange(it.lowerKey)
	case !it.started:
		it.started = true
		k, v, err = it.idx.First()
	case it.eqKey != nil:
		k, v, err = it.idx.NextDup()
	default:
		k, v, err = it.idx.Next()
	}

	if err == kv.ErrNotFound {
		it.done = true
		return false
	}
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	return it.acceptIndexEntry(k, v)
}

func (it *Iterator[T]) acceptIndexEntry(k, v kv.Val) bool {
	if it.prefix != nil && !bytes.HasPrefix(k.Bytes(), it.prefix) {
		it.done = true
		return false
	}
	id, err := v.Uint32()
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	rec, ok, err := it.table.Get(it.ownerTx(), id)
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	if !ok {
		// The index posting outlived its primary record; this can only
		// happen if an index and its primary table are mutated outside of
		// Table's own Put/Modify/Delete, which nothing in this package does.
		it.done = true
		it.err = fmt.Errorf("table %q: index posting for id %d has no primary record", it.table.name, id)
		return false
	}
	it.curID, it.curVal = id, rec
	return true
}

// ID returns the primary key of the record Next last advanced to.
func (it *Iterator[T]) ID() uint32 { return it.curID }

// Value returns the record Next last advanced to.
func (it *Iterator[T]) Value() T { return it.curVal }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }
