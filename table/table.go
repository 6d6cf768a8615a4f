// Package table implements the typed multi-index container: a primary
// table keyed by an auto-assigned monotonic id, plus up to four secondary
// indexes kept consistent with it inside the same transaction as every
// mutation.
package table

import (
	"fmt"

	"github.com/mdbxkv/mdbxkv/codec"
	"github.com/mdbxkv/mdbxkv/internal/mathutil"
	"github.com/mdbxkv/mdbxkv/kv"
)

// Table is a generic typed container over a primary database of type T,
// keyed by a uint32 id the container assigns itself, with up to
// kv.MaxIndexes secondary indexes. A Table value holds metadata (names,
// codec, index descriptors) plus the database handles Open caches; all
// actual reads and writes happen
// through a *kv.Tx the caller already holds, exactly like the rest of this
// module's handle-safety core — Table never owns a transaction itself.
type Table[T any] struct {
	name    string
	codec   codec.Codec[T]
	indexes []kv.IndexDescriptor[T]

	primary kv.DBI
	idx     []kv.DBI
	opened  bool
}

// New declares a table. It does nothing to the store yet: call Open inside
// a read-write transaction before using the table for the first time.
func New[T any](name string, c codec.Codec[T], indexes ...kv.IndexDescriptor[T]) (*Table[T], error) {
	if len(indexes) > kv.MaxIndexes {
		return nil, fmt.Errorf("table %q: %d indexes exceeds the limit of %d", name, len(indexes), kv.MaxIndexes)
	}
	return &Table[T]{name: name, codec: c, indexes: indexes}, nil
}

// Open creates (if absent) and caches the DBI handles for the primary
// table and every secondary index. It must be called from a read-write
// transaction the first time a table name is used in a store; subsequent
// Open calls, including from read-only transactions, just fetch the
// already-cached handles.
func (t *Table[T]) Open(tx *kv.Tx) error {
	primary, err := tx.OpenDBI(t.name, kv.Create|kv.IntegerKey)
	if err != nil {
		return err
	}
	t.primary = primary

	t.idx = make([]kv.DBI, len(t.indexes))
	for i, desc := range t.indexes {
		flags := kv.Create | kv.DupSort
		if desc.Fixed {
			flags |= kv.DupFixed
		}
		dbi, err := tx.OpenDBI(t.name+"."+desc.Name, flags)
		if err != nil {
			return err
		}
		t.idx[i] = dbi
	}
	t.opened = true
	return nil
}

func (t *Table[T]) indexByName(name string) (int, *kv.IndexDescriptor[T], error) {
	for i := range t.indexes {
		if t.indexes[i].Name == name {
			return i, &t.indexes[i], nil
		}
	}
	return 0, nil, fmt.Errorf("table %q: no such index %q", t.name, name)
}

// Put inserts v as a new record and returns its assigned id. Ids start at
// 1 and increase monotonically for the table's lifetime; they are never
// reused, even after Delete.
func (t *Table[T]) Put(tx *kv.Tx, v T) (uint32, error) {
	prev, err := tx.Sequence(t.primary, 1)
	if err != nil {
		return 0, err
	}
	next, overflow := mathutil.SafeAdd(prev, 1)
	if overflow || next > mathutil.MaxUint32 {
		return 0, fmt.Errorf("table %q: id space exhausted", t.name)
	}
	id := uint32(next)

	if err := t.PutWithID(tx, id, v); err != nil {
		return 0, err
	}
	return id, nil
}

// PutWithID inserts or replaces v under the caller-supplied id instead of
// auto-assigning one, the put(record, id) form of Put. It does not advance
// the table's id sequence: a later auto-assigning Put may still produce
// this same id if the caller's explicit ids are allowed to run ahead of or
// collide with it, exactly as if the two had been inserted in the other
// order. If id already holds a record, its old index postings are
// retracted before the new ones are written, the same consistency Modify
// provides.
func (t *Table[T]) PutWithID(tx *kv.Tx, id uint32, v T) error {
	if id == 0 {
		return fmt.Errorf("table %q: id 0 is reserved", t.name)
	}

	old, existed, err := t.Get(tx, id)
	if err != nil {
		return err
	}
	if existed {
		if err := t.retractIndexes(tx, id, old); err != nil {
			return err
		}
	}

	data, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("table %q: encode id %d: %w", t.name, id, err)
	}
	if err := tx.Put(t.primary, kv.EncodeUint32(id), data, 0); err != nil {
		return err
	}
	return t.postIndexes(tx, id, v)
}

func (t *Table[T]) postIndexes(tx *kv.Tx, id uint32, v T) error {
	idVal := kv.EncodeUint32(id)
	for i, desc := range t.indexes {
		key, ok := desc.KeyFunc(v)
		if !ok {
			continue
		}
		if err := tx.Put(t.idx[i], key, idVal, 0); err != nil {
			return fmt.Errorf("table %q: index %q: %w", t.name, desc.Name, err)
		}
	}
	return nil
}

func (t *Table[T]) retractIndexes(tx *kv.Tx, id uint32, v T) error {
	idVal := kv.EncodeUint32(id)
	for i, desc := range t.indexes {
		key, ok := desc.KeyFunc(v)
		if !ok {
			continue
		}
		if err := tx.Delete(t.idx[i], key, idVal); err != nil && err != kv.ErrNotFound {
			return fmt.Errorf("table %q: index %q: %w", t.name, desc.Name, err)
		}
	}
	return nil
}

// Get fetches the record stored under id. The second return is false if
// id is absent.
func (t *Table[T]) Get(tx *kv.Tx, id uint32) (T, bool, error) {
	var zero T
	v, ok, err := tx.Get(t.primary, kv.EncodeUint32(id))
	if err != nil || !ok {
		return zero, false, err
	}
	rec, err := t.codec.Decode(v.Bytes())
	if err != nil {
		return zero, false, fmt.Errorf("table %q: decode id %d: %w", t.name, id, err)
	}
	return rec, true, nil
}

// Exists reports whether id is present, without paying to decode its
// record.
func (t *Table[T]) Exists(tx *kv.Tx, id uint32) (bool, error) {
	_, ok, err := tx.Get(t.primary, kv.EncodeUint32(id))
	return ok, err
}

// Modify atomically replaces the record stored under id with fn's return
// value. Index entries are retracted for the old value and posted for the
// new one within the same transaction: a reader can never observe a
// partially-updated index. Modify fails with kv.ErrNotFound if id doesn't
// exist; fn is never called in that case.
func (t *Table[T]) Modify(tx *kv.Tx, id uint32, fn func(T) T) error {
	old, ok, err := t.Get(tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return kv.ErrNotFound
	}

	updated := fn(old)

	data, err := t.codec.Encode(updated)
	if err != nil {
		return fmt.Errorf("table %q: encode id %d: %w", t.name, id, err)
	}
	if err := t.retractIndexes(tx, id, old); err != nil {
		return err
	}
	if err := tx.Put(t.primary, kv.EncodeUint32(id), data, 0); err != nil {
		return err
	}
	return t.postIndexes(tx, id, updated)
}

// Delete removes id and every secondary index posting that referenced it.
// Deleting an absent id is a silent no-op, matching the fetch-then-return
// semantics of the original container's del.
func (t *Table[T]) Delete(tx *kv.Tx, id uint32) error {
	old, ok, err := t.Get(tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := t.retractIndexes(tx, id, old); err != nil {
		return err
	}
	return tx.Delete(t.primary, kv.EncodeUint32(id), nil)
}

// Clear empties the table and every secondary index, keeping the database
// handles (and the id sequence counter) intact.
func (t *Table[T]) Clear(tx *kv.Tx) error {
	if err := tx.Clear(t.primary); err != nil {
		return err
	}
	for _, dbi := range t.idx {
		if err := tx.Clear(dbi); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of records currently in the table.
func (t *Table[T]) Size(tx *kv.Tx) (uint64, error) {
	stat, err := tx.Stat(t.primary)
	if err != nil {
		return 0, err
	}
	return stat.Entries, nil
}

// Cardinality returns the total number of postings in the named secondary
// index (i.e. sum over distinct keys of how many records share that key).
func (t *Table[T]) Cardinality(tx *kv.Tx, indexName string) (uint64, error) {
	i, _, err := t.indexByName(indexName)
	if err != nil {
		return 0, err
	}
	stat, err := tx.Stat(t.idx[i])
	if err != nil {
		return 0, err
	}
	return stat.Entries, nil
}
