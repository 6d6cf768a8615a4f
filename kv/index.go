package kv

// IndexKeyFunc projects a record to the byte-string key it should be
// indexed under. Returning ok=false means "do not index this record under
// this field", the convention the original's nullindex_t formalized for
// skipping records whose optional field isn't set — a zero value is a
// perfectly good key for most fields, so absence has to be its own signal
// rather than overloading the zero value.
type IndexKeyFunc[T any] func(v T) (key []byte, ok bool)

// IndexDescriptor names one secondary index and how to derive its posting
// key from a record. Table[T] (see the table package) opens one DupSort
// database per descriptor and keeps it consistent with the primary table
// on every Put/Modify/Delete.
type IndexDescriptor[T any] struct {
	// Name becomes part of the on-disk database name (primaryName + "." +
	// Name) and is also how callers address the index from EqualRange,
	// PrefixRange, LowerBound and Find.
	Name string
	// KeyFunc projects a record to its index key. Two different records
	// may project to the same key; that's the entire point of DupSort
	// posting lists.
	KeyFunc IndexKeyFunc[T]
	// Fixed marks that KeyFunc always returns the same-width key for every
	// record (true for any integer or fixed-struct projection), letting
	// the index database set DupFixed for denser packing. Leave false for
	// variable-width keys like strings.
	Fixed bool
}

// Projection builds an IndexDescriptor for a field that is always present:
// every record gets indexed. encode turns the projected field into its
// on-disk key bytes (EncodeUint32/EncodeUint64/[]byte(s) for strings, …).
func Projection[T any, K any](name string, project func(T) K, encode func(K) []byte, fixed bool) IndexDescriptor[T] {
	return IndexDescriptor[T]{
		Name:  name,
		Fixed: fixed,
		KeyFunc: func(v T) ([]byte, bool) {
			return encode(project(v)), true
		},
	}
}

// Computed builds an IndexDescriptor from a function that may decline to
// index a given record (ok=false), the nullindex_t case for optional
// fields — a record with no value for the indexed field simply gets no
// posting in that index.
func Computed[T any, K any](name string, compute func(T) (K, bool), encode func(K) []byte, fixed bool) IndexDescriptor[T] {
	return IndexDescriptor[T]{
		Name:  name,
		Fixed: fixed,
		KeyFunc: func(v T) ([]byte, bool) {
			k, ok := compute(v)
			if !ok {
				return nil, false
			}
			return encode(k), true
		},
	}
}

// MaxIndexes is the ceiling on secondary indexes per table; table.New
// rejects a table declared with more. It is the same bound the original's
// TypedDBI<T, I1, I2, I3, I4> template signature hard-coded.
const MaxIndexes = 4
