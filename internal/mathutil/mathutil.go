// Package mathutil provides the small set of overflow-checked integer
// helpers the typed container needs for primary-key assignment.
package mathutil

import "math/bits"

// MaxUint32 is the largest primary key the container's integer-keyed
// primary database can address (see spec's "IDs 1..2^32-1 valid").
const MaxUint32 = 1<<32 - 1

// SafeAdd returns x+y and reports whether the addition overflowed a
// 64-bit accumulator. The typed container uses this to turn primary-key
// exhaustion into an error instead of a silent wraparound to 0 (which is
// the reserved "no such id" sentinel).
func SafeAdd(x, y uint64) (sum uint64, overflow bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}
