package kv

import (
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// EnvFlags is the subset of store open flags this wrapper recognizes (§6).
type EnvFlags uint

const (
	// ReadOnly opens the environment without taking the write lock ever.
	ReadOnly EnvFlags = 1 << iota
	// NoSubdir treats the path as a single file rather than a directory
	// containing the data and lock files.
	NoSubdir
	// NoSync disables fsync on commit (durability/throughput tradeoff).
	NoSync
	// NoMetaSync disables fsync of the meta page specifically.
	NoMetaSync
)

// Options configures a new Environment. Map_size and MaxDatabases are the
// two knobs with observable failure modes (MapFull, "too many databases")
// so they're surfaced explicitly rather than buried in EnvFlags.
type Options struct {
	// MapSize is the maximum virtual mapping, e.g. "1GB" or a raw byte
	// count. Writes that would grow the store past this fail with MapFull.
	MapSize datasize.ByteSize
	// MaxDatabases bounds how many named sub-databases OpenDatabase may
	// create in this Environment's lifetime.
	MaxDatabases uint
	// Mode is the POSIX file mode used when creating the backing file(s).
	Mode os.FileMode
	Flags EnvFlags

	Logger   *zap.Logger
	Registerer prometheus.Registerer
}

// DefaultOptions mirrors the values the teacher's own MDBX-backed config
// layer reaches for: a generous map size that still fails fast rather than
// silently mapping the whole address space, and room for a few dozen
// indexes/tables per store.
func DefaultOptions() Options {
	return Options{
		MapSize:      1 * datasize.GB,
		MaxDatabases: 64,
		Mode:         0o644,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}
