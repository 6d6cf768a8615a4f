package kv

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"github.com/erigontech/mdbx-go/mdbx"
	"go.uber.org/zap"
)

// Env is a shared handle onto one memory-mapped store. Environments are
// never constructed directly: Open dedupes them process-wide by backing
// file identity (see registry.go), so every caller that opens the same
// path gets back the same *Env and shares its single write lock.
//
// Env tracks transaction nesting per OS thread rather than per goroutine,
// because that's what the underlying store actually binds to (§5.3).
// BeginRW pins its calling goroutine to the current OS thread with
// runtime.LockOSThread for the life of the transaction (released in
// Tx.finish on Commit/Abort, or handed off to the converted transaction by
// ConvertToReadOnly) so the goroutine cannot be rescheduled onto a
// different thread out from under a live write transaction.
type Env struct {
	path     string
	identity envIdentity
	refs     int32

	db     *mdbx.Env
	opts   Options
	logger *zap.Logger
	dbis   sync.Map // string -> DBI, populated by Tx.OpenDBI

	threadsMu sync.Mutex
	threads   map[int32]*threadState

	metrics *envMetrics
}

type threadState struct {
	rwDepth int // 1 while a top-level RW transaction is open on this thread, else 0; nested sub-transactions are not counted
	roCount int // number of concurrently open RO transactions on this thread
}

func newEnv(path string, opts Options) (*Env, error) {
	db, err := mdbx.NewEnv(mdbx.Default)
	if err != nil {
		return nil, storeError("mdbx_env_create", err)
	}

	if opts.MaxDatabases == 0 {
		opts = DefaultOptions()
	}
	if err := db.SetMaxDBs(int(opts.MaxDatabases)); err != nil {
		db.Close()
		return nil, storeError("mdbx_env_set_maxdbs", err)
	}

	mapSize := int64(opts.MapSize.Bytes())
	if mapSize <= 0 {
		mapSize = int64(DefaultOptions().MapSize.Bytes())
	}
	if err := db.SetGeometry(-1, -1, int(mapSize), -1, -1, -1); err != nil {
		db.Close()
		return nil, storeError("mdbx_env_set_geometry", err)
	}

	flags := translateEnvFlags(opts.Flags)
	mode := opts.Mode
	if mode == 0 {
		mode = DefaultOptions().Mode
	}
	if err := db.Open(path, flags, uint32(mode)); err != nil {
		db.Close()
		return nil, storeError("mdbx_env_open", err)
	}

	env := &Env{
		path:    path,
		db:      db,
		opts:    opts,
		logger:  opts.logger(),
		threads: make(map[int32]*threadState),
	}
	env.metrics = newEnvMetrics(opts.Registerer, path)
	env.logger.Debug("environment opened", zap.String("path", path))
	return env, nil
}

func translateEnvFlags(f EnvFlags) mdbx.EnvFlags {
	var out mdbx.EnvFlags
	if f&ReadOnly != 0 {
		out |= mdbx.Readonly
	}
	if f&NoSubdir != 0 {
		out |= mdbx.NoSubdir
	}
	if f&NoSync != 0 {
		out |= mdbx.SafeNoSync
	}
	if f&NoMetaSync != 0 {
		out |= mdbx.NoMetaSync
	}
	return out
}

func (e *Env) acquire() { atomic.AddInt32(&e.refs, 1) }

// Release drops this holder's reference to the shared Environment, closing
// the underlying store once the last holder has released it. Every
// successful Open call must be paired with exactly one Release.
func (e *Env) Release() error {
	if atomic.AddInt32(&e.refs, -1) > 0 {
		return nil
	}
	globalRegistry.release(e)
	return e.closeEngine()
}

func (e *Env) closeEngine() error {
	e.metrics.unregister()
	if err := e.db.Close(); err != nil {
		return storeError("mdbx_env_close", err)
	}
	return nil
}

func (e *Env) state() *threadState {
	tid := threadID()
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	st, ok := e.threads[tid]
	if !ok {
		st = &threadState{}
		e.threads[tid] = st
	}
	return st
}

func (e *Env) dropState(tid int32) {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	if st, ok := e.threads[tid]; ok && st.rwDepth == 0 && st.roCount == 0 {
		delete(e.threads, tid)
	}
}

// BeginRO starts a top-level read-only transaction. Any number of RO
// transactions may be open concurrently, on any number of threads, subject
// only to the store's configured reader slot limit (ErrReadersFull).
func (e *Env) BeginRO(ctx context.Context) (*Tx, error) {
	tid := threadID()
	st := e.state()

	e.threadsMu.Lock()
	if st.rwDepth > 0 {
		e.threadsMu.Unlock()
		return nil, newError(KindNestingConflict, "BeginRO", nil)
	}
	st.roCount++
	e.threadsMu.Unlock()

	txn, err := e.db.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		e.threadsMu.Lock()
		st.roCount--
		e.threadsMu.Unlock()
		if mdbx.IsErrno(err, mdbx.ReadersFull) {
			return nil, newError(KindReadersFull, "mdbx_txn_begin", err)
		}
		return nil, storeError("mdbx_txn_begin", err)
	}

	tx := newTx(e, txn, tid, true, nil)
	e.metrics.roActive.Inc()
	return tx, nil
}

// BeginRW starts a top-level read-write transaction. A thread may hold at
// most one top-level transaction of any kind at a time: a second call on
// the same thread before the first commits or aborts fails with
// NestingConflict, whether that first transaction was RO or RW. Nested
// sub-transactions are started from an existing *Tx via Tx.Begin, not from
// the Env.
func (e *Env) BeginRW(ctx context.Context) (*Tx, error) {
	// Pin before reading threadID: mdbx_txn_begin must run on the same OS
	// thread every subsequent call on this transaction runs on, and the Go
	// scheduler is free to move an unlocked goroutine between them.
	runtime.LockOSThread()
	tid := threadID()
	st := e.state()

	e.threadsMu.Lock()
	if st.rwDepth > 0 || st.roCount > 0 {
		e.threadsMu.Unlock()
		runtime.UnlockOSThread()
		return nil, newError(KindNestingConflict, "BeginRW", nil)
	}
	st.rwDepth = 1
	e.threadsMu.Unlock()

	txn, err := e.db.BeginTxn(nil, 0)
	if err != nil {
		e.threadsMu.Lock()
		st.rwDepth = 0
		e.threadsMu.Unlock()
		runtime.UnlockOSThread()
		if mdbx.IsErrno(err, mdbx.MapFull) {
			return nil, newError(KindMapFull, "mdbx_txn_begin", err)
		}
		return nil, storeError("mdbx_txn_begin", err)
	}

	tx := newTx(e, txn, tid, false, nil)
	tx.lockedThread = true
	e.metrics.rwActive.Inc()
	return tx, nil
}

// Resize grows or shrinks the memory map's upper bound to newSize, the
// "resize operation with the current environment" spec.md's configuration
// section names as the way to recover from MapFull without reopening the
// whole Environment. It must be called with no transaction of any kind
// open on the calling thread.
func (e *Env) Resize(newSize datasize.ByteSize) error {
	if err := e.db.SetGeometry(-1, -1, int(newSize.Bytes()), -1, -1, -1); err != nil {
		return storeError("mdbx_env_set_geometry", err)
	}
	return nil
}

// Path returns the filesystem path this Environment was opened with.
func (e *Env) Path() string { return e.path }

// Stat reports store-wide statistics (page size, tree depth, total
// entries across all named databases), matching mdbx_env_stat.
func (e *Env) Stat() (*mdbx.Stat, error) {
	stat, err := e.db.Stat()
	if err != nil {
		return nil, storeError("mdbx_env_stat", err)
	}
	return stat, nil
}
