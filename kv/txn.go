package kv

import (
	"runtime"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"
	"go.uber.org/zap"
)

// Tx is a single transaction, either read-only or read-write. A *Tx must
// never be used from an OS thread other than the one that began it, and
// never after Commit or Abort returns: both rules mirror the store's own
// handle-safety contract (§5). Violating either is a programming error
// this wrapper detects rather than letting it corrupt memory the way a raw
// cursor-after-free would: use after Commit or Abort reports Invalidated,
// use from another thread reports NestingConflict.
type Tx struct {
	env    *Env
	txn    *mdbx.Txn
	tid    int32
	ro     bool
	parent *Tx

	// lockedThread is true for a top-level RW transaction's *Tx: it owns
	// the runtime.LockOSThread call BeginRW made and is responsible for
	// releasing it in finish, or handing that responsibility to the
	// converted transaction in ConvertToReadOnly.
	lockedThread bool

	mu       sync.Mutex
	done     bool
	cursors  map[*Cursor]struct{}
	children map[*Tx]struct{}
}

func newTx(env *Env, txn *mdbx.Txn, tid int32, ro bool, parent *Tx) *Tx {
	tx := &Tx{
		env:     env,
		txn:     txn,
		tid:     tid,
		ro:      ro,
		parent:  parent,
		cursors: make(map[*Cursor]struct{}),
	}
	if parent != nil {
		if parent.children == nil {
			parent.children = make(map[*Tx]struct{})
		}
		parent.children[tx] = struct{}{}
	}
	env.logger.Debug("transaction begin",
		zap.Bool("readonly", ro), zap.Bool("nested", parent != nil), zap.Int32("tid", tid))
	return tx
}

func (tx *Tx) checkLive(op string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return newError(KindInvalidated, op, nil)
	}
	if threadID() != tx.tid {
		return newError(KindNestingConflict, op, nil)
	}
	return nil
}

// Begin starts a nested read-write sub-transaction under tx, which must
// itself be a read-write transaction. Sub-transactions see their parent's
// uncommitted writes and, on commit, fold their own writes back into the
// parent rather than into the store; on abort, only the sub-transaction's
// writes are discarded and the parent is left exactly as it was. Read-only
// transactions cannot nest: mdbx has no concept of a nested reader.
func (tx *Tx) Begin() (*Tx, error) {
	if err := tx.checkLive("Begin"); err != nil {
		return nil, err
	}
	if tx.ro {
		return nil, newError(KindNestingConflict, "Begin", nil)
	}

	child, err := tx.txn.BeginTxn(tx.txn, 0)
	if err != nil {
		return nil, storeError("mdbx_txn_begin_nested", err)
	}
	return newTx(tx.env, child, tx.tid, false, tx), nil
}

// BeginChildRO starts a read-only transaction nested under tx, which must
// itself be a live read-write transaction. Unlike Begin's RW sub-transaction,
// the child here never writes and its own Commit/Abort has no effect on tx:
// it exists purely to hand the calling code a consistent, read-only view
// that also sees tx's own uncommitted writes, a documented capability of
// the underlying store distinct from a plain BeginRO (which would only see
// data already committed by some earlier transaction).
func (tx *Tx) BeginChildRO() (*Tx, error) {
	if err := tx.checkLive("BeginChildRO"); err != nil {
		return nil, err
	}
	if tx.ro {
		return nil, newError(KindNestingConflict, "BeginChildRO", nil)
	}

	child, err := tx.txn.BeginTxn(tx.txn, mdbx.Readonly)
	if err != nil {
		return nil, storeError("mdbx_txn_begin_nested_ro", err)
	}
	return newTx(tx.env, child, tx.tid, true, tx), nil
}

// Commit finalizes the transaction's writes. A sub-transaction's writes
// become visible to its parent but not to the rest of the store until the
// outermost transaction itself commits. Once Commit returns (successfully
// or not) the *Tx and every Cursor opened from it are invalidated.
func (tx *Tx) Commit() error {
	if err := tx.checkLive("Commit"); err != nil {
		return err
	}
	tx.invalidateCursors()

	latency, err := tx.txn.Commit()
	tx.finish()
	if err != nil {
		return storeError("mdbx_txn_commit", err)
	}
	tx.env.metrics.observeCommit(
		latency.Preparation.Seconds(),
		latency.Write.Seconds(),
		latency.Sync.Seconds(),
		latency.Whole.Seconds(),
	)
	tx.env.logger.Debug("transaction commit", zap.Bool("readonly", tx.ro), zap.Int32("tid", tx.tid))
	return nil
}

// Reset releases a read-only transaction's reader slot without destroying
// the transaction object, a documented fast path for a thread that will
// immediately Renew rather than pay for a fresh BeginRO. Any cursor opened
// from tx is invalidated, matching the commit/abort discipline.
func (tx *Tx) Reset() error {
	if err := tx.checkLive("Reset"); err != nil {
		return err
	}
	if !tx.ro {
		return newError(KindNestingConflict, "Reset", nil)
	}
	tx.invalidateCursors()
	tx.txn.Reset()
	return nil
}

// Renew reacquires a reader slot for a transaction previously released
// with Reset, taking a fresh snapshot. It must be called before any other
// method on tx.
func (tx *Tx) Renew() error {
	tx.mu.Lock()
	live := !tx.done
	tx.mu.Unlock()
	if !live {
		return newError(KindInvalidated, "Renew", nil)
	}
	if !tx.ro {
		return newError(KindNestingConflict, "Renew", nil)
	}
	if err := tx.txn.Renew(); err != nil {
		return storeError("mdbx_txn_renew", err)
	}
	return nil
}

// ConvertToReadOnly consumes a read-write transaction that has not yet
// committed or aborted and returns an equivalent read-only transaction
// over the same snapshot, for "prepare writes, then demote for read-only
// iteration" patterns. Any cursor opened from tx is invalidated exactly as
// it would be on commit or abort; the caller must reopen cursors against
// the returned read-only transaction. tx itself is left invalidated.
func (tx *Tx) ConvertToReadOnly() (*Tx, error) {
	if err := tx.checkLive("ConvertToReadOnly"); err != nil {
		return nil, err
	}
	if tx.ro {
		return nil, newError(KindNestingConflict, "ConvertToReadOnly", nil)
	}
	if tx.parent != nil {
		return nil, newError(KindNestingConflict, "ConvertToReadOnly", nil)
	}

	tx.invalidateCursors()

	converted := newTx(tx.env, tx.txn, tx.tid, true, nil)
	// The OS thread lock BeginRW took for tx transfers to converted: the
	// underlying mdbx.Txn is the same handle, still bound to this thread,
	// and it's converted's eventual Commit/Abort that must release it now.
	converted.lockedThread = tx.lockedThread

	tx.mu.Lock()
	tx.done = true
	tx.cursors = nil
	tx.lockedThread = false
	tx.mu.Unlock()

	st := tx.env.state()
	tx.env.threadsMu.Lock()
	st.rwDepth = 0
	st.roCount++
	tx.env.threadsMu.Unlock()
	tx.env.metrics.rwActive.Dec()
	tx.env.metrics.roActive.Inc()

	return converted, nil
}

// Abort discards every write this transaction (and any still-open nested
// sub-transaction of it) made. It is always safe to call on an already
// committed or aborted transaction's defer path; a second Abort is a no-op.
func (tx *Tx) Abort() error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	tx.invalidateCursors()
	err := tx.txn.Abort()
	tx.finish()
	tx.env.logger.Debug("transaction abort", zap.Bool("readonly", tx.ro), zap.Int32("tid", tx.tid))
	if err != nil {
		return storeError("mdbx_txn_abort", err)
	}
	return nil
}

func (tx *Tx) finish() {
	tx.mu.Lock()
	tx.done = true
	cursors := tx.cursors
	tx.cursors = nil
	tx.mu.Unlock()

	for c := range cursors {
		c.invalidate()
	}

	if tx.parent != nil {
		delete(tx.parent.children, tx)
	} else {
		st := tx.env.state()
		tx.env.threadsMu.Lock()
		if tx.ro {
			st.roCount--
			tx.env.metrics.roActive.Dec()
		} else {
			st.rwDepth = 0
			tx.env.metrics.rwActive.Dec()
		}
		tx.env.threadsMu.Unlock()
		tx.env.dropState(tx.tid)
	}

	if tx.lockedThread {
		runtime.UnlockOSThread()
	}
}

func (tx *Tx) invalidateCursors() {
	tx.mu.Lock()
	cursors := make([]*Cursor, 0, len(tx.cursors))
	for c := range tx.cursors {
		cursors = append(cursors, c)
	}
	tx.mu.Unlock()
	for _, c := range cursors {
		c.invalidate()
	}
}

func (tx *Tx) registerCursor(c *Cursor) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.cursors[c] = struct{}{}
}

func (tx *Tx) unregisterCursor(c *Cursor) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	delete(tx.cursors, c)
}

// ReadOnly reports whether tx can mutate the store.
func (tx *Tx) ReadOnly() bool { return tx.ro }

// Get fetches the value stored under key in dbi. The second return is
// false if key is absent; no error is raised for that case, matching
// spec.md's policy that "not found" is a routine outcome, not a failure.
func (tx *Tx) Get(dbi DBI, key []byte) (Val, bool, error) {
	if err := tx.checkLive("Get"); err != nil {
		return nil, false, err
	}
	v, err := tx.txn.Get(dbi.raw(), key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, storeError("mdbx_get", err)
	}
	return Val(v), true, nil
}

// PutFlags modifies the meaning of Put/cursor Put calls.
type PutFlags uint

const (
	// NoOverwrite fails with ErrKeyExists-shaped StoreError if key already
	// exists (for non-DupSort databases) instead of replacing its value.
	NoOverwrite PutFlags = 1 << iota
	// Append asserts the caller is inserting keys in increasing order,
	// letting mdbx skip the usual tree search.
	Append
)

func translatePutFlags(f PutFlags) mdbx.PutFlags {
	var out mdbx.PutFlags
	if f&NoOverwrite != 0 {
		out |= mdbx.NoOverwrite
	}
	if f&Append != 0 {
		out |= mdbx.Append
	}
	return out
}

// Put inserts or replaces the value stored under key in dbi.
func (tx *Tx) Put(dbi DBI, key, val []byte, flags PutFlags) error {
	if err := tx.checkLive("Put"); err != nil {
		return err
	}
	if tx.ro {
		return newError(KindNestingConflict, "Put", nil)
	}
	if err := tx.txn.Put(dbi.raw(), key, val, translatePutFlags(flags)); err != nil {
		if mdbx.IsErrno(err, mdbx.MapFull) {
			return newError(KindMapFull, "mdbx_put", err)
		}
		return storeError("mdbx_put", err)
	}
	return nil
}

// Delete removes key (and, in a DupSort database, specifically the val
// value under it — pass nil to delete every value under key).
func (tx *Tx) Delete(dbi DBI, key, val []byte) error {
	if err := tx.checkLive("Delete"); err != nil {
		return err
	}
	if tx.ro {
		return newError(KindNestingConflict, "Delete", nil)
	}
	if err := tx.txn.Del(dbi.raw(), key, val); err != nil {
		if mdbx.IsNotFound(err) {
			return ErrNotFound
		}
		return storeError("mdbx_del", err)
	}
	return nil
}

// Clear removes every entry from dbi without dropping the database handle
// itself, matching Table[T].Clear's "keep the table, empty the contents"
// semantics.
func (tx *Tx) Clear(dbi DBI) error {
	if err := tx.checkLive("Clear"); err != nil {
		return err
	}
	if tx.ro {
		return newError(KindNestingConflict, "Clear", nil)
	}
	if err := tx.txn.Drop(dbi.raw(), false); err != nil {
		return storeError("mdbx_drop", err)
	}
	return nil
}

// Sequence reads dbi's monotonic counter and, if increment is nonzero,
// atomically advances it by that amount within this transaction. It
// returns the value the counter held *before* the increment, so a fresh
// database's first Sequence(dbi, 1) call returns 0 and leaves the counter
// at 1 — the typed container uses this to keep id 0 permanently reserved
// as "no such record".
func (tx *Tx) Sequence(dbi DBI, increment uint64) (uint64, error) {
	if err := tx.checkLive("Sequence"); err != nil {
		return 0, err
	}
	v, err := tx.txn.Sequence(dbi.raw(), increment)
	if err != nil {
		return 0, storeError("mdbx_dbi_sequence", err)
	}
	return v, nil
}

// Stat reports the number of entries and tree depth for a single database.
func (tx *Tx) Stat(dbi DBI) (*mdbx.Stat, error) {
	if err := tx.checkLive("Stat"); err != nil {
		return nil, err
	}
	stat, err := tx.txn.StatDBI(dbi.raw())
	if err != nil {
		return nil, storeError("mdbx_stat", err)
	}
	return stat, nil
}
