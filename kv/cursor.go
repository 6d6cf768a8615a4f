package kv

import (
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"
)

// Cursor walks a single database within the transaction that opened it.
// A Cursor self-registers with its owning Tx (registerCursor) so that
// Tx.Commit/Abort can invalidate every outstanding cursor before the
// underlying store handle is torn down, the same reportCursor bookkeeping
// the original wrapper's MDBRWTransaction performed, reshaped here as a
// map keyed by *Cursor instead of a linked intrusive list.
type Cursor struct {
	tx  *Tx
	cur *mdbx.Cursor

	mu   sync.Mutex
	live bool
}

// OpenCursor creates a cursor positioned before the first entry of dbi.
func (tx *Tx) OpenCursor(dbi DBI) (*Cursor, error) {
	if err := tx.checkLive("OpenCursor"); err != nil {
		return nil, err
	}
	raw, err := tx.txn.OpenCursor(dbi.raw())
	if err != nil {
		return nil, storeError("mdbx_cursor_open", err)
	}
	c := &Cursor{tx: tx, cur: raw, live: true}
	tx.registerCursor(c)
	return c, nil
}

func (c *Cursor) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
}

func (c *Cursor) checkLive(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return newError(KindInvalidated, op, nil)
	}
	return nil
}

// Close releases the cursor's handle early, without waiting for the
// owning transaction to end. Safe to call more than once.
func (c *Cursor) Close() {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	c.live = false
	c.mu.Unlock()

	c.tx.unregisterCursor(c)
	c.cur.Close()
}

func (c *Cursor) get(key, val []byte, op mdbx.CursorOp) (k, v []byte, err error) {
	if err := c.checkLive("Cursor"); err != nil {
		return nil, nil, err
	}
	k, v, err = c.cur.Get(key, val, op)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, storeError("mdbx_cursor_get", err)
	}
	return k, v, nil
}

// First positions the cursor at the database's first entry.
func (c *Cursor) First() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.First)
	return Val(k), Val(v), err
}

// Last positions the cursor at the database's last entry.
func (c *Cursor) Last() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.Last)
	return Val(k), Val(v), err
}

// Next advances the cursor to the following entry.
func (c *Cursor) Next() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.Next)
	return Val(k), Val(v), err
}

// Prev moves the cursor to the preceding entry.
func (c *Cursor) Prev() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.Prev)
	return Val(k), Val(v), err
}

// Seek positions the cursor at exactly key, failing with ErrNotFound if
// no such key exists.
func (c *Cursor) Seek(key []byte) (foundKey, val Val, err error) {
	k, v, err := c.get(key, nil, mdbx.Set)
	return Val(k), Val(v), err
}

// SeekRange positions the cursor at the first key >= key (the lower_bound
// operation spec.md's range scans and Table[T].LowerBound are built on).
func (c *Cursor) SeekRange(key []byte) (foundKey, val Val, err error) {
	k, v, err := c.get(key, nil, mdbx.SetRange)
	return Val(k), Val(v), err
}

// NextDup advances within the current key's duplicate list (DupSort
// databases only), used to walk a secondary index's posting list.
func (c *Cursor) NextDup() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.NextDup)
	return Val(k), Val(v), err
}

// NextNoDup advances to the next distinct key, skipping the rest of the
// current key's duplicate list.
func (c *Cursor) NextNoDup() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.NextNoDup)
	return Val(k), Val(v), err
}

// GetCurrent returns the entry the cursor currently points to, without
// moving it.
func (c *Cursor) GetCurrent() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.GetCurrent)
	return Val(k), Val(v), err
}

// PrevDup moves backward within the current key's duplicate list.
func (c *Cursor) PrevDup() (key, val Val, err error) {
	k, v, err := c.get(nil, nil, mdbx.PrevDup)
	return Val(k), Val(v), err
}

// SeekBothRange positions the cursor at the first value >= val under key
// in a DupSort database.
func (c *Cursor) SeekBothRange(key, val []byte) (foundVal Val, err error) {
	_, v, err := c.get(key, val, mdbx.GetBothRange)
	return Val(v), err
}

// Put inserts or replaces an entry at the cursor's database. CurrentPut
// flags are not exposed here: the typed container never needs to replace
// a value in place without knowing its key, only to insert or delete.
func (c *Cursor) Put(key, val []byte, flags PutFlags) error {
	if err := c.checkLive("Cursor.Put"); err != nil {
		return err
	}
	if c.tx.ro {
		return newError(KindNestingConflict, "Cursor.Put", nil)
	}
	if err := c.cur.Put(key, val, translatePutFlags(flags)); err != nil {
		return storeError("mdbx_cursor_put", err)
	}
	return nil
}

// Delete removes the entry the cursor currently points to.
func (c *Cursor) Delete() error {
	if err := c.checkLive("Cursor.Delete"); err != nil {
		return err
	}
	if c.tx.ro {
		return newError(KindNestingConflict, "Cursor.Delete", nil)
	}
	if err := c.cur.Del(0); err != nil {
		return storeError("mdbx_cursor_del", err)
	}
	return nil
}
