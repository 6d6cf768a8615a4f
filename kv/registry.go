package kv

import (
	"os"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// envIdentity is the (device, inode) pair that identifies a backing file
// across however many times it gets opened in this process, matching
// spec.md §4.2 and the original getMDBEnv's std::tuple<dev_t, ino_t> key.
type envIdentity struct {
	dev uint64
	ino uint64
}

type registryEntry struct {
	env   *Env // the live Environment; the entry is deleted once the last holder has released it
	flags EnvFlags
}

// registry is a process-wide map from backing-file identity to a shared
// Environment. Unlike the original's weak_ptr, Go has no general-purpose
// weak reference outside the experimental weak package, so liveness is
// tracked by an explicit refcount on Env instead (see Env.Release): the
// entry is pruned the moment the refcount drops to zero, which is strictly
// more deterministic than waiting on a GC-observed weak pointer.
type registry struct {
	mu      sync.Mutex
	entries map[envIdentity]*registryEntry
	opens   singleflight.Group
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{entries: make(map[envIdentity]*registryEntry)}
}

// Open returns the shared Environment for path, creating it if this is the
// first open in the process. Reopening a live Environment with flags that
// differ from the ones it was created with fails with FlagMismatch.
//
// The singleflight group collapses concurrent first-opens of the same path
// into one actual mdbx open, matching spec.md §4.2's requirement that "the
// mutex is held across the whole critical section to prevent concurrent
// first-opens racing" — singleflight.Group is the idiomatic Go shape of
// that same guarantee.
func Open(path string, opts Options) (*Env, error) {
	return globalRegistry.open(path, opts)
}

func (r *registry) open(path string, opts Options) (*Env, error) {
	v, err, _ := r.opens.Do(path, func() (interface{}, error) {
		return r.openLocked(path, opts)
	})
	if err != nil {
		return nil, err
	}
	env := v.(*Env)
	env.acquire()
	return env, nil
}

func (r *registry) openLocked(path string, opts Options) (*Env, error) {
	id, existed, err := statIdentity(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existed {
		if entry, ok := r.entries[id]; ok && entry.env != nil {
			if entry.flags != opts.Flags {
				return nil, newError(KindFlagMismatch, "Open", nil)
			}
			return entry.env, nil
		}
	}

	// The file doesn't exist yet (or its registry entry is stale): guard
	// the creation race against other *processes*, not just other
	// goroutines in this one — the in-process mutex above only protects us
	// from ourselves.
	var fl *flock.Flock
	if !existed {
		fl = flock.New(path + ".mdbxkv-create-lock")
		if err := fl.Lock(); err != nil {
			return nil, storeError("flock", err)
		}
		defer fl.Unlock() //nolint:errcheck
	}

	env, err := newEnv(path, opts)
	if err != nil {
		return nil, err
	}

	id, _, err = statIdentity(path)
	if err != nil {
		env.closeEngine()
		return nil, err
	}

	env.identity = id
	r.entries[id] = &registryEntry{env: env, flags: opts.Flags}
	return env, nil
}

func (r *registry) release(env *Env) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[env.identity]; ok && entry.env == env {
		delete(r.entries, env.identity)
	}
}

// stats reports how many distinct stores are currently tracked, for
// metrics/introspection.
func (r *registry) stats() (open int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stats reports how many distinct backing files this process currently
// has a live Environment open against.
func Stats() (open int) {
	return globalRegistry.stats()
}

// Purge evicts all registry entries without closing their environments.
// It exists for tests that need process-wide registry state reset between
// table-driven cases; production code should never call it.
func Purge() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.entries = make(map[envIdentity]*registryEntry)
}

func statIdentity(path string) (envIdentity, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return envIdentity{}, false, nil
		}
		return envIdentity{}, false, storeError("stat", err)
	}
	dev, ino := statDevIno(info)
	return envIdentity{dev: dev, ino: ino}, true, nil
}
