package kv

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// statDevIno extracts the (device, inode) pair the registry keys on. This
// is the same identity check glycerine's lmdb binding and the original C++
// wrapper both perform before trusting a path string: two different paths
// (symlink, bind mount, relative vs. absolute) can name the same backing
// file, and the registry must not open it twice.
func statDevIno(info os.FileInfo) (dev, ino uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), uint64(st.Ino)
}

// threadID identifies the current OS thread, not the current goroutine.
// mdbx (like LMDB before it) binds a read-write transaction to the OS
// thread that began it. BeginRW (env.go) pins the calling goroutine to its
// thread with runtime.LockOSThread for exactly that reason before reading
// this value; checkLive then compares against it on every later call as a
// cheap assertion, not a substitute for the pin itself.
func threadID() int32 {
	return int32(unix.Gettid())
}
