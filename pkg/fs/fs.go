// Package fs provides the filesystem abstraction used by the store, atomic
// whole-file writes and a sidecar lock file primitive.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the store needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] and natefinch/atomic
//   - [Faulty]: testing implementation that fails selected operations
//   - [Locker]: cross-process mutual exclusion via "<resource>.lock" files
//
// Example usage:
//
//	fsys := fs.NewReal()
//	locker, _ := fs.NewLocker(fsys, fs.DefaultLockOptions())
//
//	lock, err := locker.Acquire(ctx, "data/members.json")
//	if err != nil {
//	    return err // errors.Is(err, fs.ErrLockTimeout) on contention
//	}
//	defer lock.Close()
//
//	data, _ := fsys.ReadFile("data/members.json")
//	// ... mutate ...
//	_ = fsys.WriteFileAtomic("data/members.json", data, 0o644)
package fs

import (
	"io"
	"os"
)

// File is an open file as returned by [FS.OpenFile]. [os.File] satisfies it.
type File interface {
	io.WriteCloser
}

// FS defines the filesystem operations used for reading, writing, and
// locking data files.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os] package
//   - [Faulty]: testing use, fails selected operations on demand
//
// Implementations must be safe for concurrent use.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	// The lock primitive relies on [os.O_CREATE]|[os.O_EXCL] being atomic.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data via temp file + rename, so
	// readers observe either the old or the new content, never a mix.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error
}

// Compile-time interface checks.
var (
	_ File = (*os.File)(nil)
	_ FS   = (*Real)(nil)
	_ FS   = (*Faulty)(nil)
)
