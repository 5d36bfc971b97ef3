// Package fs provides the filesystem abstraction the disk overflow engine
// and memory ring dump files are built on.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os]
//   - [Locker]: advisory exclusive locking on top of an [FS]
//
// The engine opens its files and writes its dump files through these
// interfaces so tests can substitute a fault-injecting implementation
// instead of talking to a real disk. Two paths bypass them: reads and
// writes on an open data or index file use raw syscalls on [File.Fd], and
// the collapse-range capability probe creates its temp file with
// [os.CreateTemp].
//
// Paths use OS semantics (like the os package and path/filepath), not the
// slash-separated paths used by the standard library io/fs package.
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.ReaderAt], [io.WriterAt], [io.Seeker], or [io.Closer].
//
// [File.Fd] must return a valid OS file descriptor usable with raw syscalls
// (pread, pwrite, writev, fallocate, flock) until the file is closed.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	io.ReaderAt
	io.WriterAt

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents and metadata to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	Truncate(size int64) error
}

// FS defines the filesystem operations the engine needs.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	//
	// Common flags: [os.O_RDONLY], [os.O_WRONLY], [os.O_RDWR],
	// [os.O_APPEND], [os.O_CREATE], [os.O_EXCL], [os.O_TRUNC].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info. See [os.Stat].
	// Returns an error satisfying [os.IsNotExist] if the file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// ReadDir reads a directory and returns its entries, sorted by name.
	// See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// WriteFileAtomic writes the entirety of r to path, replacing any
	// existing file, such that a crash or concurrent reader never observes
	// a partially written file: the new content lands at path only after
	// it has been fully written and synced elsewhere. Used for the memory
	// ring's dump files, the only place this engine writes a file as an
	// indivisible whole rather than incrementally.
	WriteFileAtomic(path string, r io.Reader) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
