// Package posixfile wraps a single data-directory file with the blocking
// POSIX primitives the disk overflow engine needs: EINTR-safe pread/pwrite/
// writev, fdatasync, ftruncate, and unlink. Every error is wrapped in an
// [Error] carrying the file name, operation, and underlying errno.
package posixfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// maxEINTRRetries bounds EINTR retry loops so a pathological signal storm
// cannot spin forever.
const maxEINTRRetries = 10000

// File is a POSIX file opened for random-access read-write I/O at
// dir/name. Its read, write, seek, truncate, sync and size methods fail
// with an [Error] once the file is closed; Remove may be called on a
// closed file.
type File struct {
	mu     sync.Mutex
	fsys   fs.FS
	file   fs.File
	name   string // full path, for error messages
	closed bool
}

// Open opens (creating if necessary) the file at dir/name for read-write
// access via fsys.
func Open(fsys fs.FS, dir, name string) (*File, error) {
	path := name
	if dir != "" {
		path = dir + string(os.PathSeparator) + name
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, newError(path, "open", err)
	}

	return &File{fsys: fsys, file: f, name: path}, nil
}

// Name returns the file's full path.
func (f *File) Name() string { return f.name }

func (f *File) assertOpen() error {
	if f.closed {
		return newError(f.name, "use", errors.New("file descriptor is closed"))
	}
	return nil
}

// Pread reads len(buf) bytes at offset off, retrying on EINTR and short
// reads until buf is full or an error (including io.EOF-equivalent zero
// read) occurs.
func (f *File) Pread(buf []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	fd := int(f.file.Fd())

	total := 0
	for total < len(buf) {
		n, err := retryEINTRInt(func() (int, error) {
			return unix.Pread(fd, buf[total:], off+int64(total))
		})
		if err != nil {
			return total, newError(f.name, "pread", err)
		}
		if n == 0 {
			return total, newError(f.name, "pread", fmt.Errorf("unexpected EOF after %d of %d bytes", total, len(buf)))
		}
		total += n
	}

	return total, nil
}

// Pwrite writes all of buf at offset off, retrying on EINTR and short writes.
func (f *File) Pwrite(buf []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	fd := int(f.file.Fd())

	total := 0
	for total < len(buf) {
		n, err := retryEINTRInt(func() (int, error) {
			return unix.Pwrite(fd, buf[total:], off+int64(total))
		})
		if err != nil {
			return total, newError(f.name, "pwrite", err)
		}
		total += n
	}

	return total, nil
}

// Writev gathers iovecs and writes them at the current file position (file
// end, for the engine's append-only use), retrying on EINTR and resuming
// correctly after a short write by tracking a byte cursor across the whole
// vector.
func (f *File) Writev(iovecs [][]byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	fd := int(f.file.Fd())

	total := 0
	wantTotal := 0
	for _, v := range iovecs {
		wantTotal += len(v)
	}

	vecs := cloneIovecs(iovecs)

	for total < wantTotal {
		vecs = dropConsumed(vecs)
		if len(vecs) == 0 {
			break
		}

		n, err := retryEINTRInt(func() (int, error) {
			return unix.Writev(fd, vecs)
		})
		if err != nil {
			return total, newError(f.name, "writev", err)
		}
		if n == 0 {
			return total, newError(f.name, "writev", errors.New("short write with no progress"))
		}

		total += n
		vecs = advance(vecs, n)
	}

	return total, nil
}

// Read reads at the current file position, advancing it. See [os.File.Read].
func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	n, err := f.file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, newError(f.name, "read", err)
	}

	return n, err
}

// Write writes at the current file position, advancing it. See [os.File.Write].
func (f *File) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	n, err := f.file.Write(buf)
	if err != nil {
		return n, newError(f.name, "write", err)
	}

	return n, nil
}

// Seek repositions the file's current offset. See [os.File.Seek].
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	n, err := f.file.Seek(offset, whence)
	if err != nil {
		return n, newError(f.name, "lseek", err)
	}

	return n, nil
}

// Reset truncates the file to zero length ("ftruncate(0)").
func (f *File) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return err
	}

	if err := f.file.Truncate(0); err != nil {
		return newError(f.name, "ftruncate", err)
	}

	if _, err := f.file.Seek(0, os.SEEK_SET); err != nil {
		return newError(f.name, "lseek", err)
	}

	return nil
}

// Flush calls fdatasync, the engine's only durability barrier.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return err
	}

	fd := int(f.file.Fd())

	err := retryEINTR(func() error { return unix.Fdatasync(fd) })
	if err != nil {
		return newError(f.name, "fdatasync", err)
	}

	return nil
}

// Size returns the current file size via fstat.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.assertOpen(); err != nil {
		return 0, err
	}

	info, err := f.file.Stat()
	if err != nil {
		return 0, newError(f.name, "fstat", err)
	}

	return info.Size(), nil
}

// Fd returns the raw OS file descriptor, valid until Close.
func (f *File) Fd() uintptr {
	return f.file.Fd()
}

// Close closes the file. Close is idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	if err := f.file.Close(); err != nil {
		return newError(f.name, "close", err)
	}

	return nil
}

// Remove unlinks the file and closes the handle. Matches §4.1's "remove
// (unlink + close)".
func (f *File) Remove() error {
	f.mu.Lock()
	closed := f.closed
	f.closed = true
	f.mu.Unlock()

	var closeErr error
	if !closed {
		closeErr = f.file.Close()
	}

	removeErr := f.fsys.Remove(f.name)

	if removeErr != nil {
		return newError(f.name, "unlink", removeErr)
	}

	if closeErr != nil {
		return newError(f.name, "close", closeErr)
	}

	return nil
}

// retryEINTR retries fn while it returns [syscall.EINTR], up to
// maxEINTRRetries times.
func retryEINTR(fn func() error) error {
	var err error
	for range maxEINTRRetries {
		err = fn()
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}
	return err
}

// retryEINTRInt is [retryEINTR] for syscalls that also return a byte count.
func retryEINTRInt(fn func() (int, error)) (int, error) {
	var n int
	var err error
	for range maxEINTRRetries {
		n, err = fn()
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return n, err
		}
	}
	return n, err
}

func cloneIovecs(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	copy(out, in)
	return out
}

// dropConsumed removes leading zero-length iovecs produced by [advance].
func dropConsumed(vecs [][]byte) [][]byte {
	i := 0
	for i < len(vecs) && len(vecs[i]) == 0 {
		i++
	}
	return vecs[i:]
}

// advance consumes n bytes from the front of vecs, in place, to resume a
// short writev correctly.
func advance(vecs [][]byte, n int) [][]byte {
	remaining := n
	for i := range vecs {
		if remaining == 0 {
			break
		}
		if remaining >= len(vecs[i]) {
			remaining -= len(vecs[i])
			vecs[i] = vecs[i][:0]
		} else {
			vecs[i] = vecs[i][remaining:]
			remaining = 0
		}
	}
	return vecs
}
