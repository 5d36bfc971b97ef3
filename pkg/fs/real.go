package fs

import (
	"io"
	"os"

	"github.com/natefinch/atomic"
)

// Real implements [FS] using the real filesystem.
//
// All methods except WriteFileAtomic are pure passthroughs to the [os]
// package with identical behavior and error semantics; WriteFileAtomic
// delegates to github.com/natefinch/atomic.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.Open].
func (r *Real) Open(path string) (File, error) {
	return os.Open(path)
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// A passthrough wrapper for [os.ReadDir].
func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// A passthrough wrapper for [os.Stat].
func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// A passthrough wrapper for [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// WriteFileAtomic writes r to path via a temp file plus rename.
func (r *Real) WriteFileAtomic(path string, reader io.Reader) error {
	return atomic.WriteFile(path, reader)
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
