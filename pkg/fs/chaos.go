package fs

import (
	"io"
	"math/rand"
	"os"
)

// Chaos wraps an [FS] and injects failures at controlled points so tests can
// exercise the engine's crash-recovery paths without a real crash.
//
// A zero-value Chaos behaves like a plain passthrough; set the Fail* fields
// to enable injection. Each Fail* function is consulted before the
// corresponding real operation runs; returning a non-nil error short-circuits
// the call instead of touching the underlying [FS]/[File].
type Chaos struct {
	FS FS

	// FailOpen, if non-nil, is consulted before every Open/OpenFile call.
	FailOpen func(path string) error

	// FailWrite, if non-nil, is consulted before every Write/WriteAt call and
	// may also truncate the write by returning a short byte count.
	FailWrite func(path string, p []byte) (n int, err error, short bool)

	// FailSync, if non-nil, is consulted before every Sync call.
	FailSync func(path string) error
}

// NewChaos wraps fsys with fault injection left disabled.
func NewChaos(fsys FS) *Chaos {
	return &Chaos{FS: fsys}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.FailOpen != nil {
		if err := c.FailOpen(path); err != nil {
			return nil, err
		}
	}

	f, err := c.FS.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, path: path, chaos: c}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.FailOpen != nil {
		if err := c.FailOpen(path); err != nil {
			return nil, err
		}
	}

	f, err := c.FS.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, path: path, chaos: c}, nil
}

func (c *Chaos) Stat(path string) (os.FileInfo, error)        { return c.FS.Stat(path) }
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error)   { return c.FS.ReadDir(path) }
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.FS.MkdirAll(path, perm) }
func (c *Chaos) Remove(path string) error                     { return c.FS.Remove(path) }

// WriteFileAtomic is consulted via FailOpen (the whole write is a single
// all-or-nothing operation, so there is no intermediate Write/Sync call for
// FailWrite/FailSync to intercept) before delegating to the wrapped FS.
func (c *Chaos) WriteFileAtomic(path string, r io.Reader) error {
	if c.FailOpen != nil {
		if err := c.FailOpen(path); err != nil {
			return err
		}
	}

	return c.FS.WriteFileAtomic(path, r)
}

type chaosFile struct {
	File
	path  string
	chaos *Chaos
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.FailWrite != nil {
		n, err, short := f.chaos.FailWrite(f.path, p)
		if err != nil {
			return n, err
		}
		if short {
			return f.File.Write(p[:n])
		}
	}

	return f.File.Write(p)
}

func (f *chaosFile) WriteAt(p []byte, off int64) (int, error) {
	if f.chaos.FailWrite != nil {
		n, err, short := f.chaos.FailWrite(f.path, p)
		if err != nil {
			return n, err
		}
		if short {
			return f.File.WriteAt(p[:n], off)
		}
	}

	return f.File.WriteAt(p, off)
}

func (f *chaosFile) Sync() error {
	if f.chaos.FailSync != nil {
		if err := f.chaos.FailSync(f.path); err != nil {
			return err
		}
	}

	return f.File.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)

// RandomShortWrite returns a FailWrite function that truncates writes to a
// random length (at least 1 byte, unless the buffer is empty) with the given
// probability, seeded from seed for reproducibility.
func RandomShortWrite(probability float64, seed int64) func(path string, p []byte) (int, error, bool) {
	rnd := rand.New(rand.NewSource(seed))

	return func(_ string, p []byte) (int, error, bool) {
		if len(p) == 0 || rnd.Float64() >= probability {
			return 0, nil, false
		}

		n := 1 + rnd.Intn(len(p))
		if n >= len(p) {
			return 0, nil, false
		}

		return n, nil, true
	}
}

var _ io.Writer = (*chaosFile)(nil)
