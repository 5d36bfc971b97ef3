package posixfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// CollapseChunk is the granularity of head truncation: §4.2 requires head
// truncation to always remove an integer multiple of this size.
const CollapseChunk = 1 << 20 // 1 MiB

// DataFile extends [File] with the fallocate modes the overflow engine's
// data file needs: allocate, collapse-range (remove a prefix), and
// zero-range (fill a span with zero bytes without changing file length).
type DataFile struct {
	*File

	// collapseSupported caches the one-time capability probe result. All
	// subsequent head-truncation attempts are gated on it.
	collapseSupported bool
}

// OpenDataFile opens dir/name as a [DataFile] and runs the one-time
// COLLAPSE_RANGE capability probe against a throwaway temp file (never the
// real data file).
func OpenDataFile(fsys fs.FS, dir, name string) (*DataFile, error) {
	f, err := Open(fsys, dir, name)
	if err != nil {
		return nil, err
	}

	supported, err := probeCollapseRange()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("posixfile: collapse-range capability probe: %w", err)
	}

	return &DataFile{File: f, collapseSupported: supported}, nil
}

// CollapseRangeSupported reports whether the kernel/filesystem combination
// this process observed at startup supports COLLAPSE_RANGE. If false, head
// truncation must be skipped entirely; the data file only ever grows.
func (d *DataFile) CollapseRangeSupported() bool {
	return d.collapseSupported
}

// Allocate preallocates length bytes starting at offset, extending the file
// if necessary, without changing the apparent content at already-allocated
// offsets.
func (d *DataFile) Allocate(offset, length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.assertOpen(); err != nil {
		return err
	}

	fd := int(d.file.Fd())

	err := retryEINTR(func() error { return unix.Fallocate(fd, 0, offset, length) })
	if err != nil {
		return newError(d.name, "fallocate", err)
	}

	return nil
}

// CollapseRange removes length bytes starting at offset from the file,
// shifting all following bytes down and shrinking the file by length bytes.
// length must be a multiple of [CollapseChunk]. The caller must re-seek to
// SEEK_END afterward; the kernel does not adjust the implicit file position.
func (d *DataFile) CollapseRange(offset, length int64) error {
	if length == 0 {
		return nil
	}

	if length%CollapseChunk != 0 {
		return fmt.Errorf("posixfile: collapse-range length %d not a multiple of %d", length, CollapseChunk)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.assertOpen(); err != nil {
		return err
	}

	fd := int(d.file.Fd())

	err := retryEINTR(func() error {
		return unix.Fallocate(fd, unix.FALLOC_FL_COLLAPSE_RANGE, offset, length)
	})
	if err != nil {
		return newError(d.name, "fallocate(collapse_range)", err)
	}

	return nil
}

// ZeroRange fills length bytes starting at offset with zero bytes without
// changing the file's length, used to blank the dummy record's payload
// after head truncation.
func (d *DataFile) ZeroRange(offset, length int64) error {
	if length == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.assertOpen(); err != nil {
		return err
	}

	fd := int(d.file.Fd())

	err := retryEINTR(func() error {
		return unix.Fallocate(fd, unix.FALLOC_FL_ZERO_RANGE, offset, length)
	})
	if err != nil {
		return newError(d.name, "fallocate(zero_range)", err)
	}

	return nil
}

// probeCollapseRange creates an anonymous temp file, allocates 1 MiB + 100
// bytes, attempts to collapse the leading 1 MiB, and verifies the resulting
// size is exactly 100 bytes. ENOTSUP, EOPNOTSUPP and EINVAL from either
// fallocate call are treated as "not supported", not an error; any other
// failure (creating, allocating, collapsing or stat-ing the probe file) is
// returned as an error.
func probeCollapseRange() (bool, error) {
	tmp, err := os.CreateTemp("", "diskqueue-collapse-probe-*")
	if err != nil {
		return false, fmt.Errorf("create probe file: %w", err)
	}

	name := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(name)
	}()

	fd := int(tmp.Fd())
	const probeSize = CollapseChunk + 100

	if err := retryEINTR(func() error { return unix.Fallocate(fd, 0, 0, probeSize) }); err != nil {
		if isNotSupported(err) {
			return false, nil
		}
		return false, fmt.Errorf("allocate probe file: %w", err)
	}

	err = retryEINTR(func() error {
		return unix.Fallocate(fd, unix.FALLOC_FL_COLLAPSE_RANGE, 0, CollapseChunk)
	})
	if err != nil {
		if isNotSupported(err) {
			return false, nil
		}
		return false, fmt.Errorf("collapse-range probe file: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return false, fmt.Errorf("stat probe file: %w", err)
	}

	return info.Size() == 100, nil
}

func isNotSupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL)
}
