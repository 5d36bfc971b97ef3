// Package ring implements the bounded in-memory record queue that fronts
// the disk overflow store (§4.7). A Ring holds records up to a fixed byte
// capacity, accounted as `[length:uint32][bytes]` framing; each record's
// payload is kept as its own slice, not packed into one contiguous buffer.
// Once full, callers fall back to the overflow engine.
package ring

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// dumpMagic tags the byte-exact dump format written by Save and read back
// by Load (`<storage_id>.rq` files, §6).
const dumpMagic = "QDRING01"

// headerSize is the per-record framing overhead: a uint32 length prefix.
const headerSize = 4

// ErrTooLarge describes a record whose payload plus framing can never fit
// in the ring's capacity, regardless of current occupancy. Push does not
// return it: Push reports such a record, like any other that does not fit,
// by returning false.
var ErrTooLarge = errors.New("ring: record larger than ring capacity")

// ErrCorruptDump is returned by Load when a dump file fails its magic or
// internal consistency checks.
var ErrCorruptDump = errors.New("ring: corrupt dump file")

// record is one queued entry. Payloads are copied in on Push and handed
// back by reference on Pop (the caller must not mutate past its use).
type record struct {
	payload []byte
}

// Ring is a bounded FIFO queue of byte-string records backed by a fixed
// capacity budget. Capacity is accounted in framed bytes (length prefix
// plus payload), matching how the dump file lays records out on disk.
type Ring struct {
	capacity uint64
	used     uint64
	records  []record
}

// New returns an empty Ring with the given byte capacity.
func New(capacity uint64) *Ring {
	return &Ring{capacity: capacity}
}

// Push appends payload, returning false if it would not fit in the
// remaining capacity. The ring copies payload; the caller's slice may be
// reused afterward.
func (r *Ring) Push(payload []byte) bool {
	framed := uint64(headerSize) + uint64(len(payload))
	if framed > r.capacity-r.used {
		return false
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)

	r.records = append(r.records, record{payload: cp})
	r.used += framed

	return true
}

// Pop removes and returns the oldest record. ok is false if the ring is
// empty.
func (r *Ring) Pop() (payload []byte, ok bool) {
	if len(r.records) == 0 {
		return nil, false
	}

	rec := r.records[0]
	r.records = r.records[1:]
	r.used -= uint64(headerSize) + uint64(len(rec.payload))

	return rec.payload, true
}

// Clear discards all records.
func (r *Ring) Clear() {
	r.records = nil
	r.used = 0
}

// Length is the number of queued records.
func (r *Ring) Length() int { return len(r.records) }

// UsedSpace is the number of capacity bytes currently occupied, including
// per-record framing.
func (r *Ring) UsedSpace() uint64 { return r.used }

// TotalSpace is the ring's fixed capacity.
func (r *Ring) TotalSpace() uint64 { return r.capacity }

// PayloadBytes is the sum of payload lengths, excluding per-record
// framing overhead.
func (r *Ring) PayloadBytes() uint64 {
	return r.used - uint64(len(r.records))*headerSize
}

// Save writes a byte-exact dump of the ring to path via fsys: an 8-byte
// magic, followed by each record as `[length:uint32][bytes]` in FIFO
// order. The write is atomic (temp file + rename) so a crash mid-write
// cannot leave a half-written dump behind (§4.7, §6). Routing through fsys
// rather than writing the real filesystem directly lets tests substitute a
// fault-injecting [fs.FS] for this path, the same as every other disk
// access the engine makes.
func (r *Ring) Save(fsys fs.FS, path string) error {
	var buf bytes.Buffer

	buf.WriteString(dumpMagic)

	var lenbuf [headerSize]byte
	for _, rec := range r.records {
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(rec.payload)))
		buf.Write(lenbuf[:])
		buf.Write(rec.payload)
	}

	if err := fsys.WriteFileAtomic(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("ring: save %s: %w", path, err)
	}

	return nil
}

// Load replaces the ring's contents with the dump at path, read via fsys.
// The caller is responsible for removing the dump file afterward (the
// registry's startup scan deletes all loaded `.rq` files once recovery
// completes, §4.10).
func Load(fsys fs.FS, capacity uint64, path string) (*Ring, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ring: load %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("ring: load %s: %w", path, err)
	}

	if len(data) < len(dumpMagic) || string(data[:len(dumpMagic)]) != dumpMagic {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrCorruptDump, path)
	}

	r := New(capacity)
	rest := data[len(dumpMagic):]

	for len(rest) > 0 {
		if len(rest) < headerSize {
			return nil, fmt.Errorf("%w: %s: truncated record header", ErrCorruptDump, path)
		}

		length := binary.LittleEndian.Uint32(rest[:headerSize])
		rest = rest[headerSize:]

		if uint64(length) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: %s: truncated record payload", ErrCorruptDump, path)
		}

		payload := rest[:length]
		rest = rest[length:]

		if !r.Push(payload) {
			return nil, fmt.Errorf("%w: %s: dumped records exceed capacity %d", ErrCorruptDump, path, capacity)
		}
	}

	return r, nil
}
