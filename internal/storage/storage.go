// Package storage implements the per-storage engine (§4.8): one memory
// ring plus one disk overflow handle, fronted by a consumer listener
// registry. "Storage" here is the spec's unit of queueing — either an
// anonymous channel or a single subscriber's view of a channel.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/diskqueue/internal/channame"
	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/internal/ring"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// Event is a consumer notification kind (§4.8).
type Event int

const (
	// DataReady is delivered to exactly one listener, chosen by strict
	// round robin across the currently registered set.
	DataReady Event = iota
	// Flush is broadcast to every registered listener.
	Flush
	// Finish is broadcast to every registered listener when the storage
	// is cleared, closed, or removed.
	Finish
)

func (e Event) String() string {
	switch e {
	case DataReady:
		return "DataReady"
	case Flush:
		return "Flush"
	case Finish:
		return "Finish"
	default:
		return "Event(?)"
	}
}

// Listener receives storage notifications. Implementations must not call
// back into the Storage synchronously from Notify (§5, no reentrancy).
type Listener interface {
	Notify(event Event)
}

// DumpSuffix is the extension used for memory-ring dump files (§6).
const DumpSuffix = ".rq"

// Storage is a single memory-ring + overflow-handle pair identified by a
// storage id (`subscriber@channel`, or a bare channel name when
// anonymous).
type Storage struct {
	fsys    fs.FS
	id      string
	dataDir string
	mem     *ring.Ring
	disk    *overflow.Handle

	listeners []Listener
	nextRR    int
}

// New creates a storage bound to id, with mem as its memory tier and disk
// as its overflow handle (both already positioned at their on-disk state
// if this is a restart). fsys is used for the storage's own dump-file I/O
// (the overflow handle has its own filesystem access via the engine).
func New(fsys fs.FS, id, dataDir string, mem *ring.Ring, disk *overflow.Handle) *Storage {
	return &Storage{fsys: fsys, id: id, dataDir: dataDir, mem: mem, disk: disk}
}

// ID returns the storage id (`subscriber@channel`, or the bare channel
// name for an anonymous storage).
func (s *Storage) ID() string { return s.id }

// DisplayID returns the human-facing channel display id (§4.8).
func (s *Storage) DisplayID() string { return channame.DisplayID(s.id) }

// Capacity is the memory ring's fixed byte capacity.
func (s *Storage) Capacity() uint64 { return s.mem.TotalSpace() }

// ReplaceMemory swaps in a freshly loaded memory ring, used when startup
// recovery attaches a dump file's contents to a newly built storage
// (§4.10 step 1).
func (s *Storage) ReplaceMemory(mem *ring.Ring) { s.mem = mem }

// Register adds l to the notification set.
func (s *Storage) Register(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Unregister removes l from the notification set, if present.
func (s *Storage) Unregister(l Listener) {
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			if s.nextRR > i {
				s.nextRR--
			}
			return
		}
	}
}

// Push tries the memory ring first, falling back to the overflow engine
// when the ring is full, then notifies one listener of DataReady (§4.8).
func (s *Storage) Push(payload []byte) error {
	if !s.mem.Push(payload) {
		if err := s.disk.Push(payload); err != nil {
			return fmt.Errorf("storage %s: push: %w", s.id, err)
		}
	}

	s.notifyOne(DataReady)

	return nil
}

// Pop tries the memory ring first, then the overflow engine. ok is false
// if both tiers are empty.
func (s *Storage) Pop(getBuffer func(length int) []byte) (payload []byte, ok bool, err error) {
	if p, found := s.mem.Pop(); found {
		buf := getBuffer(len(p))
		copy(buf, p)
		return buf, true, nil
	}

	found, buf, err := s.disk.Pop(getBuffer)
	if err != nil {
		return nil, false, fmt.Errorf("storage %s: pop: %w", s.id, err)
	}

	return buf, found, nil
}

// NumRecords is the record count across both tiers.
func (s *Storage) NumRecords() uint64 {
	return uint64(s.mem.Length()) + s.disk.NumRecords()
}

// NumBytes is the payload byte count across both tiers.
func (s *Storage) NumBytes() uint64 {
	return s.mem.PayloadBytes() + s.disk.NumBytes()
}

// Clear discards all records in both tiers without reclaiming on-disk
// space, then broadcasts Finish.
func (s *Storage) Clear() error {
	s.mem.Clear()
	if err := s.disk.Clear(); err != nil {
		return fmt.Errorf("storage %s: clear: %w", s.id, err)
	}

	s.notifyAll(Finish)

	return nil
}

// Flush broadcasts Flush to all listeners. It writes nothing to either
// tier: the overflow index is persisted by the overflow engine's own
// Flush, and the memory tier has no durable representation until Close.
func (s *Storage) Flush() error {
	s.notifyAll(Flush)
	return nil
}

// dumpPath returns the path of this storage's memory-ring dump file.
func (s *Storage) dumpPath() string {
	return filepath.Join(s.dataDir, s.id+DumpSuffix)
}

// Close writes the memory ring to `<storage_id>.rq` (removing any stale
// dump file if the ring is now empty) and broadcasts Finish (§4.8).
func (s *Storage) Close() error {
	path := s.dumpPath()

	if s.mem.Length() == 0 {
		if err := s.fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage %s: close: remove dump: %w", s.id, err)
		}
	} else if err := s.mem.Save(s.fsys, path); err != nil {
		return fmt.Errorf("storage %s: close: %w", s.id, err)
	}

	s.notifyAll(Finish)

	return nil
}

// Reset clears the memory tier and the listener set, returning the storage to
// a reusable, empty state for the pool (§4.9). It does not touch the
// overflow engine's state for this storage; use [Storage.Remove] when the
// channel itself is being removed rather than merely drained for reuse.
func (s *Storage) Reset() {
	s.mem.Clear()
	s.listeners = nil
	s.nextRR = 0
}

// Remove permanently discards the storage's overflow-backed state: its
// dictionary entry, tracked records, and contribution to the engine's
// global counters (§4.5.4), and removes any on-disk memory-ring dump file
// left over from a prior Close. Unlike Close, it never writes a dump file
// for data about to be discarded. Used when a channel is removed entirely
// (§3); afterward the storage is reset to an empty, reusable state.
func (s *Storage) Remove() error {
	if err := s.disk.Remove(); err != nil {
		return fmt.Errorf("storage %s: remove: %w", s.id, err)
	}

	if err := s.fsys.Remove(s.dumpPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage %s: remove: dump file: %w", s.id, err)
	}

	s.notifyAll(Finish)
	s.Reset()

	return nil
}

// Rebind repoints an already-reset storage at a new id and overflow
// handle, for reuse from the pool.
func (s *Storage) Rebind(id string, disk *overflow.Handle) {
	s.id = id
	s.disk = disk
}

// Rename moves the storage's overflow channel to newID in place (no data
// movement) and adopts newID as the storage's own id. Used to promote an
// anonymous storage into a named subscriber on first subscribe (§4.9).
func (s *Storage) Rename(newID string) error {
	if err := s.disk.Rename(newID); err != nil {
		return fmt.Errorf("storage %s: rename to %s: %w", s.id, newID, err)
	}
	s.id = newID
	return nil
}

func (s *Storage) notifyOne(event Event) {
	if len(s.listeners) == 0 {
		return
	}

	i := s.nextRR % len(s.listeners)
	s.nextRR = (s.nextRR + 1) % len(s.listeners)

	s.listeners[i].Notify(event)
}

func (s *Storage) notifyAll(event Event) {
	for _, l := range s.listeners {
		l.Notify(event)
	}
}
