// Package tracker maintains the ordered index of non-empty overflow
// channels by ascending first-record offset (§4.4). It wraps
// [github.com/google/btree] to get insert/remove/min/successor for free and
// to walk entries in ascending order for the bulk "decrease every key by
// the same constant" operation used during head truncation.
package tracker

import (
	"errors"

	"github.com/google/btree"
)

// degree is the btree branching factor; the exact value has no semantic
// meaning, it only tunes node fan-out.
const degree = 32

// ErrDuplicateKey is returned by Insert or Rekey when another entry already
// holds the given first offset. First offsets are unique across non-empty
// channels by invariant (§3); a collision indicates caller-side corruption.
var ErrDuplicateKey = errors.New("tracker: duplicate first_offset")

// Entry is a tracked channel's position in the index. Channel metadata
// holds a pointer to its Entry (non-nil iff it has records); the Entry
// holds an opaque back-reference to that metadata so the two sides never
// own each other (§9, cyclic references).
type Entry struct {
	FirstOffset uint64
	Ref         any
}

func less(a, b *Entry) bool {
	return a.FirstOffset < b.FirstOffset
}

// Tracker is the ordered first-offset index.
type Tracker struct {
	tree *btree.BTreeG[*Entry]
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{tree: btree.NewG(degree, less)}
}

// Len reports the number of tracked entries.
func (t *Tracker) Len() int {
	return t.tree.Len()
}

// Insert adds a new tracked entry for ref at firstOffset. Returns
// [ErrDuplicateKey] if an entry already exists at that offset.
func (t *Tracker) Insert(ref any, firstOffset uint64) (*Entry, error) {
	probe := &Entry{FirstOffset: firstOffset}
	if _, found := t.tree.Get(probe); found {
		return nil, ErrDuplicateKey
	}

	e := &Entry{FirstOffset: firstOffset, Ref: ref}
	t.tree.ReplaceOrInsert(e)

	return e, nil
}

// Remove deletes e from the tracker. It is a no-op if e is nil or already
// removed.
func (t *Tracker) Remove(e *Entry) {
	if e == nil {
		return
	}
	t.tree.Delete(e)
}

// Rekey changes e's first offset, removing and reinserting it since the key
// changed. Returns [ErrDuplicateKey] (leaving e removed) if another entry
// already occupies newFirstOffset.
func (t *Tracker) Rekey(e *Entry, newFirstOffset uint64) error {
	t.tree.Delete(e)

	probe := &Entry{FirstOffset: newFirstOffset}
	if _, found := t.tree.Get(probe); found {
		return ErrDuplicateKey
	}

	e.FirstOffset = newFirstOffset
	t.tree.ReplaceOrInsert(e)

	return nil
}

// Min returns the entry with the smallest first offset, or (nil, false) if
// the tracker is empty.
func (t *Tracker) Min() (*Entry, bool) {
	e, ok := t.tree.Min()
	return e, ok
}

// Successor returns the next entry in ascending order after e, or
// (nil, false) if e is the maximum entry.
func (t *Tracker) Successor(e *Entry) (*Entry, bool) {
	var next *Entry

	t.tree.AscendGreaterOrEqual(e, func(item *Entry) bool {
		if item == e {
			return true // keep scanning, skip self
		}
		next = item
		return false
	})

	return next, next != nil
}

// Ascend calls fn for every entry in ascending first-offset order, stopping
// early if fn returns false.
func (t *Tracker) Ascend(fn func(*Entry) bool) {
	t.tree.Ascend(fn)
}

// DecreaseAll subtracts delta from every tracked entry's first offset,
// preserving order. Safe because lowering every key by the same constant
// cannot violate ordering or create collisions among keys that were already
// unique (§4.4). O(n) over tracked channels, as specified.
func (t *Tracker) DecreaseAll(delta uint64) {
	if delta == 0 {
		return
	}

	entries := make([]*Entry, 0, t.tree.Len())
	t.tree.Ascend(func(e *Entry) bool {
		entries = append(entries, e)
		return true
	})

	t.tree.Clear(false)

	for _, e := range entries {
		e.FirstOffset -= delta
		t.tree.ReplaceOrInsert(e)
	}
}
