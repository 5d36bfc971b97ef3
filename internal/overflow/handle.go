package overflow

// Handle is a thin, movable handle bound to a channel name and an engine
// (§4.6). Renaming the underlying channel does not change the handle's
// metadata pointer (the engine preserves channel identity across renames),
// but the handle still refreshes its cached name so callers always see the
// current one.
type Handle struct {
	engine *Engine
	name   string
	ch     *channelMeta
}

// Name returns the handle's current storage name.
func (h *Handle) Name() string { return h.name }

// Push appends payload to the channel (§4.5.1).
func (h *Handle) Push(payload []byte) error {
	return h.engine.push(h.ch, payload)
}

// Pop removes and returns the oldest record, or (false, nil, nil) if the
// channel is empty. getBuffer is called with the exact payload length to
// obtain the destination slice (§4.5.2).
func (h *Handle) Pop(getBuffer func(length int) []byte) (bool, []byte, error) {
	return h.engine.pop(h.ch, getBuffer)
}

// Clear discards all records without reclaiming their on-disk space
// (§4.5.3).
func (h *Handle) Clear() error {
	return h.engine.clear(h.ch)
}

// Rename moves the channel to a new name in the engine's dictionary
// (§4.5.4).
func (h *Handle) Rename(newName string) error {
	ch, err := h.engine.rename(h.name, newName)
	if err != nil {
		return err
	}

	h.name = newName
	h.ch = ch

	return nil
}

// Remove clears and forgets the channel, detaching and invalidating the
// handle.
func (h *Handle) Remove() error {
	err := h.engine.remove(h.name)
	h.ch = nil
	return err
}

// Readd reattaches the handle to a (possibly different) engine under name,
// creating the channel if necessary.
func (h *Handle) Readd(engine *Engine, name string) error {
	ch, err := engine.getOrCreate(name)
	if err != nil {
		return err
	}

	h.engine = engine
	h.name = name
	h.ch = ch

	return nil
}

// NumRecords is the count of records not yet popped.
func (h *Handle) NumRecords() uint64 { return h.ch.records }

// NumBytes is the sum of payload lengths not yet popped.
func (h *Handle) NumBytes() uint64 { return h.ch.bytes }

// TotalBytes is NumBytes plus per-record header overhead.
func (h *Handle) TotalBytes() uint64 { return h.ch.totalBytes() }
