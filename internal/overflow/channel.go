package overflow

import (
	"github.com/calvinalkan/diskqueue/internal/record"
	"github.com/calvinalkan/diskqueue/internal/tracker"
)

// channelMeta is the per-storage bookkeeping the overflow engine keeps for
// one channel (§3, "Channel metadata"). Its id is constant for the
// lifetime of the storage; everything else resets to zero when the channel
// empties.
type channelMeta struct {
	id uint32

	firstOffset uint64 // offset of the next record to pop, 0 if empty
	lastOffset  uint64 // offset of the most recent record, 0 if empty
	lastHeader  record.Header

	records uint64 // count not yet popped
	bytes   uint64 // sum of payload lengths not yet popped

	// entry is a weak handle into the engine's ordered first-offset index,
	// non-nil iff records > 0.
	entry *tracker.Entry
}

// newChannelMeta returns a fresh, empty channel metadata entry with the
// given id.
func newChannelMeta(id uint32) *channelMeta {
	return &channelMeta{id: id}
}

// isEmpty reports whether the channel currently holds no records.
func (c *channelMeta) isEmpty() bool {
	return c.records == 0
}

// reset clears all fields except id, returning the channel to the state it
// had before its first push.
func (c *channelMeta) reset() {
	c.firstOffset = 0
	c.lastOffset = 0
	c.lastHeader = record.Header{}
	c.records = 0
	c.bytes = 0
	c.entry = nil
}

// totalBytes is bytes plus the per-record header overhead, matching the
// overflow channel handle's total_bytes() (§4.6).
func (c *channelMeta) totalBytes() uint64 {
	return c.bytes + c.records*record.HeaderSize
}
