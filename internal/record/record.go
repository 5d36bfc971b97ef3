// Package record defines the on-disk record header of the disk overflow
// data file.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed, compile-time-constant size of an encoded [Header]
// in bytes: channel_id (4) + next_offset (8) + parity (1) + length (8).
const HeaderSize = 4 + 8 + 1 + 8

// Magic is the 8-byte signature at the start of a non-empty data file.
const Magic = "QDSKOF01"

// MagicSize is len(Magic), kept as a constant for offset arithmetic.
const MagicSize = 8

// DummyChannelID is the sentinel channel id used for filler records written
// into the gap left by head truncation. No live pop ever accepts it.
const DummyChannelID = 0

// ErrCorrupt indicates a record header failed its parity or consistency
// check on read.
//
// Recovery: during steady-state operation this fails the current request;
// during startup recovery it aborts opening the engine.
var ErrCorrupt = errors.New("record: corrupt header")

// Header is the fixed-size per-record header. Field order is fixed and
// matches the on-disk layout: channel_id, next_offset, parity, length.
// length is last so that [Header][payload] mirrors [length][bytes] for
// trivial deserialization (see the memory ring's framing).
type Header struct {
	// ChannelID identifies the channel this record belongs to. Must be > 0
	// for live records; 0 marks a dummy filler record.
	ChannelID uint32

	// NextOffset is the byte distance from the start of this header to the
	// start of the next record in the same channel, or 0 if this is the
	// last record in its channel.
	NextOffset int64

	// Parity is the horizontal XOR of all other header bytes, computed with
	// this field set to 0. Verified on every read.
	Parity uint8

	// Length is the number of payload bytes following this header.
	Length uint64
}

// Encode writes h into buf, which must be at least [HeaderSize] bytes.
// Parity is computed and written as part of encoding.
func (h Header) Encode(buf []byte) {
	if len(buf) < HeaderSize {
		panic("record: Encode buffer too small")
	}

	binary.LittleEndian.PutUint32(buf[0:4], h.ChannelID)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(h.NextOffset))
	buf[12] = 0
	binary.LittleEndian.PutUint64(buf[13:21], h.Length)

	buf[12] = xorAll(buf[:HeaderSize])
}

// Decode parses a [Header] from buf, which must be at least [HeaderSize]
// bytes, and verifies its parity. Returns [ErrCorrupt] if the parity check
// fails.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("record: decode: buffer shorter than header size %d", HeaderSize)
	}

	if xorAll(buf[:HeaderSize]) != 0 {
		return Header{}, fmt.Errorf("%w: parity check failed", ErrCorrupt)
	}

	h := Header{
		ChannelID:  binary.LittleEndian.Uint32(buf[0:4]),
		NextOffset: int64(binary.LittleEndian.Uint64(buf[4:12])),
		Parity:     buf[12],
		Length:     binary.LittleEndian.Uint64(buf[13:21]),
	}

	return h, nil
}

// xorAll returns the XOR of every byte in buf.
func xorAll(buf []byte) byte {
	var x byte
	for _, b := range buf {
		x ^= b
	}
	return x
}
