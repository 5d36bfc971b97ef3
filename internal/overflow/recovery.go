package overflow

import (
	"fmt"

	"github.com/calvinalkan/diskqueue/internal/record"
)

// recover implements §4.5.9. Any failure aborts opening the engine.
func (e *Engine) recover() error {
	size, err := e.data.Size()
	if err != nil {
		return fmt.Errorf("%w: stat data file: %v", ErrRecovery, err)
	}

	if size == 0 {
		return nil
	}

	magicBuf := make([]byte, record.MagicSize)
	if _, err := e.data.Pread(magicBuf, 0); err != nil {
		return fmt.Errorf("%w: read magic: %v", ErrRecovery, err)
	}

	if string(magicBuf) != record.Magic {
		return fmt.Errorf("%w: bad magic at start of data file", ErrRecovery)
	}

	seenIDs := make(map[uint32]string)
	seenOffsets := make(map[uint64]string)

	err = readIndex(e.index, func(lineNo int, line IndexLine) error {
		return e.recoverLine(lineNo, line, uint64(size), seenIDs, seenOffsets)
	})
	if err != nil {
		return err
	}

	minFileSize := uint64(record.MagicSize) + e.totalBytes + e.totalRecords*record.HeaderSize
	if uint64(size) < minFileSize {
		return fmt.Errorf("%w: file size %d smaller than reported totals (want >= %d)", ErrRecovery, size, minFileSize)
	}

	return nil
}

func (e *Engine) recoverLine(lineNo int, line IndexLine, fileSize uint64, seenIDs map[uint32]string, seenOffsets map[uint64]string) error {
	if _, dup := e.channels[line.Name]; dup {
		return fmt.Errorf("%w: line %d: duplicate channel name %q", ErrRecovery, lineNo, line.Name)
	}

	if line.LastOffset >= fileSize {
		return fmt.Errorf("%w: line %d: last_offset %d >= file size %d", ErrRecovery, lineNo, line.LastOffset, fileSize)
	}

	fHdr, err := e.readAndValidateHeader(line.FirstOffset)
	if err != nil {
		return fmt.Errorf("%w: line %d: first header: %v", ErrRecovery, lineNo, err)
	}

	lHdr, err := e.readAndValidateHeader(line.LastOffset)
	if err != nil {
		return fmt.Errorf("%w: line %d: last header: %v", ErrRecovery, lineNo, err)
	}

	if lHdr.NextOffset != 0 {
		return fmt.Errorf("%w: line %d: last record has non-zero next_offset", ErrRecovery, lineNo)
	}

	if lHdr.ChannelID != fHdr.ChannelID {
		return fmt.Errorf("%w: line %d: first/last header channel id mismatch", ErrRecovery, lineNo)
	}

	if prev, dup := seenIDs[fHdr.ChannelID]; dup {
		return fmt.Errorf("%w: line %d: duplicate channel id %d (also used by %q)", ErrRecovery, lineNo, fHdr.ChannelID, prev)
	}
	seenIDs[fHdr.ChannelID] = line.Name

	if err := markOffsetUnique(seenOffsets, line.FirstOffset, line.Name); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrRecovery, lineNo, err)
	}

	if line.LastOffset != line.FirstOffset {
		if err := markOffsetUnique(seenOffsets, line.LastOffset, line.Name); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrRecovery, lineNo, err)
		}
	}

	ch := newChannelMeta(fHdr.ChannelID)
	ch.firstOffset = line.FirstOffset
	ch.lastOffset = line.LastOffset
	ch.lastHeader = lHdr
	ch.records = line.Records
	ch.bytes = line.Bytes

	entry, err := e.tracker.Insert(ch, ch.firstOffset)
	if err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrRecovery, lineNo, err)
	}
	ch.entry = entry

	e.channels[line.Name] = ch
	e.totalRecords += ch.records
	e.totalBytes += ch.bytes

	if ch.id > e.highestChannelID {
		e.highestChannelID = ch.id
	}

	return nil
}

func (e *Engine) readAndValidateHeader(offset uint64) (record.Header, error) {
	buf := make([]byte, record.HeaderSize)
	if _, err := e.data.Pread(buf, int64(offset)); err != nil {
		return record.Header{}, err
	}

	hdr, err := record.Decode(buf)
	if err != nil {
		return record.Header{}, err
	}

	return hdr, nil
}

func markOffsetUnique(seen map[uint64]string, offset uint64, name string) error {
	if prev, dup := seen[offset]; dup {
		return fmt.Errorf("duplicate offset %d (also used by %q, now %q)", offset, prev, name)
	}
	seen[offset] = name
	return nil
}
