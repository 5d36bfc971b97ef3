// Package overflow implements the disk overflow store (§4.5): a single
// append-only data file shared by all channels, threading per-channel
// singly-linked record lists through file offsets, with an auxiliary index
// file, crash-resistant head truncation, and startup recovery.
package overflow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/calvinalkan/diskqueue/internal/posixfile"
	"github.com/calvinalkan/diskqueue/internal/record"
	"github.com/calvinalkan/diskqueue/internal/tracker"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// DataFileName and IndexFileName are the fixed file names inside the data
// directory (§6).
const (
	DataFileName  = "overflow.dat"
	IndexFileName = "ofchannels.csv"
)

// ErrShuttingDown is returned by getOrCreate once the engine has been
// told to shut down (§7, "Shutdown in progress").
var ErrShuttingDown = errors.New("overflow: engine is shutting down")

// ErrFatal wraps an error that leaves the engine in a state the process
// must not continue running in: the previous record's next_offset pwrite
// succeeded but the following writev failed, so the chain now points into
// garbage (§7, "Recoverable boundary"). Callers must terminate the process
// rather than keep using the engine.
var ErrFatal = errors.New("overflow: engine entered an inconsistent state and must not be reused")

// Engine owns the data file, the index file, the channel-name → metadata
// dictionary, the first-offset tracker, and the global record/byte counts.
type Engine struct {
	fsys fs.FS
	dir  string
	log  *slog.Logger

	data  *posixfile.DataFile
	index *posixfile.File

	channels         map[string]*channelMeta
	tracker          *tracker.Tracker
	totalRecords     uint64
	totalBytes       uint64
	highestChannelID uint32
	shuttingDown     bool
}

// Open opens (or creates) the overflow store in dir and runs startup
// recovery (§4.5.9). Any recovery failure is fatal: the returned error
// wraps [ErrRecovery] and the caller must not proceed.
func Open(fsys fs.FS, dir string, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	data, err := posixfile.OpenDataFile(fsys, dir, DataFileName)
	if err != nil {
		return nil, fmt.Errorf("overflow: open data file: %w", err)
	}

	index, err := posixfile.Open(fsys, dir, IndexFileName)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("overflow: open index file: %w", err)
	}

	e := &Engine{
		fsys:     fsys,
		dir:      dir,
		log:      log,
		data:     data,
		index:    index,
		channels: make(map[string]*channelMeta),
		tracker:  tracker.New(),
	}

	if err := e.recover(); err != nil {
		_ = e.Close()
		return nil, err
	}

	return e, nil
}

// Shutdown marks the engine as shutting down: subsequent getOrCreate calls
// for unknown channels fail with [ErrShuttingDown].
func (e *Engine) Shutdown() {
	e.shuttingDown = true
}

// Handle returns a [Handle] bound to the named channel, creating its
// metadata if this is the first reference to it (§4.5.5).
func (e *Engine) Handle(name string) (*Handle, error) {
	ch, err := e.getOrCreate(name)
	if err != nil {
		return nil, err
	}

	return &Handle{engine: e, name: name, ch: ch}, nil
}

// Lookup returns the channel metadata for name without creating it.
func (e *Engine) Lookup(name string) (*channelMeta, bool) {
	ch, ok := e.channels[name]
	return ch, ok
}

// IterateChannelNames calls fn once for every known channel name.
func (e *Engine) IterateChannelNames(fn func(name string)) {
	for name := range e.channels {
		fn(name)
	}
}

// TotalRecords and TotalBytes report the global counters (§3).
func (e *Engine) TotalRecords() uint64 { return e.totalRecords }
func (e *Engine) TotalBytes() uint64   { return e.totalBytes }

// getOrCreate returns the existing channel or allocates a fresh one
// (§4.5.5).
func (e *Engine) getOrCreate(name string) (*channelMeta, error) {
	if ch, ok := e.channels[name]; ok {
		return ch, nil
	}

	if e.shuttingDown {
		return nil, ErrShuttingDown
	}

	if e.highestChannelID == math.MaxUint32 {
		return nil, ErrChannelIDsExhausted
	}

	e.highestChannelID++
	ch := newChannelMeta(e.highestChannelID)
	e.channels[name] = ch

	return ch, nil
}

// push appends payload to ch's record chain (§4.5.1).
func (e *Engine) push(ch *channelMeta, payload []byte) error {
	pos, err := e.data.Size()
	if err != nil {
		return fmt.Errorf("overflow: push: %w", err)
	}

	if e.totalRecords == 0 {
		if pos != 0 {
			return fmt.Errorf("%w: push: data file non-empty with zero global records", ErrCorrupt)
		}

		if _, err := e.data.Pwrite([]byte(record.Magic), 0); err != nil {
			return fmt.Errorf("overflow: push: write magic: %w", err)
		}

		pos = record.MagicSize
	}

	hadPriorRecord := !ch.isEmpty()

	if hadPriorRecord {
		prev := ch.lastHeader
		prev.NextOffset = pos - int64(ch.lastOffset)

		buf := make([]byte, record.HeaderSize)
		prev.Encode(buf)

		if _, err := e.data.Pwrite(buf, int64(ch.lastOffset)); err != nil {
			return fmt.Errorf("overflow: push: update previous header: %w", err)
		}
	}

	newHeader := record.Header{ChannelID: ch.id, Length: uint64(len(payload))}

	hbuf := make([]byte, record.HeaderSize)
	newHeader.Encode(hbuf)

	if _, err := e.data.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("overflow: push: seek: %w", err)
	}

	if _, err := e.data.Writev([][]byte{hbuf, payload}); err != nil {
		if hadPriorRecord {
			// The prior header rewrite already committed: the chain now
			// points at a record that was never fully written. There is no
			// safe way to continue using this engine.
			return fmt.Errorf("%w: push: writev after prior-header update failed: %v", ErrFatal, err)
		}

		return fmt.Errorf("overflow: push: writev: %w", err)
	}

	if !hadPriorRecord {
		ch.firstOffset = uint64(pos)

		entry, err := e.tracker.Insert(ch, ch.firstOffset)
		if err != nil {
			return fmt.Errorf("overflow: push: track channel: %w", err)
		}

		ch.entry = entry
	}

	ch.lastOffset = uint64(pos)
	ch.lastHeader = newHeader
	ch.bytes += uint64(len(payload))
	ch.records++

	e.totalRecords++
	e.totalBytes += uint64(len(payload))

	return nil
}

// pop reads the oldest record off ch into a buffer obtained from
// getBuffer(length) (§4.5.2). Returns (false, nil, nil) if ch is empty.
func (e *Engine) pop(ch *channelMeta, getBuffer func(length int) []byte) (bool, []byte, error) {
	if ch.isEmpty() {
		return false, nil, nil
	}

	hbuf := make([]byte, record.HeaderSize)
	if _, err := e.data.Pread(hbuf, int64(ch.firstOffset)); err != nil {
		return false, nil, fmt.Errorf("overflow: pop: read header: %w", err)
	}

	hdr, err := record.Decode(hbuf)
	if err != nil {
		return false, nil, fmt.Errorf("%w: pop: %s: %v", ErrCorrupt, e.data.Name(), err)
	}

	if hdr.ChannelID != ch.id {
		return false, nil, fmt.Errorf("%w: pop: %s: channel id mismatch (header %d, channel %d)", ErrCorrupt, e.data.Name(), hdr.ChannelID, ch.id)
	}

	minNext := int64(record.HeaderSize) + int64(hdr.Length)
	if hdr.NextOffset != 0 && hdr.NextOffset < minNext {
		return false, nil, fmt.Errorf("%w: pop: %s: impossible next_offset %d", ErrCorrupt, e.data.Name(), hdr.NextOffset)
	}

	buf := getBuffer(int(hdr.Length))

	if hdr.Length > 0 {
		if _, err := e.data.Pread(buf, int64(ch.firstOffset)+int64(record.HeaderSize)); err != nil {
			return false, nil, fmt.Errorf("overflow: pop: read payload: %w", err)
		}
	}

	ch.records--
	ch.bytes -= hdr.Length
	e.totalRecords--
	e.totalBytes -= hdr.Length

	switch {
	case ch.records == 0:
		if hdr.NextOffset != 0 || ch.bytes != 0 {
			return false, nil, fmt.Errorf("%w: pop: channel emptied with dangling state", ErrCorrupt)
		}

		e.tracker.Remove(ch.entry)
		ch.reset()

	case ch.records == 1:
		newFirst := ch.firstOffset + uint64(hdr.NextOffset)
		if newFirst != ch.lastOffset {
			return false, nil, fmt.Errorf("%w: pop: first+next != last at records==1", ErrCorrupt)
		}

		ch.firstOffset = newFirst
		if err := e.tracker.Rekey(ch.entry, ch.firstOffset); err != nil {
			return false, nil, fmt.Errorf("overflow: pop: %w", err)
		}

	default:
		if hdr.NextOffset == 0 {
			return false, nil, fmt.Errorf("%w: pop: next_offset zero with records>1", ErrCorrupt)
		}

		ch.firstOffset += uint64(hdr.NextOffset)
		if err := e.tracker.Rekey(ch.entry, ch.firstOffset); err != nil {
			return false, nil, fmt.Errorf("overflow: pop: %w", err)
		}
	}

	if e.totalRecords == 0 {
		if err := e.truncateBoth(); err != nil {
			return false, nil, err
		}
	}

	return true, buf, nil
}

// clear discards ch's records without physically reclaiming their space in
// the data file (§4.5.3).
func (e *Engine) clear(ch *channelMeta) error {
	e.totalRecords -= ch.records
	e.totalBytes -= ch.bytes

	if ch.entry != nil {
		e.tracker.Remove(ch.entry)
	}

	ch.reset()

	if e.totalRecords == 0 {
		return e.truncateBoth()
	}

	return nil
}

// rename moves ch's dictionary entry from oldName to newName, preserving
// its identity (§4.5.4).
func (e *Engine) rename(oldName, newName string) (*channelMeta, error) {
	ch, ok := e.channels[oldName]
	if !ok {
		return nil, fmt.Errorf("overflow: rename: %w: %s", ErrUnknownChannel, oldName)
	}

	delete(e.channels, oldName)
	e.channels[newName] = ch

	return ch, nil
}

// remove clears and forgets the named channel. When the dictionary empties,
// the channel id counter resets (§4.5.4).
func (e *Engine) remove(name string) error {
	ch, ok := e.channels[name]
	if !ok {
		return fmt.Errorf("overflow: remove: %w: %s", ErrUnknownChannel, name)
	}

	if err := e.clear(ch); err != nil {
		return err
	}

	delete(e.channels, name)

	if len(e.channels) == 0 {
		e.highestChannelID = 0
	}

	return nil
}

func (e *Engine) truncateBoth() error {
	if err := e.data.Reset(); err != nil {
		return fmt.Errorf("overflow: truncate data file: %w", err)
	}

	if err := e.index.Reset(); err != nil {
		return fmt.Errorf("overflow: truncate index file: %w", err)
	}

	return nil
}

// minimizeDataFileSize runs the head-truncation pass (§4.5.6).
func (e *Engine) minimizeDataFileSize() error {
	if !e.data.CollapseRangeSupported() {
		return nil
	}

	minEntry, ok := e.tracker.Min()
	if !ok {
		return nil
	}

	minOff := minEntry.FirstOffset
	if minOff == record.MagicSize {
		return nil
	}

	n := int64(minOff) - int64(record.MagicSize+record.HeaderSize)
	if n <= 0 {
		return nil
	}

	rounded := (n / posixfile.CollapseChunk) * posixfile.CollapseChunk
	if rounded == 0 {
		return nil
	}

	if err := e.data.CollapseRange(0, rounded); err != nil {
		return fmt.Errorf("overflow: minimize: collapse range: %w", err)
	}

	if _, err := e.data.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("overflow: minimize: seek to end: %w", err)
	}

	for _, ch := range e.channels {
		if ch.isEmpty() {
			continue
		}
		ch.firstOffset -= uint64(rounded)
		ch.lastOffset -= uint64(rounded)
	}
	e.tracker.DecreaseAll(uint64(rounded))

	newFirstOffset := minOff - uint64(rounded)

	if _, err := e.data.Pwrite([]byte(record.Magic), 0); err != nil {
		return fmt.Errorf("overflow: minimize: rewrite magic: %w", err)
	}

	dummyLen := newFirstOffset - record.MagicSize - record.HeaderSize
	dummy := record.Header{ChannelID: record.DummyChannelID, Length: dummyLen}

	dbuf := make([]byte, record.HeaderSize)
	dummy.Encode(dbuf)

	if _, err := e.data.Pwrite(dbuf, int64(record.MagicSize)); err != nil {
		return fmt.Errorf("overflow: minimize: write dummy header: %w", err)
	}

	if dummyLen > 0 {
		if err := e.data.ZeroRange(int64(record.MagicSize+record.HeaderSize), int64(dummyLen)); err != nil {
			return fmt.Errorf("overflow: minimize: zero dummy payload: %w", err)
		}
	}

	return nil
}

// Flush runs head-minimization, rewrites the index, and fdatasyncs the data
// file: the engine's only durability barrier (§4.5.7).
func (e *Engine) Flush() error {
	if e.totalRecords > 0 {
		if err := e.minimizeDataFileSize(); err != nil {
			return err
		}
	}

	if err := e.WriteIndex(); err != nil {
		return err
	}

	if err := e.data.Flush(); err != nil {
		return fmt.Errorf("overflow: flush: %w", err)
	}

	return nil
}

// WriteIndex rewrites the index file from the current in-memory channel
// table.
func (e *Engine) WriteIndex() error {
	return writeIndex(e.index, func(yield func(name string, line IndexLine) bool) {
		for name, ch := range e.channels {
			if ch.isEmpty() {
				continue
			}
			if !yield(name, IndexLine{
				Records:     ch.records,
				Bytes:       ch.bytes,
				FirstOffset: ch.firstOffset,
				LastOffset:  ch.lastOffset,
			}) {
				return
			}
		}
	})
}

// Close persists the index (if any records remain) or deletes both files
// (if empty), then closes the handles. Per-file errors are logged and
// swallowed so shutdown always completes (§4.5.8).
func (e *Engine) Close() error {
	if e.totalRecords > 0 {
		if err := e.WriteIndex(); err != nil {
			e.log.Error("overflow: close: write index failed", "err", err)
		}

		if err := e.data.Close(); err != nil {
			e.log.Error("overflow: close: close data file failed", "err", err)
		}

		if err := e.index.Close(); err != nil {
			e.log.Error("overflow: close: close index file failed", "err", err)
		}

		return nil
	}

	if err := e.data.Remove(); err != nil {
		e.log.Error("overflow: close: remove data file failed", "err", err)
	}

	if err := e.index.Remove(); err != nil {
		e.log.Error("overflow: close: remove index file failed", "err", err)
	}

	return nil
}
