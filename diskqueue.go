// Package diskqueue implements a single-node persistent message queue.
//
// Clients push opaque byte-string records into named channels and either
// pop them (single consumer, destructive) or subscribe and consume them
// (multiple independent subscribers, each receiving its own copy). Each
// channel is backed by a bounded in-memory ring queue that spills into a
// disk-backed overflow store when full; the combined store survives
// process restarts.
//
// # Basic usage
//
//	e, err := diskqueue.Open("/var/lib/myqueue")
//	if err != nil {
//	    // handle I/O or recovery failure
//	}
//	defer e.Close()
//
//	ch, err := e.Channel("events")
//	if err := ch.Push([]byte("hello")); err != nil {
//	    // ...
//	}
//
//	buf, ok, err := ch.Pop(func(n int) []byte { return make([]byte, n) })
//
// # Subscribers
//
//	sub, err := ch.Subscribe("worker-1")
//	sub.Register(myListener) // DataReady/Flush/Finish notifications
//	payload, ok, err := sub.Pop(func(n int) []byte { return make([]byte, n) })
//
// # Error handling
//
// Most operations return wrapped sentinel errors; use [errors.Is] to
// classify them. [ErrCorrupt] and [ErrRecovery] are fatal at startup: the
// caller's only recourse is to restore from backup or discard the data
// directory. [ErrShuttingDown] indicates the engine has already begun
// closing and is refusing new channels.
package diskqueue

import (
	"fmt"
	"log/slog"

	"github.com/calvinalkan/diskqueue/internal/multichannel"
	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/internal/registry"
	"github.com/calvinalkan/diskqueue/internal/storage"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// Re-exported sentinel errors. Callers should use [errors.Is] rather than
// depending on error text.
var (
	// ErrCorrupt indicates a record failed its parity or consistency
	// check on read.
	//
	// Recovery: during steady state, only the failing request fails and
	// the engine remains usable; during startup recovery this is fatal.
	ErrCorrupt = overflow.ErrCorrupt

	// ErrRecovery indicates the data directory failed a startup
	// consistency check (size smaller than reported totals, duplicate
	// channel id/offsets, malformed index).
	//
	// Recovery: fatal. Restore from backup or discard the data directory.
	ErrRecovery = overflow.ErrRecovery

	// ErrShuttingDown is returned by Channel after Close/Shutdown has
	// begun.
	ErrShuttingDown = registry.ErrShuttingDown

	// ErrSubscriberMismatch indicates recovered on-disk state disagrees
	// with itself about whether a channel has subscribers.
	//
	// Recovery: fatal at startup.
	ErrSubscriberMismatch = registry.ErrSubscriberMismatch
)

// Event is a consumer notification kind: [DataReady], [Flush], or
// [Finish].
type Event = storage.Event

const (
	DataReady = storage.DataReady
	Flush     = storage.Flush
	Finish    = storage.Finish
)

// Listener receives storage notifications registered via
// [Storage.Register]. Implementations must not call back into the engine
// synchronously from Notify.
type Listener = storage.Listener

// Storage is a single consumer's view of a channel: either the anonymous
// (no-subscriber) storage, or one named subscriber's storage.
type Storage = storage.Storage

// Limits configures per-channel-name-prefix memory-ring capacities.
type Limits = registry.Limits

// NewLimits builds a [Limits]. def is used for channel names matching no
// configured prefix; prefixes must not be prefixes of one another.
func NewLimits(def uint64, prefixes map[string]uint64) (*Limits, error) {
	return registry.NewLimits(def, prefixes)
}

// DefaultRingCapacity is used when the caller does not supply [Limits].
const DefaultRingCapacity = 4 << 20 // 4 MiB

// Engine is an open data directory: the disk overflow store plus every
// live channel and storage built on top of it.
type Engine struct {
	reg *registry.Registry
}

// Open opens the data directory at dir, which must already exist, creating
// the overflow files in it if necessary, replaying its disk overflow store
// and reconciling memory-ring dump files (§4.10). The logger defaults to
// [slog.Default] unless [WithLogger] supplies one.
func Open(dir string, opts ...Option) (*Engine, error) {
	cfg := options{limits: mustDefaultLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg, err := registry.Open(fs.NewReal(), dir, cfg.limits, cfg.log)
	if err != nil {
		return nil, fmt.Errorf("diskqueue: open %s: %w", dir, err)
	}

	return &Engine{reg: reg}, nil
}

func mustDefaultLimits() *Limits {
	l, err := registry.NewLimits(DefaultRingCapacity, nil)
	if err != nil {
		panic(err) // unreachable: nil prefix map can never overlap
	}
	return l
}

// Option configures [Open].
type Option func(*options)

type options struct {
	limits *Limits
	log    *slog.Logger
}

// WithLimits overrides the default per-channel-prefix ring capacities.
func WithLimits(l *Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithLogger overrides the logger used for best-effort-logged, swallowed
// close errors.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// Channel returns a handle to the named channel, creating it (in the
// reset state) if it does not already exist.
func (e *Engine) Channel(name string) (*ChannelHandle, error) {
	c, err := e.reg.GetCreate(name)
	if err != nil {
		return nil, err
	}
	return &ChannelHandle{c: c}, nil
}

// IterateChannelNames calls fn once for every live channel name.
func (e *Engine) IterateChannelNames(fn func(name string)) {
	e.reg.Iterate(func(c *multichannel.Channel) { fn(c.Name()) })
}

// Flush persists the overflow index, runs head-truncation where
// supported, and broadcasts Flush to every registered listener.
func (e *Engine) Flush() error {
	return e.reg.Flush()
}

// WriteIndex rewrites the overflow index file without running
// head-truncation or broadcasting to listeners.
func (e *Engine) WriteIndex() error {
	return e.reg.WriteIndex()
}

// Shutdown stops the engine from accepting new channels; existing
// channels remain usable until Close.
func (e *Engine) Shutdown() {
	e.reg.Shutdown()
}

// Close shuts down and closes every channel (dumping non-empty memory
// rings) and the overflow engine (writing its index). It does not run
// [Engine.Flush]. Per-file errors are logged and swallowed so later close steps
// still run (§7); the first error, if any, is still returned.
func (e *Engine) Close() error {
	e.reg.Shutdown()
	return e.reg.Close()
}

// ChannelHandle is a lightweight handle to a named channel.
type ChannelHandle struct {
	c *multichannel.Channel
}

// Name returns the channel name.
func (h *ChannelHandle) Name() string { return h.c.Name() }

// Push writes payload to every storage the channel currently has: the
// anonymous storage if none has subscribed yet (creating it on first
// push), or a copy to each subscriber storage if it has (§2, §3).
func (h *ChannelHandle) Push(payload []byte) error {
	if h.c.State() == multichannel.Subscribed {
		var err error
		h.c.Iterate(func(st *storage.Storage) {
			if e := st.Push(payload); e != nil && err == nil {
				err = e
			}
		})
		return err
	}

	st, err := h.c.EnsureAnonymous()
	if err != nil {
		return err
	}

	return st.Push(payload)
}

// Pop pops from the channel's anonymous (no-subscriber) storage. It
// returns (nil, false, nil) if the channel has no records buffered there,
// including the case where the channel is subscribed (pop is only
// meaningful on the default, non-subscribing consumer; use Subscribe to
// consume a named subscriber's copy).
func (h *ChannelHandle) Pop(getBuffer func(length int) []byte) ([]byte, bool, error) {
	st, ok := h.c.StorageUnlessSubscribed()
	if !ok {
		return nil, false, nil
	}
	return st.Pop(getBuffer)
}

// Subscribe returns the storage for subscriber name, creating it (and
// promoting an existing anonymous storage in place, if any) if necessary
// (§4.9).
func (h *ChannelHandle) Subscribe(name string) (*Storage, error) {
	return h.c.Subscribe(name)
}

// NumRecords sums records across all of the channel's storages.
func (h *ChannelHandle) NumRecords() uint64 { return h.c.NumRecords() }

// NumBytes sums payload bytes across all of the channel's storages.
func (h *ChannelHandle) NumBytes() uint64 { return h.c.NumBytes() }

// Clear discards every storage's buffered records without removing the
// channel itself.
func (h *ChannelHandle) Clear() error { return h.c.Clear() }
