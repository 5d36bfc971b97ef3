// Package multichannel implements the channel state machine (§3, §4.9): a
// channel holds either one anonymous storage or one storage per named
// subscriber, with in-place promotion of the anonymous storage into the
// first subscriber's storage on first subscribe.
package multichannel

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/diskqueue/internal/channame"
	"github.com/calvinalkan/diskqueue/internal/storage"
)

// State is one of the three channel lifecycle states (§3).
type State int

const (
	Reset State = iota
	Anonymous
	Subscribed
)

func (s State) String() string {
	switch s {
	case Reset:
		return "reset"
	case Anonymous:
		return "anonymous"
	case Subscribed:
		return "subscribed"
	default:
		return "State(?)"
	}
}

// ErrBareNameRejected is returned by AddSubscriber when storageName has no
// subscriber part. Bare names are never accepted as a new subscriber, at
// startup or live (§9 open question, resolved toward the stricter rule).
var ErrBareNameRejected = errors.New("multichannel: bare storage name cannot be added as a subscriber")

// ErrWrongChannel is returned when a storage name's channel part does not
// match this channel.
var ErrWrongChannel = errors.New("multichannel: storage name does not belong to this channel")

// ErrAnonymousMismatch is returned by AddSubscriber when the channel is
// anonymous: folding a subscriber into an anonymous channel at startup
// would silently bypass the rename-based promotion the live path uses, so
// it is treated as fatal recovery corruption instead (§4.10 step 2).
var ErrAnonymousMismatch = errors.New("multichannel: cannot add subscriber to an anonymous channel")

// ErrAlreadyAnonymous is returned by SetAnonymous on anything but a reset
// channel.
var ErrAlreadyAnonymous = errors.New("multichannel: channel is not in reset state")

// Channel owns the set of storages for one channel name and tracks which
// lifecycle state they put it in.
type Channel struct {
	name  string
	state State

	// anon is set iff state == Anonymous.
	anon *storage.Storage

	// subs is non-empty iff state == Subscribed, keyed by subscriber name
	// (the part of the storage id before '@').
	subs map[string]*storage.Storage

	factory func(storageID string) (*storage.Storage, error)
}

// New returns a reset channel named name. factory builds a fresh storage
// (memory ring + overflow handle) for a given storage id; it is supplied
// by the registry, which owns sizing and the overflow engine.
func New(name string, factory func(storageID string) (*storage.Storage, error)) *Channel {
	return &Channel{name: name, factory: factory}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Channel) State() State { return c.state }

// StorageUnlessSubscribed returns the anonymous storage iff the channel has
// no subscribers (§4.9).
func (c *Channel) StorageUnlessSubscribed() (*storage.Storage, bool) {
	if c.state != Anonymous {
		return nil, false
	}
	return c.anon, true
}

// EnsureAnonymous returns the channel's anonymous storage, creating it
// (and the channel itself, if reset) on first use. It is an error to call
// this on a subscribed channel; pushes to a subscribed channel fan out
// across its subscriber storages instead (§3).
func (c *Channel) EnsureAnonymous() (*storage.Storage, error) {
	switch c.state {
	case Anonymous:
		return c.anon, nil
	case Reset:
		st, err := c.factory(c.name)
		if err != nil {
			return nil, fmt.Errorf("multichannel %s: create anonymous storage: %w", c.name, err)
		}
		c.anon = st
		c.state = Anonymous
		return st, nil
	default:
		return nil, fmt.Errorf("multichannel %s: channel is subscribed, has no anonymous storage", c.name)
	}
}

// SetAnonymous installs st as the channel's anonymous storage. Used by
// startup recovery when an `.rq` or overflow-only channel carries no
// subscriber and the channel has not yet been seen (§4.10 step 1-2).
func (c *Channel) SetAnonymous(st *storage.Storage) error {
	if c.state != Reset {
		return fmt.Errorf("%w: channel %s is %s", ErrAlreadyAnonymous, c.name, c.state)
	}

	c.anon = st
	c.state = Anonymous

	return nil
}

// Subscribe returns the storage for subscriber name, creating it if
// necessary (§4.9, live path):
//   - if a storage already exists for name, return it;
//   - if the channel already has subscribers, create a fresh empty one;
//   - if the channel is anonymous, promote the existing anonymous storage
//     in place (rename only, no data movement) and adopt it as name's
//     storage;
//   - if the channel is reset, create a fresh empty one.
func (c *Channel) Subscribe(name string) (*storage.Storage, error) {
	if c.state == Subscribed {
		if st, ok := c.subs[name]; ok {
			return st, nil
		}
		return c.newSubscriberStorage(name)
	}

	if c.state == Anonymous {
		promoted := c.anon
		newID := channame.Join(name, c.name)

		if err := promoted.Rename(newID); err != nil {
			return nil, fmt.Errorf("multichannel %s: promote anonymous to subscriber %q: %w", c.name, name, err)
		}

		c.anon = nil
		c.subs = map[string]*storage.Storage{name: promoted}
		c.state = Subscribed

		return promoted, nil
	}

	// Reset.
	c.subs = map[string]*storage.Storage{}
	return c.newSubscriberStorage(name)
}

func (c *Channel) newSubscriberStorage(name string) (*storage.Storage, error) {
	id := channame.Join(name, c.name)

	st, err := c.factory(id)
	if err != nil {
		return nil, fmt.Errorf("multichannel %s: create subscriber %q: %w", c.name, name, err)
	}

	c.subs[name] = st
	c.state = Subscribed

	return st, nil
}

// AddSubscriber attaches an already-built storage (typically loaded from a
// dump file or recovered from the overflow engine) as a new subscriber.
// Startup-only. Requires storageName to carry a subscriber (bare names are
// always rejected, §9) and to belong to this channel. Returns (nil, nil)
// if that subscriber already exists. Returns [ErrAnonymousMismatch] if the
// channel is currently anonymous: an anonymous channel can only become
// subscribed via the live rename-based Subscribe path, never by silently
// folding in an externally-built storage.
func (c *Channel) AddSubscriber(storageName string, st *storage.Storage) (*storage.Storage, error) {
	parsed, err := channame.Parse(storageName)
	if err != nil {
		return nil, err
	}

	if !parsed.Subscribed {
		return nil, fmt.Errorf("%w: %q", ErrBareNameRejected, storageName)
	}

	if parsed.Channel != c.name {
		return nil, fmt.Errorf("%w: %q is not part of channel %s", ErrWrongChannel, storageName, c.name)
	}

	switch c.state {
	case Anonymous:
		return nil, fmt.Errorf("%w: %s", ErrAnonymousMismatch, c.name)
	case Reset:
		c.subs = map[string]*storage.Storage{}
		c.state = Subscribed
	case Subscribed:
		if _, exists := c.subs[parsed.Subscriber]; exists {
			return nil, nil
		}
	}

	c.subs[parsed.Subscriber] = st

	return st, nil
}

// Iterate calls fn for every storage owned by the channel.
func (c *Channel) Iterate(fn func(*storage.Storage)) {
	switch c.state {
	case Anonymous:
		fn(c.anon)
	case Subscribed:
		for _, st := range c.subs {
			fn(st)
		}
	}
}

// NumRecords sums records across all storages.
func (c *Channel) NumRecords() uint64 {
	var n uint64
	c.Iterate(func(st *storage.Storage) { n += st.NumRecords() })
	return n
}

// NumBytes sums payload bytes across all storages.
func (c *Channel) NumBytes() uint64 {
	var n uint64
	c.Iterate(func(st *storage.Storage) { n += st.NumBytes() })
	return n
}

// Clear clears every storage.
func (c *Channel) Clear() error {
	var err error
	c.Iterate(func(st *storage.Storage) {
		if e := st.Clear(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// Flush flushes every storage.
func (c *Channel) Flush() error {
	var err error
	c.Iterate(func(st *storage.Storage) {
		if e := st.Flush(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// Close closes every storage (dumping non-empty memory rings).
func (c *Channel) Close() error {
	var err error
	c.Iterate(func(st *storage.Storage) {
		if e := st.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// Reset permanently discards every storage's overflow-backed state
// (§4.5.4) rather than closing it, since a removed channel's data must not
// survive to the next restart; a plain Close here would instead write a
// stale dump file for data about to be thrown away. Recycles the emptied
// storages via release and returns the channel to the reset state (§4.9).
func (c *Channel) Reset(release func(*storage.Storage)) error {
	var err error

	c.Iterate(func(st *storage.Storage) {
		if e := st.Remove(); e != nil && err == nil {
			err = e
		}
		release(st)
	})

	c.anon = nil
	c.subs = nil
	c.state = Reset

	return err
}
