// Package registry implements the storage channels registry (§4.10): it
// owns the disk overflow engine, a pool of storage engines, per-channel
// size limits, and the startup scan that reconciles memory-ring dump
// files with recovered overflow state.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/diskqueue/internal/channame"
	"github.com/calvinalkan/diskqueue/internal/multichannel"
	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/internal/ring"
	"github.com/calvinalkan/diskqueue/internal/storage"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// ErrShuttingDown is returned by GetCreate once Shutdown has been called.
var ErrShuttingDown = errors.New("registry: shutting down, refusing to create new channels")

// ErrSubscriberMismatch is the fatal startup error for an overflow-only
// bare-name channel whose in-memory counterpart already has subscribers
// (§4.10 step 2).
var ErrSubscriberMismatch = errors.New("registry: recovered overflow channel carries no subscriber but the channel already has subscribers")

// Registry owns the overflow engine and every live channel.
type Registry struct {
	fsys    fs.FS
	dataDir string
	log     *slog.Logger
	limits  *Limits
	engine  *overflow.Engine
	pool    *pool

	channels     map[string]*multichannel.Channel
	shuttingDown bool
}

// Open opens (or creates) the overflow engine at dataDir, performs the
// startup scan described in §4.10, and returns a ready registry.
func Open(fsys fs.FS, dataDir string, limits *Limits, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}

	engine, err := overflow.Open(fsys, dataDir, log)
	if err != nil {
		return nil, fmt.Errorf("registry: open overflow engine: %w", err)
	}

	r := &Registry{
		fsys:     fsys,
		dataDir:  dataDir,
		log:      log,
		limits:   limits,
		engine:   engine,
		pool:     newPool(),
		channels: make(map[string]*multichannel.Channel),
	}

	if err := r.startupScan(); err != nil {
		engine.Close()
		return nil, fmt.Errorf("registry: startup scan: %w", err)
	}

	return r, nil
}

// newStorageFactory returns a factory bound to the registry's overflow
// engine and size limits, passed to each multichannel.Channel it creates.
func (r *Registry) newStorageFactory() func(id string) (*storage.Storage, error) {
	return func(id string) (*storage.Storage, error) {
		parsed, err := channame.Parse(id)
		if err != nil {
			return nil, err
		}

		capacity := r.limits.Capacity(parsed.Channel)

		h, err := r.engine.Handle(id)
		if err != nil {
			return nil, fmt.Errorf("registry: acquire overflow handle for %s: %w", id, err)
		}

		if st := r.pool.acquire(capacity); st != nil {
			st.Rebind(id, h)
			return st, nil
		}

		return storage.New(r.fsys, id, r.dataDir, ring.New(capacity), h), nil
	}
}

// GetCreate returns the channel named name, creating it (in the reset
// state) if it does not exist yet.
func (r *Registry) GetCreate(name string) (*multichannel.Channel, error) {
	if c, ok := r.channels[name]; ok {
		return c, nil
	}

	if r.shuttingDown {
		return nil, ErrShuttingDown
	}

	c := multichannel.New(name, r.newStorageFactory())
	r.channels[name] = c

	return c, nil
}

// Lookup returns the channel named name without creating it.
func (r *Registry) Lookup(name string) (*multichannel.Channel, bool) {
	c, ok := r.channels[name]
	return c, ok
}

// Remove clears and forgets the channel named name, recycling its
// storages back to the pool.
func (r *Registry) Remove(name string) error {
	c, ok := r.channels[name]
	if !ok {
		return nil
	}

	err := c.Reset(r.pool.release)
	delete(r.channels, name)

	return err
}

// Iterate calls fn for every live channel.
func (r *Registry) Iterate(fn func(*multichannel.Channel)) {
	for _, c := range r.channels {
		fn(c)
	}
}

// Shutdown marks the registry as no longer accepting new channels.
func (r *Registry) Shutdown() {
	r.shuttingDown = true
}

// Flush flushes the overflow engine and every channel.
func (r *Registry) Flush() error {
	var err error
	for _, c := range r.channels {
		if e := c.Flush(); e != nil && err == nil {
			err = e
		}
	}
	if e := r.engine.Flush(); e != nil && err == nil {
		err = e
	}
	return err
}

// WriteIndex rewrites the overflow index file without running
// head-truncation, leaving the memory tier and listeners untouched.
func (r *Registry) WriteIndex() error {
	return r.engine.WriteIndex()
}

// Close closes every channel (dumping non-empty memory rings) and the
// overflow engine.
func (r *Registry) Close() error {
	var err error
	for _, c := range r.channels {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := r.engine.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// startupScan implements §4.10's three-step directory reconciliation.
func (r *Registry) startupScan() error {
	entries, err := r.fsys.ReadDir(r.dataDir)
	if err != nil {
		return fmt.Errorf("read data dir: %w", err)
	}

	var dumpNames []string

	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() {
			r.log.Warn("registry: ignoring subdirectory in data directory", "name", name)
			continue
		}

		if !strings.HasSuffix(name, storage.DumpSuffix) {
			if name != overflow.DataFileName && name != overflow.IndexFileName {
				r.log.Warn("registry: ignoring file with unrecognized suffix", "name", name)
			}
			continue
		}

		storageID := strings.TrimSuffix(name, storage.DumpSuffix)

		if !channame.ValidString(storageID) {
			r.log.Warn("registry: ignoring dump file with invalid storage name", "name", name)
			continue
		}

		if err := r.loadDumpFile(storageID); err != nil {
			return fmt.Errorf("load dump file %s: %w", name, err)
		}

		dumpNames = append(dumpNames, storageID)
	}

	if err := r.adoptOverflowOnlyChannels(); err != nil {
		return err
	}

	for _, storageID := range dumpNames {
		path := filepath.Join(r.dataDir, storageID+storage.DumpSuffix)
		if err := r.fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale dump file %s: %w", path, err)
		}
	}

	return nil
}

// loadDumpFile implements §4.10 step 1 for a single `.rq` file: look up or
// create the owning channel, attach the corresponding storage (adding it
// as a subscriber if the name carries one), and load the ring contents.
func (r *Registry) loadDumpFile(storageID string) error {
	parsed, err := channame.Parse(storageID)
	if err != nil {
		return err
	}

	c, err := r.GetCreate(parsed.Channel)
	if err != nil {
		return err
	}

	st, err := r.attachStorage(c, storageID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil // duplicate subscriber name, ignore
	}

	capacity := r.limits.Capacity(parsed.Channel)
	path := filepath.Join(r.dataDir, storageID+storage.DumpSuffix)

	mem, err := ring.Load(r.fsys, capacity, path)
	if err != nil {
		return err
	}

	st.ReplaceMemory(mem)

	return nil
}

// attachStorage creates a fresh storage for storageID and installs it on
// c, either as the anonymous storage or as a named subscriber.
func (r *Registry) attachStorage(c *multichannel.Channel, storageID string) (*storage.Storage, error) {
	parsed, err := channame.Parse(storageID)
	if err != nil {
		return nil, err
	}

	factory := r.newStorageFactory()

	if !parsed.Subscribed {
		if c.State() != multichannel.Reset {
			return nil, fmt.Errorf("%w: %s", ErrSubscriberMismatch, storageID)
		}

		st, err := factory(storageID)
		if err != nil {
			return nil, err
		}
		if err := c.SetAnonymous(st); err != nil {
			return nil, err
		}

		return st, nil
	}

	st, err := factory(storageID)
	if err != nil {
		return nil, err
	}

	return c.AddSubscriber(storageID, st)
}

// adoptOverflowOnlyChannels implements §4.10 step 2: every channel the
// overflow engine recovered that the dump-file pass did not already see
// gets created and attached, honoring the same bare-name rule as live
// subscribe (§9).
func (r *Registry) adoptOverflowOnlyChannels() error {
	var names []string
	r.engine.IterateChannelNames(func(name string) { names = append(names, name) })

	for _, storageID := range names {
		parsed, err := channame.Parse(storageID)
		if err != nil {
			return err
		}

		c, err := r.GetCreate(parsed.Channel)
		if err != nil {
			return err
		}

		if _, exists := existingStorage(c, storageID); exists {
			continue
		}

		if _, err := r.attachStorage(c, storageID); err != nil {
			return err
		}
	}

	return nil
}

func existingStorage(c *multichannel.Channel, storageID string) (*storage.Storage, bool) {
	var found *storage.Storage
	c.Iterate(func(st *storage.Storage) {
		if st.ID() == storageID {
			found = st
		}
	})
	return found, found != nil
}
