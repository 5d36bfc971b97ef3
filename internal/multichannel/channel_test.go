package multichannel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/multichannel"
	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/internal/ring"
	"github.com/calvinalkan/diskqueue/internal/storage"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

func newTestFactory(t *testing.T) (func(storageID string) (*storage.Storage, error), *overflow.Engine) {
	t.Helper()
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	factory := func(id string) (*storage.Storage, error) {
		h, err := e.Handle(id)
		if err != nil {
			return nil, err
		}
		return storage.New(fs.NewReal(), id, dir, ring.New(4096), h), nil
	}

	return factory, e
}

func TestChannel_AnonymousOnFirstPush(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := c.EnsureAnonymous()
	require.NoError(t, err)
	require.Equal(t, multichannel.Anonymous, c.State())

	again, ok := c.StorageUnlessSubscribed()
	require.True(t, ok)
	require.Same(t, st, again)
}

func TestChannel_SubscribePromotesAnonymousInPlace(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	anon, err := c.EnsureAnonymous()
	require.NoError(t, err)
	require.NoError(t, anon.Push([]byte("before-promotion")))

	st, err := c.Subscribe("alice")
	require.NoError(t, err)
	require.Equal(t, multichannel.Subscribed, c.State())
	require.Same(t, anon, st)
	require.Equal(t, "alice@ch", st.ID())

	got, ok, err := st.Pop(func(n int) []byte { return make([]byte, n) })
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "before-promotion", string(got))

	_, ok = c.StorageUnlessSubscribed()
	require.False(t, ok)
}

func TestChannel_SubscribeFromResetCreatesFreshStorage(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := c.Subscribe("alice")
	require.NoError(t, err)
	require.Equal(t, "alice@ch", st.ID())

	same, err := c.Subscribe("alice")
	require.NoError(t, err)
	require.Same(t, st, same)

	other, err := c.Subscribe("bob")
	require.NoError(t, err)
	require.NotSame(t, st, other)
}

func TestChannel_AddSubscriberRejectsBareName(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := factory("ch")
	require.NoError(t, err)

	_, err = c.AddSubscriber("ch", st)
	require.ErrorIs(t, err, multichannel.ErrBareNameRejected)
}

func TestChannel_AddSubscriberRejectsOnAnonymousChannel(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	_, err := c.EnsureAnonymous()
	require.NoError(t, err)

	st, err := factory("alice@ch")
	require.NoError(t, err)

	_, err = c.AddSubscriber("alice@ch", st)
	require.ErrorIs(t, err, multichannel.ErrAnonymousMismatch)
}

func TestChannel_AddSubscriberFromResetTransitionsToSubscribed(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := factory("alice@ch")
	require.NoError(t, err)

	got, err := c.AddSubscriber("alice@ch", st)
	require.NoError(t, err)
	require.Same(t, st, got)
	require.Equal(t, multichannel.Subscribed, c.State())
}

func TestChannel_AddSubscriberDuplicateReturnsNil(t *testing.T) {
	factory, _ := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := factory("alice@ch")
	require.NoError(t, err)
	_, err = c.AddSubscriber("alice@ch", st)
	require.NoError(t, err)

	dup, err := factory("alice@ch")
	require.NoError(t, err)
	got, err := c.AddSubscriber("alice@ch", dup)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestChannel_ResetRecyclesStorages(t *testing.T) {
	factory, e := newTestFactory(t)
	c := multichannel.New("ch", factory)

	st, err := c.Subscribe("alice")
	require.NoError(t, err)
	// Larger than the factory's 4096-byte ring capacity, so this record is
	// forced onto the overflow tier rather than staying in memory.
	require.NoError(t, st.Push(make([]byte, 5000)))

	var released []*storage.Storage
	err = c.Reset(func(st *storage.Storage) { released = append(released, st) })
	require.NoError(t, err)

	require.Len(t, released, 1)
	require.Equal(t, multichannel.Reset, c.State())
	require.Equal(t, uint64(0), c.NumRecords())

	// The overflow engine must have forgotten the removed channel's data:
	// a fresh handle for the same storage id starts from zero records.
	h, err := e.Handle("alice@ch")
	require.NoError(t, err)
	require.Equal(t, uint64(0), h.NumRecords())
}
