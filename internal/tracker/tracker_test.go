package tracker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/tracker"
)

func TestTracker_MinReflectsAscendingOrder(t *testing.T) {
	tr := tracker.New()

	ea, err := tr.Insert("a", 30)
	require.NoError(t, err)
	eb, err := tr.Insert("b", 10)
	require.NoError(t, err)
	ec, err := tr.Insert("c", 20)
	require.NoError(t, err)

	require.Equal(t, 3, tr.Len())

	min, ok := tr.Min()
	require.True(t, ok)
	require.Equal(t, eb, min)
	require.Equal(t, "b", min.Ref)

	succ, ok := tr.Successor(eb)
	require.True(t, ok)
	require.Equal(t, ec, succ)

	succ, ok = tr.Successor(ec)
	require.True(t, ok)
	require.Equal(t, ea, succ)

	_, ok = tr.Successor(ea)
	require.False(t, ok)
}

func TestTracker_InsertDuplicateKeyRejected(t *testing.T) {
	tr := tracker.New()

	_, err := tr.Insert("a", 10)
	require.NoError(t, err)

	_, err = tr.Insert("b", 10)
	require.ErrorIs(t, err, tracker.ErrDuplicateKey)
}

func TestTracker_RemoveAndRekey(t *testing.T) {
	tr := tracker.New()

	ea, err := tr.Insert("a", 10)
	require.NoError(t, err)
	eb, err := tr.Insert("b", 20)
	require.NoError(t, err)

	require.NoError(t, tr.Rekey(ea, 30))

	min, ok := tr.Min()
	require.True(t, ok)
	require.Equal(t, eb, min)

	tr.Remove(eb)
	require.Equal(t, 1, tr.Len())

	min, ok = tr.Min()
	require.True(t, ok)
	require.Equal(t, ea, min)

	tr.Remove(nil)
	require.Equal(t, 1, tr.Len())
}

func TestTracker_RekeyCollisionRejected(t *testing.T) {
	tr := tracker.New()

	ea, err := tr.Insert("a", 10)
	require.NoError(t, err)
	_, err = tr.Insert("b", 20)
	require.NoError(t, err)

	err = tr.Rekey(ea, 20)
	require.ErrorIs(t, err, tracker.ErrDuplicateKey)
}

func TestTracker_DecreaseAllShiftsAllKeys(t *testing.T) {
	tr := tracker.New()

	ea, err := tr.Insert("a", 100)
	require.NoError(t, err)
	eb, err := tr.Insert("b", 200)
	require.NoError(t, err)

	tr.DecreaseAll(50)

	require.Equal(t, uint64(50), ea.FirstOffset)
	require.Equal(t, uint64(150), eb.FirstOffset)

	min, ok := tr.Min()
	require.True(t, ok)
	require.Equal(t, "a", min.Ref)
}

func TestTracker_AscendVisitsInOrder(t *testing.T) {
	tr := tracker.New()
	_, _ = tr.Insert("c", 3)
	_, _ = tr.Insert("a", 1)
	_, _ = tr.Insert("b", 2)

	var seen []string
	tr.Ascend(func(e *tracker.Entry) bool {
		seen = append(seen, e.Ref.(string))
		return true
	})

	require.Equal(t, []string{"a", "b", "c"}, seen)
}
