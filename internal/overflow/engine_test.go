package overflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

func popString(t *testing.T, h *overflow.Handle) (string, bool) {
	t.Helper()

	var out []byte
	ok, buf, err := h.Pop(func(length int) []byte {
		out = make([]byte, length)
		return out
	})
	require.NoError(t, err)

	if !ok {
		return "", false
	}

	return string(buf), true
}

func TestEngine_PushPopRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e.Close()

	h, err := e.Handle("ch")
	require.NoError(t, err)

	require.NoError(t, h.Push([]byte("hello")))
	require.NoError(t, h.Push([]byte("world")))

	got, ok := popString(t, h)
	require.True(t, ok)
	require.Equal(t, "hello", got)

	got, ok = popString(t, h)
	require.True(t, ok)
	require.Equal(t, "world", got)

	_, ok = popString(t, h)
	require.False(t, ok)
}

func TestEngine_ScenarioOne_RecoveryAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)

	h, err := e.Handle("ch")
	require.NoError(t, err)
	require.NoError(t, h.Push([]byte("hello")))
	require.NoError(t, h.Push([]byte("world")))

	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	e2, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e2.Close()

	h2, err := e2.Handle("ch")
	require.NoError(t, err)

	got, ok := popString(t, h2)
	require.True(t, ok)
	require.Equal(t, "hello", got)

	got, ok = popString(t, h2)
	require.True(t, ok)
	require.Equal(t, "world", got)

	_, ok = popString(t, h2)
	require.False(t, ok)
}

func TestEngine_CrossChannelIndependence(t *testing.T) {
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e.Close()

	a, err := e.Handle("a")
	require.NoError(t, err)
	b, err := e.Handle("b")
	require.NoError(t, err)

	require.NoError(t, a.Push([]byte("a1")))
	require.NoError(t, b.Push([]byte("b1")))
	require.NoError(t, a.Push([]byte("a2")))
	require.NoError(t, b.Push([]byte("b2")))

	got, _ := popString(t, a)
	require.Equal(t, "a1", got)
	got, _ = popString(t, a)
	require.Equal(t, "a2", got)

	got, _ = popString(t, b)
	require.Equal(t, "b1", got)
	got, _ = popString(t, b)
	require.Equal(t, "b2", got)
}

func TestEngine_ClearAndGlobalCompaction(t *testing.T) {
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e.Close()

	h, err := e.Handle("ch")
	require.NoError(t, err)
	require.NoError(t, h.Push([]byte("x")))
	require.NoError(t, h.Push([]byte("y")))

	require.NoError(t, h.Clear())

	require.Equal(t, uint64(0), e.TotalRecords())
	require.Equal(t, uint64(0), e.TotalBytes())
}

func TestEngine_RenamePreservesData(t *testing.T) {
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e.Close()

	h, err := e.Handle("old")
	require.NoError(t, err)
	require.NoError(t, h.Push([]byte("payload")))

	require.NoError(t, h.Rename("new"))

	got, ok := popString(t, h)
	require.True(t, ok)
	require.Equal(t, "payload", got)

	_, found := e.Lookup("old")
	require.False(t, found)
	_, found = e.Lookup("new")
	require.True(t, found)
}
