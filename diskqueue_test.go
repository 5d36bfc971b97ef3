package diskqueue_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue"
)

func popString(t *testing.T, s *diskqueue.Storage) (string, bool) {
	t.Helper()
	buf, ok, err := s.Pop(func(n int) []byte { return make([]byte, n) })
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	return string(buf), true
}

func TestScenarioOne_BasicRecovery(t *testing.T) {
	dir := t.TempDir()

	e, err := diskqueue.Open(dir)
	require.NoError(t, err)

	ch, err := e.Channel("ch")
	require.NoError(t, err)
	require.NoError(t, ch.Push([]byte("hello")))
	require.NoError(t, ch.Push([]byte("world")))

	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	e2, err := diskqueue.Open(dir)
	require.NoError(t, err)
	defer e2.Close()

	ch2, err := e2.Channel("ch")
	require.NoError(t, err)

	got, ok, err := ch2.Pop(func(n int) []byte { return make([]byte, n) })
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(got))

	got, ok, err = ch2.Pop(func(n int) []byte { return make([]byte, n) })
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "world", string(got))

	_, ok, err = ch2.Pop(func(n int) []byte { return make([]byte, n) })
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScenarioTwo_SubscriberIsolation(t *testing.T) {
	dir := t.TempDir()

	e, err := diskqueue.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	ch, err := e.Channel("c")
	require.NoError(t, err)

	def, err := ch.Subscribe("")
	require.NoError(t, err)
	s1, err := ch.Subscribe("s1")
	require.NoError(t, err)
	s2, err := ch.Subscribe("s2")
	require.NoError(t, err)

	require.NoError(t, ch.Push([]byte("r1")))

	for _, s := range []*diskqueue.Storage{def, s1, s2} {
		got, ok := popString(t, s)
		require.True(t, ok)
		require.Equal(t, "r1", got)

		_, ok = popString(t, s)
		require.False(t, ok, "each storage should deliver r1 exactly once")
	}

	require.NoError(t, ch.Push([]byte("r2")))

	for _, s := range []*diskqueue.Storage{def, s1, s2} {
		got, ok := popString(t, s)
		require.True(t, ok)
		require.Equal(t, "r2", got)
	}
}

func TestScenarioThree_HeadMinimize(t *testing.T) {
	dir := t.TempDir()

	limits, err := diskqueue.NewLimits(1024, nil) // tiny ring forces overflow immediately
	require.NoError(t, err)

	e, err := diskqueue.Open(dir, diskqueue.WithLimits(limits))
	require.NoError(t, err)
	defer e.Close()

	const payloadSize = 20000
	const recordCount = 500
	const popCount = 300

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	ch1, err := e.Channel("ch1")
	require.NoError(t, err)
	ch2, err := e.Channel("ch2")
	require.NoError(t, err)

	for i := range recordCount {
		tagged := taggedPayload(payload, i)
		require.NoError(t, ch1.Push(tagged))
		require.NoError(t, ch2.Push(tagged))
	}

	for i := range popCount {
		want := taggedPayload(payload, i)
		got, ok, err := ch1.Pop(func(n int) []byte { return make([]byte, n) })
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)

		got, ok, err = ch2.Pop(func(n int) []byte { return make([]byte, n) })
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	require.NoError(t, e.Flush())

	for i := popCount; i < recordCount; i++ {
		want := taggedPayload(payload, i)
		got, ok, err := ch1.Pop(func(n int) []byte { return make([]byte, n) })
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)

		got, ok, err = ch2.Pop(func(n int) []byte { return make([]byte, n) })
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

// taggedPayload stamps the record index into the first bytes of payload so
// a mismatch in pop order is easy to diagnose, while keeping the dominant
// byte length fixed.
func taggedPayload(payload []byte, i int) []byte {
	out := append([]byte(nil), payload...)
	tag := []byte(fmt.Sprintf("#%05d#", i))
	copy(out, tag)
	return out
}
