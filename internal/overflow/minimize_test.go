package overflow_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/overflow"
	"github.com/calvinalkan/diskqueue/internal/posixfile"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

// TestEngine_HeadTruncation exercises a scaled-down version of scenario 3:
// enough volume to reclaim at least one 1 MiB chunk, without the full
// 500-record-per-channel size the spec scenario uses.
func TestEngine_HeadTruncation(t *testing.T) {
	dir := t.TempDir()
	e, err := overflow.Open(fs.NewReal(), dir, nil)
	require.NoError(t, err)
	defer e.Close()

	if !collapseSupported(t, dir) {
		t.Skip("COLLAPSE_RANGE not supported on this filesystem")
	}

	const payloadSize = 20000
	const pushCount = 100
	const popCount = 80

	h, err := e.Handle("ch")
	require.NoError(t, err)

	payloads := make([]string, pushCount)
	for i := range pushCount {
		payloads[i] = fmt.Sprintf("payload-%05d-%s", i, padding(payloadSize))
		require.NoError(t, h.Push([]byte(payloads[i])))
	}

	for i := range popCount {
		got, ok := popString(t, h)
		require.True(t, ok)
		require.Equal(t, payloads[i], got)
	}

	sizeBefore, err := statSize(filepath.Join(dir, overflow.DataFileName))
	require.NoError(t, err)

	require.NoError(t, e.Flush())

	sizeAfter, err := statSize(filepath.Join(dir, overflow.DataFileName))
	require.NoError(t, err)

	require.LessOrEqual(t, sizeAfter, sizeBefore)
	require.Zero(t, (sizeBefore-sizeAfter)%posixfile.CollapseChunk)

	for i := popCount; i < pushCount; i++ {
		got, ok := popString(t, h)
		require.True(t, ok)
		require.Equal(t, payloads[i], got)
	}
}

func padding(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func collapseSupported(t *testing.T, dir string) bool {
	t.Helper()
	df, err := posixfile.OpenDataFile(fs.NewReal(), dir, "probe.tmp")
	require.NoError(t, err)
	defer df.Remove()
	return df.CollapseRangeSupported()
}

func statSize(path string) (int64, error) {
	fsys := fs.NewReal()
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
