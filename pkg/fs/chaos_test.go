package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/pkg/fs"
)

func TestChaos_FailOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	injected := errors.New("injected open failure")
	chaos := fs.NewChaos(fs.NewReal())
	chaos.FailOpen = func(string) error { return injected }

	_, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.ErrorIs(t, err, injected)
}

func TestChaos_ShortWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	chaos := fs.NewChaos(fs.NewReal())
	chaos.FailWrite = func(_ string, p []byte) (int, error, bool) {
		if len(p) <= 1 {
			return 0, nil, false
		}
		return len(p) - 1, nil, true
	}

	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestChaos_FailSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	injected := errors.New("injected sync failure")
	chaos := fs.NewChaos(fs.NewReal())
	chaos.FailSync = func(string) error { return injected }

	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	err = f.Sync()
	require.ErrorIs(t, err, injected)
}

func TestChaos_PassthroughWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	chaos := fs.NewChaos(fs.NewReal())

	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
