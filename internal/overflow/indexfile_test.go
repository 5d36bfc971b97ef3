package overflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/posixfile"
	"github.com/calvinalkan/diskqueue/pkg/fs"
)

func openIndexFile(t *testing.T) *posixfile.File {
	t.Helper()
	f, err := posixfile.Open(fs.NewReal(), t.TempDir(), IndexFileName)
	require.NoError(t, err)
	return f
}

func TestIndexFile_WriteThenReadRoundTrip(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	want := []IndexLine{
		{Name: "a", Records: 1, Bytes: 5, FirstOffset: 8, LastOffset: 8},
		{Name: "sub@b", Records: 3, Bytes: 30, FirstOffset: 8, LastOffset: 90},
	}

	err := writeIndex(f, func(yield func(name string, line IndexLine) bool) {
		for _, l := range want {
			if !yield(l.Name, l) {
				return
			}
		}
	})
	require.NoError(t, err)

	var got []IndexLine
	err = readIndex(f, func(lineNo int, line IndexLine) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestIndexFile_EmptyFileIsCleanEOF(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	var got []IndexLine
	err := readIndex(f, func(lineNo int, line IndexLine) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIndexFile_TrailingWhitespaceTolerated(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	_, err := f.Write([]byte("ch 1 5 8 8\n\n   \n"))
	require.NoError(t, err)

	var got []IndexLine
	err = readIndex(f, func(lineNo int, line IndexLine) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ch", got[0].Name)
}

func TestIndexFile_MalformedLineMissingFields(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	_, err := f.Write([]byte("ch 1 5\n"))
	require.NoError(t, err)

	err = readIndex(f, func(lineNo int, line IndexLine) error { return nil })
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIndexParse))
}

func TestIndexFile_EmptyChannelRejected(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	_, err := f.Write([]byte("ch 0 0 0 0\n"))
	require.NoError(t, err)

	err = readIndex(f, func(lineNo int, line IndexLine) error { return nil })
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIndexParse))
}

func TestIndexFile_SingleRecordOffsetMismatchRejected(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	_, err := f.Write([]byte("ch 1 5 8 20\n"))
	require.NoError(t, err)

	err = readIndex(f, func(lineNo int, line IndexLine) error { return nil })
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIndexParse))
}

func TestIndexFile_DuplicateNameDetectedByCaller(t *testing.T) {
	f := openIndexFile(t)
	defer f.Close()

	_, err := f.Write([]byte("ch 1 5 8 8\nch 1 5 100 100\n"))
	require.NoError(t, err)

	seen := map[string]bool{}
	err = readIndex(f, func(lineNo int, line IndexLine) error {
		if seen[line.Name] {
			return errors.New("duplicate")
		}
		seen[line.Name] = true
		return nil
	})
	require.Error(t, err)
}
