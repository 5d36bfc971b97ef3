package overflow

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/calvinalkan/diskqueue/internal/channame"
	"github.com/calvinalkan/diskqueue/internal/posixfile"
)

// IndexLine is one parsed line of the index file: `<storage_name> <records>
// <bytes> <first_offset> <last_offset>` (§3, §6).
type IndexLine struct {
	Name        string
	Records     uint64
	Bytes       uint64
	FirstOffset uint64
	LastOffset  uint64
}

// readIndex scans the index file token by token (five tokens per record:
// name, records, bytes, first_offset, last_offset), delivering each parsed
// line to handle along with its 1-based record number, which is the line
// number when every record sits on its own line. Trailing whitespace
// and a blank terminal line are tolerated; any other incomplete record
// (wrong token count before the next record, or EOF partway through one)
// is reported as [ErrIndexParse].
func readIndex(f *posixfile.File, handle func(lineNo int, line IndexLine) error) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("overflow: index: seek: %w", err)
	}

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)

	lineNo := 0
	for {
		lineNo++

		toks, err := readTokens(sc, 5)
		if err != nil {
			return fmt.Errorf("overflow: index: scan: %w", err)
		}

		if len(toks) == 0 {
			return nil // clean EOF, possibly after trailing whitespace
		}

		if len(toks) != 5 {
			return fmt.Errorf("%w: line %d: expected 5 fields, got %d", ErrIndexParse, lineNo, len(toks))
		}

		line, err := parseIndexLine(toks)
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrIndexParse, lineNo, err)
		}

		if err := handle(lineNo, line); err != nil {
			return err
		}
	}
}

func readTokens(sc *bufio.Scanner, n int) ([]string, error) {
	toks := make([]string, 0, n)

	for range n {
		if !sc.Scan() {
			return toks, sc.Err()
		}
		toks = append(toks, sc.Text())
	}

	return toks, nil
}

func parseIndexLine(toks []string) (IndexLine, error) {
	name := toks[0]

	if _, err := channame.Parse(name); err != nil {
		return IndexLine{}, err
	}

	records, err := strconv.ParseUint(toks[1], 10, 64)
	if err != nil {
		return IndexLine{}, fmt.Errorf("invalid records field %q: %w", toks[1], err)
	}

	bytes, err := strconv.ParseUint(toks[2], 10, 64)
	if err != nil {
		return IndexLine{}, fmt.Errorf("invalid bytes field %q: %w", toks[2], err)
	}

	firstOffset, err := strconv.ParseUint(toks[3], 10, 64)
	if err != nil {
		return IndexLine{}, fmt.Errorf("invalid first_offset field %q: %w", toks[3], err)
	}

	lastOffset, err := strconv.ParseUint(toks[4], 10, 64)
	if err != nil {
		return IndexLine{}, fmt.Errorf("invalid last_offset field %q: %w", toks[4], err)
	}

	if records == 0 {
		return IndexLine{}, fmt.Errorf("storage %q: empty channel recorded in index", name)
	}

	if records == 1 && firstOffset != lastOffset {
		return IndexLine{}, fmt.Errorf("storage %q: records==1 but first_offset != last_offset", name)
	}

	if records > 1 && !(firstOffset < lastOffset) {
		return IndexLine{}, fmt.Errorf("storage %q: records>1 but first_offset >= last_offset", name)
	}

	return IndexLine{
		Name:        name,
		Records:     records,
		Bytes:       bytes,
		FirstOffset: firstOffset,
		LastOffset:  lastOffset,
	}, nil
}

// writeIndex truncates the index file and writes one line per entry
// yielded by iterate. It runs with all non-fatal signals blocked: a stream
// write that's interrupted partway through cannot be safely resumed, so the
// whole rewrite must complete or the process must die trying (§4.3).
func writeIndex(f *posixfile.File, iterate func(yield func(name string, line IndexLine) bool)) error {
	return withSignalsBlocked(func() error {
		if err := f.Reset(); err != nil {
			return fmt.Errorf("overflow: index: reset: %w", err)
		}

		w := bufio.NewWriter(f)

		var writeErr error
		iterate(func(name string, line IndexLine) bool {
			_, err := fmt.Fprintf(w, "%s %d %d %d %d\n", name, line.Records, line.Bytes, line.FirstOffset, line.LastOffset)
			if err != nil {
				writeErr = err
				return false
			}
			return true
		})

		if writeErr != nil {
			return fmt.Errorf("overflow: index: write: %w", writeErr)
		}

		if err := w.Flush(); err != nil {
			return fmt.Errorf("overflow: index: flush: %w", err)
		}

		return nil
	})
}
