package pe

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrTargetTooSmall is returned when the file ends before the window does.
var ErrTargetTooSmall = errors.New("target file is smaller than the search window")

// ReadWindow reads the bytes [start, end) of the file at path. The file is
// closed before returning.
func ReadWindow(path string, start, end uint64) ([]byte, error) {
	if end <= start {
		return nil, fmt.Errorf("empty window [0x%X, 0x%X)", start, end)
	}
	if end > math.MaxInt64 {
		return nil, fmt.Errorf("window end 0x%X is not a valid file offset", end)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	// Checked before allocating, so the buffer never outgrows the file.
	if uint64(stat.Size()) < end {
		return nil, fmt.Errorf("%w: file is 0x%X bytes, window ends at 0x%X", ErrTargetTooSmall, stat.Size(), end)
	}

	buf := make([]byte, end-start)
	n, err := f.ReadAt(buf, int64(start))
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read %d of %d bytes at 0x%X", ErrTargetTooSmall, n, len(buf), start)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return buf, nil
}
