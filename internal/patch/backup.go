package patch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Backup copies src to dst byte for byte. It refuses to overwrite an
// existing dst and removes a partially written copy on failure.
func Backup(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrBackupExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrBackupExists, dst)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	return nil
}
