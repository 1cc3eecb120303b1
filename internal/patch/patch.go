// Package patch runs the end-to-end patch: locate, validate, back up, write.
package patch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apex/log"

	"github.com/ZacharyZcR/modlimitfix/internal/config"
	"github.com/ZacharyZcR/modlimitfix/internal/locate"
	"github.com/ZacharyZcR/modlimitfix/internal/pe"
	"github.com/ZacharyZcR/modlimitfix/internal/profile"
)

// Failure classes, in the order Run checks them.
var (
	ErrTargetMissing      = errors.New("target executable not found")
	ErrTargetTooSmall     = pe.ErrTargetTooSmall
	ErrPatchPointNotFound = errors.New("patch address not found")
	ErrAlreadyPatched     = errors.New("executable is already patched")
	ErrBackupExists       = errors.New("backup file already exists")
	ErrBackupFailed       = errors.New("failed to create backup file")
	ErrUnexpectedEOF      = pe.ErrUnexpectedEOF
	ErrWriteFailed        = errors.New("failed to write patch")
)

// Options configures a run. Profile and Limit are resolved by the caller.
type Options struct {
	Dir            string
	Profile        profile.Profile
	Limit          config.Limit
	DryRun         bool
	UpdateChecksum bool
}

// TargetPath returns the executable path.
func (o Options) TargetPath() string {
	return filepath.Join(o.Dir, o.Profile.Executable)
}

// BackupPath returns the backup path.
func (o Options) BackupPath() string {
	return filepath.Join(o.Dir, o.Profile.BackupName())
}

// Outcome describes what a run found and did. It is returned alongside
// errors so callers can report paths and offsets.
type Outcome struct {
	TargetPath string
	BackupPath string
	Result     locate.Result
	Info       *pe.Info // nil when the target is not a parseable PE file
	Previous   uint32   // value at the patch address before writing
	Written    uint32
	Checksum   uint32 // new PE checksum, when updated
	BackedUp   bool
	Patched    bool
}

// Run performs the patch. The first failing check wins and the remaining
// steps are skipped. The file is closed between reading and writing, so a
// concurrent modification in that window is not detected.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	out := &Outcome{
		TargetPath: opts.TargetPath(),
		BackupPath: opts.BackupPath(),
	}
	logger := log.WithFields(log.Fields{
		"target": out.TargetPath,
		"limit":  opts.Limit.Value,
	})

	if err := opts.Profile.Validate(); err != nil {
		return out, err
	}
	locator, err := opts.Profile.Locator()
	if err != nil {
		return out, err
	}

	if err := checkTarget(out.TargetPath); err != nil {
		return out, err
	}

	buf, err := pe.ReadWindow(out.TargetPath, uint64(opts.Profile.WindowStart), uint64(opts.Profile.WindowEnd))
	if err != nil {
		return out, err
	}
	logger.WithField("bytes", len(buf)).Debug("read search window")

	locator.Observe = func(p locate.Phase) {
		logger.WithField("phase", p.String()).Debug("searching")
	}
	out.Result, err = locator.Locate(buf)
	if err != nil {
		return out, err
	}
	logger.WithField("result", out.Result.String()).Debug("search finished")

	switch out.Result.Kind {
	case locate.NotFound:
		return out, ErrPatchPointNotFound
	case locate.AlreadyPatched:
		return out, ErrAlreadyPatched
	}

	local := out.Result.Offset - uint64(opts.Profile.WindowStart)
	out.Previous = binary.LittleEndian.Uint32(buf[local : local+4])
	out.Info = inspect(out.TargetPath, out.Result.Offset, logger)

	if opts.DryRun {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if err := Backup(out.TargetPath, out.BackupPath); err != nil {
		return out, err
	}
	out.BackedUp = true
	logger.WithField("backup", out.BackupPath).Debug("backup created")

	if err := ctx.Err(); err != nil {
		return out, err
	}

	checksum, err := write(out.TargetPath, out.Result.Offset, opts.Limit.Value, opts.UpdateChecksum, logger)
	if err != nil {
		return out, err
	}
	out.Written = opts.Limit.Value
	out.Checksum = checksum
	out.Patched = true
	logger.WithField("offset", fmt.Sprintf("0x%X", out.Result.Offset)).Info("patched")

	return out, nil
}

func checkTarget(path string) error {
	stat, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrTargetMissing, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrTargetMissing, path)
	}
	return nil
}

// inspect reports PE details for the patch point. Targets that do not parse
// as PE are patched anyway.
func inspect(path string, offset uint64, logger log.Interface) *pe.Info {
	reader, err := pe.Open(path)
	if err != nil {
		logger.WithError(err).Debug("target is not a PE file, skipping inspection")
		return nil
	}
	defer func() { _ = reader.Close() }()

	info, err := pe.NewAnalyzer(reader).Analyze(offset)
	if err != nil {
		logger.WithError(err).Warn("patch address is outside every section")
		return nil
	}

	if info.FileVersion != "" {
		logger.WithField("version", info.FileVersion).Debug("target version")
	}
	if info.PatchSection.Permissions[2] != 'X' {
		logger.WithField("section", info.PatchSection.Name).Warn("patch address is not in an executable section")
	}
	if info.PatchSection.Entropy > pe.PackedEntropy {
		logger.WithField("entropy", info.PatchSection.Entropy).Warn("section looks packed or encrypted")
	}
	if info.Signature != nil && info.Signature.IsSigned {
		logger.Warn("target is signed, patching invalidates the signature")
	}
	return info
}

func write(path string, offset uint64, value uint32, updateChecksum bool, logger log.Interface) (uint32, error) {
	patcher, err := pe.NewPatcher(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer func() { _ = patcher.Close() }()
	logger.WithField("size", patcher.Size()).Debug("opened target for writing")

	if err := patcher.WriteUint32(offset, value); err != nil {
		if errors.Is(err, pe.ErrUnexpectedEOF) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	got, err := patcher.ReadUint32(offset)
	if err != nil {
		return 0, fmt.Errorf("%w: read back: %w", ErrWriteFailed, err)
	}
	if got != value {
		return 0, fmt.Errorf("%w: read back %d, wrote %d", ErrWriteFailed, got, value)
	}

	var checksum uint32
	if updateChecksum {
		checksum, err = patcher.UpdateChecksum()
		if err != nil {
			// The value is already written; a stale checksum does not stop the game.
			logger.WithError(err).Warn("failed to update PE checksum")
			checksum = 0
		}
	}

	if err := patcher.Sync(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return checksum, nil
}
