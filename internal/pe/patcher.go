package pe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ErrUnexpectedEOF is returned when a write would run past the end of the file.
var ErrUnexpectedEOF = errors.New("unexpected end of file")

// Patcher handles in-place modifications of the target file.
type Patcher struct {
	filepath string
	file     *os.File
	filesize int64
}

// NewPatcher opens the file for reading and writing.
func NewPatcher(filepath string) (*Patcher, error) {
	file, err := os.OpenFile(filepath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", filepath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath, err)
	}

	return &Patcher{
		filepath: filepath,
		file:     file,
		filesize: stat.Size(),
	}, nil
}

// Close closes the patcher and releases resources.
func (p *Patcher) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Size returns the file size at open time.
func (p *Patcher) Size() int64 {
	return p.filesize
}

// WriteUint32 writes v little-endian at offset. Nothing is written when the
// value would not fit before the end of the file.
func (p *Patcher) WriteUint32(offset uint64, v uint32) error {
	if offset+4 > uint64(p.filesize) {
		return fmt.Errorf("%w: offset 0x%X, file size 0x%X", ErrUnexpectedEOF, offset, p.filesize)
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)

	if _, err := p.file.WriteAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("write at 0x%X: %w", offset, err)
	}
	return nil
}

// ReadUint32 reads a little-endian value at offset.
func (p *Patcher) ReadUint32(offset uint64) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := p.file.ReadAt(buf, int64(offset)); err != nil {
		return 0, fmt.Errorf("read at 0x%X: %w", offset, err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// UpdateChecksum recalculates and updates the PE checksum.
func (p *Patcher) UpdateChecksum() (uint32, error) {
	peHeaderOffset, err := peHeaderOffset(p.file)
	if err != nil {
		return 0, err
	}

	checksumOffset := peHeaderOffset + checksumFieldOffset

	newChecksum, err := CalculatePEChecksum(p.file, p.filesize, checksumOffset)
	if err != nil {
		return 0, fmt.Errorf("calculate checksum: %w", err)
	}

	checksumBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(checksumBytes, newChecksum)

	if _, err := p.file.WriteAt(checksumBytes, checksumOffset); err != nil {
		return 0, fmt.Errorf("write checksum: %w", err)
	}

	return newChecksum, nil
}

// Sync flushes written data to disk.
func (p *Patcher) Sync() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", p.filepath, err)
	}
	return nil
}
