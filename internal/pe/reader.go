// Package pe provides access to the target executable: reading the search
// window, PE inspection and in-place patching.
package pe

import (
	"debug/pe"
	"fmt"
	"io"
	"os"
)

// Reader wraps debug/pe.File with additional metadata.
type Reader struct {
	file     *pe.File
	raw      *os.File
	filepath string
	filesize int64
}

// Open opens a PE file for reading.
func Open(filepath string) (*Reader, error) {
	raw, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath, err)
	}

	f, err := pe.NewFile(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("parse PE file %s: %w", filepath, err)
	}

	stat, err := raw.Stat()
	if err != nil {
		_ = f.Close()
		_ = raw.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath, err)
	}

	return &Reader{
		file:     f,
		raw:      raw,
		filepath: filepath,
		filesize: stat.Size(),
	}, nil
}

// Close closes the underlying PE file.
func (r *Reader) Close() error {
	_ = r.file.Close()
	return r.raw.Close()
}

// File returns the underlying debug/pe.File.
func (r *Reader) File() *pe.File {
	return r.file
}

// RawFile returns the file contents for direct reads.
func (r *Reader) RawFile() io.ReaderAt {
	return r.raw
}

// FilePath returns the file path.
func (r *Reader) FilePath() string {
	return r.filepath
}

// FileSize returns the file size in bytes.
func (r *Reader) FileSize() int64 {
	return r.filesize
}

// SectionForOffset returns the section whose raw data contains the file offset.
func (r *Reader) SectionForOffset(offset uint64) (*pe.Section, error) {
	for _, s := range r.file.Sections {
		start := uint64(s.Offset)
		if offset >= start && offset < start+uint64(s.Size) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("file offset 0x%X is not inside any section", offset)
}
