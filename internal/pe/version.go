package pe

import (
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNoVersion is returned when the file carries no usable version resource.
var ErrNoVersion = errors.New("no version resource")

const (
	resourceDirectoryIndex = 2
	rtVersion              = 16

	resourceSubdirectory   = 0x80000000
	fixedFileInfoSignature = 0xFEEF04BD

	// The fixed info follows the VS_VERSIONINFO header and its "VS_VERSION_INFO" key.
	maxVersionScan = 0x80
)

// IMAGE_RESOURCE_DIRECTORY.
type resourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIDEntries    uint16
}

// IMAGE_RESOURCE_DIRECTORY_ENTRY.
type resourceDirectoryEntry struct {
	NameOrID uint32
	Offset   uint32
}

// IMAGE_RESOURCE_DATA_ENTRY.
type resourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

// FileVersion returns the file version from the fixed part of the RT_VERSION
// resource, formatted as "major.minor.build.revision".
func FileVersion(f *pe.File, r io.ReaderAt) (string, error) {
	dir := dataDirectory(f, resourceDirectoryIndex)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return "", ErrNoVersion
	}
	base, err := rvaToOffset(f, dir.VirtualAddress)
	if err != nil {
		return "", err
	}

	// Type level, then the first name and the first language below it.
	entry, err := findResourceEntry(r, int64(base), rtVersion)
	if err != nil {
		return "", err
	}
	for level := 0; level < 2; level++ {
		if entry.Offset&resourceSubdirectory == 0 {
			return "", fmt.Errorf("%w: truncated resource tree", ErrNoVersion)
		}
		entry, err = firstResourceEntry(r, int64(base)+int64(entry.Offset&^resourceSubdirectory))
		if err != nil {
			return "", err
		}
	}
	if entry.Offset&resourceSubdirectory != 0 {
		return "", fmt.Errorf("%w: unexpected subdirectory", ErrNoVersion)
	}

	var data resourceDataEntry
	if err := binary.Read(io.NewSectionReader(r, int64(base)+int64(entry.Offset), 16), binary.LittleEndian, &data); err != nil {
		return "", fmt.Errorf("read resource data entry: %w", err)
	}
	offset, err := rvaToOffset(f, data.OffsetToData)
	if err != nil {
		return "", err
	}

	size := min(data.Size, maxVersionScan+16)
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read version resource: %w", err)
	}
	return parseFixedFileVersion(buf[:n])
}

// parseFixedFileVersion finds VS_FIXEDFILEINFO by its signature. The
// signature sits on a 4-byte boundary.
func parseFixedFileVersion(data []byte) (string, error) {
	for i := 0; i+16 <= len(data); i += 4 {
		if binary.LittleEndian.Uint32(data[i:]) != fixedFileInfoSignature {
			continue
		}
		ms := binary.LittleEndian.Uint32(data[i+8:])
		ls := binary.LittleEndian.Uint32(data[i+12:])
		return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF), nil
	}
	return "", fmt.Errorf("%w: VS_FIXEDFILEINFO not found", ErrNoVersion)
}

func readResourceDirectory(r io.ReaderAt, offset int64) (resourceDirectory, error) {
	var dir resourceDirectory
	err := binary.Read(io.NewSectionReader(r, offset, 16), binary.LittleEndian, &dir)
	if err != nil {
		return dir, fmt.Errorf("read resource directory at 0x%X: %w", offset, err)
	}
	return dir, nil
}

func readResourceEntry(r io.ReaderAt, dirOffset int64, i int) (resourceDirectoryEntry, error) {
	var entry resourceDirectoryEntry
	err := binary.Read(io.NewSectionReader(r, dirOffset+16+int64(i)*8, 8), binary.LittleEndian, &entry)
	if err != nil {
		return entry, fmt.Errorf("read resource entry: %w", err)
	}
	return entry, nil
}

// findResourceEntry looks up an ID entry. Named entries come first and are skipped.
func findResourceEntry(r io.ReaderAt, dirOffset int64, id uint32) (resourceDirectoryEntry, error) {
	dir, err := readResourceDirectory(r, dirOffset)
	if err != nil {
		return resourceDirectoryEntry{}, err
	}
	named := int(dir.NumberOfNamedEntries)
	for i := named; i < named+int(dir.NumberOfIDEntries); i++ {
		entry, err := readResourceEntry(r, dirOffset, i)
		if err != nil {
			return entry, err
		}
		if entry.NameOrID == id {
			return entry, nil
		}
	}
	return resourceDirectoryEntry{}, ErrNoVersion
}

func firstResourceEntry(r io.ReaderAt, dirOffset int64) (resourceDirectoryEntry, error) {
	dir, err := readResourceDirectory(r, dirOffset)
	if err != nil {
		return resourceDirectoryEntry{}, err
	}
	if dir.NumberOfNamedEntries+dir.NumberOfIDEntries == 0 {
		return resourceDirectoryEntry{}, fmt.Errorf("%w: empty resource directory", ErrNoVersion)
	}
	return readResourceEntry(r, dirOffset, 0)
}

// dataDirectory returns entry index of the optional header's data
// directory, or a zero entry when the header has fewer entries.
func dataDirectory(f *pe.File, index uint32) pe.DataDirectory {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > index {
			return oh.DataDirectory[index]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > index {
			return oh.DataDirectory[index]
		}
	}
	return pe.DataDirectory{}
}

func rvaToOffset(f *pe.File, rva uint32) (uint32, error) {
	for _, section := range f.Sections {
		if rva >= section.VirtualAddress && rva < section.VirtualAddress+section.VirtualSize {
			return rva - section.VirtualAddress + section.Offset, nil
		}
	}
	return 0, fmt.Errorf("RVA 0x%X is not in any section", rva)
}
