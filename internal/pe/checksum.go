package pe

import (
	"bufio"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Offset of the CheckSum field from the PE signature:
// Signature(4) + COFF header(20) + 64 bytes into the optional header.
const checksumFieldOffset = 4 + 20 + 64

// ChecksumInfo contains PE checksum verification results.
type ChecksumInfo struct {
	Stored   uint32
	Computed uint32
	Valid    bool
}

// VerifyChecksum calculates and verifies PE file checksum.
func VerifyChecksum(f *pe.File, r io.ReaderAt, filesize int64) (*ChecksumInfo, error) {
	var storedChecksum uint32

	if oh32, ok := f.OptionalHeader.(*pe.OptionalHeader32); ok {
		storedChecksum = oh32.CheckSum
	} else if oh64, ok := f.OptionalHeader.(*pe.OptionalHeader64); ok {
		storedChecksum = oh64.CheckSum
	}

	// Most non-system executables leave the checksum unset.
	if storedChecksum == 0 {
		return &ChecksumInfo{Valid: true}, nil
	}

	headerOffset, err := peHeaderOffset(r)
	if err != nil {
		return nil, err
	}

	computed, err := CalculatePEChecksum(r, filesize, headerOffset+checksumFieldOffset)
	if err != nil {
		return nil, err
	}

	return &ChecksumInfo{
		Stored:   storedChecksum,
		Computed: computed,
		Valid:    computed == storedChecksum,
	}, nil
}

// CalculatePEChecksum calculates the PE checksum of the first filesize bytes
// of r, skipping the 4-byte field at checksumOffset. Pass -1 to skip nothing.
func CalculatePEChecksum(r io.ReaderAt, filesize int64, checksumOffset int64) (uint32, error) {
	var checksum uint64
	br := bufio.NewReaderSize(io.NewSectionReader(r, 0, filesize), 64*1024)
	buf := make([]byte, 4)

	for offset := int64(0); offset < filesize; offset += 4 {
		n, err := io.ReadFull(br, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, err
		}

		// Skip checksum field itself
		if checksumOffset >= 0 && offset >= checksumOffset && offset < checksumOffset+4 {
			continue
		}

		// Partial read at end of file is zero padded
		for i := n; i < 4; i++ {
			buf[i] = 0
		}

		checksum += uint64(binary.LittleEndian.Uint32(buf))

		// Fold high 32 bits into low 32 bits
		if checksum > 0xFFFFFFFF {
			checksum = (checksum & 0xFFFFFFFF) + (checksum >> 32)
		}
	}

	// Fold to 16 bits, then add the file size.
	checksum = (checksum & 0xFFFF) + (checksum >> 16)
	checksum += checksum >> 16
	checksum &= 0xFFFF

	return uint32(checksum + uint64(filesize)), nil
}

// peHeaderOffset reads e_lfanew from the DOS header and checks both magics.
func peHeaderOffset(r io.ReaderAt) (int64, error) {
	dosHeader := make([]byte, 64)
	if _, err := r.ReadAt(dosHeader, 0); err != nil {
		return 0, fmt.Errorf("read DOS header: %w", err)
	}
	if dosHeader[0] != 'M' || dosHeader[1] != 'Z' {
		return 0, fmt.Errorf("not a PE file: missing MZ signature")
	}

	offset := int64(binary.LittleEndian.Uint32(dosHeader[60:64]))

	sig := make([]byte, 4)
	if _, err := r.ReadAt(sig, offset); err != nil {
		return 0, fmt.Errorf("read PE signature: %w", err)
	}
	if string(sig) != "PE\x00\x00" {
		return 0, fmt.Errorf("not a PE file: missing PE signature at 0x%X", offset)
	}

	return offset, nil
}
