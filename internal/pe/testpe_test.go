package pe

import (
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Layout of the image built by buildTestPE.
const (
	testPEHeader      = 0x40
	testOptHeader     = testPEHeader + 4 + 20
	testSectionHeader = testOptHeader + 240
	testTextOffset    = 0x200
	testTextSize      = 0x200
	testTextRVA       = 0x1000
	testFileSize      = testTextOffset + testTextSize
)

// buildTestPE returns a minimal PE32+ image with one .text section whose raw
// data is text, zero padded to testTextSize.
func buildTestPE(text []byte) []byte {
	b := make([]byte, testFileSize)
	le := binary.LittleEndian

	// DOS header.
	b[0], b[1] = 'M', 'Z'
	le.PutUint32(b[0x3C:], testPEHeader)

	// PE signature and COFF header.
	copy(b[testPEHeader:], "PE\x00\x00")
	coff := b[testPEHeader+4:]
	le.PutUint16(coff[0:], pe.IMAGE_FILE_MACHINE_AMD64)
	le.PutUint16(coff[2:], 1)    // NumberOfSections
	le.PutUint16(coff[16:], 240) // SizeOfOptionalHeader
	le.PutUint16(coff[18:], pe.IMAGE_FILE_EXECUTABLE_IMAGE|pe.IMAGE_FILE_LARGE_ADDRESS_AWARE)

	// Optional header (PE32+).
	opt := b[testOptHeader:]
	le.PutUint16(opt[0:], 0x20B)
	le.PutUint32(opt[4:], testTextSize)     // SizeOfCode
	le.PutUint32(opt[16:], testTextRVA)     // AddressOfEntryPoint
	le.PutUint32(opt[20:], testTextRVA)     // BaseOfCode
	le.PutUint64(opt[24:], 0x140000000)     // ImageBase
	le.PutUint32(opt[32:], 0x1000)          // SectionAlignment
	le.PutUint32(opt[36:], 0x200)           // FileAlignment
	le.PutUint32(opt[56:], 0x2000)          // SizeOfImage
	le.PutUint32(opt[60:], testTextOffset)  // SizeOfHeaders
	le.PutUint16(opt[68:], 2)               // Subsystem: Windows GUI
	le.PutUint32(opt[108:], 16)             // NumberOfRvaAndSizes

	// Section header.
	sec := b[testSectionHeader:]
	copy(sec[0:8], ".text")
	le.PutUint32(sec[8:], testTextSize)
	le.PutUint32(sec[12:], testTextRVA)
	le.PutUint32(sec[16:], testTextSize)
	le.PutUint32(sec[20:], testTextOffset)
	le.PutUint32(sec[36:], pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_MEM_READ)

	copy(b[testTextOffset:], text)
	return b
}

// setSecurityDirectory points data directory 4 at a file offset.
func setSecurityDirectory(b []byte, offset, size uint32) {
	dir := b[testOptHeader+112+securityDirectoryIndex*8:]
	binary.LittleEndian.PutUint32(dir[0:], offset)
	binary.LittleEndian.PutUint32(dir[4:], size)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.exe")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
