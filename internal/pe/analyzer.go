package pe

import (
	"debug/pe"
	"fmt"
)

// Info contains what the patcher reports about the target before writing.
type Info struct {
	FilePath     string
	FileSize     int64
	Architecture string
	Subsystem    string
	FileVersion  string // empty when the file has no version resource
	ImageBase    uint64
	Checksum     *ChecksumInfo
	Signature    *SignatureInfo
	PatchSection *SectionInfo
	PatchRVA     uint32
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Offset          uint32
	Size            uint32
	Characteristics uint32
	Permissions     string
	Entropy         float64
}

// Analyzer extracts information from PE files.
type Analyzer struct {
	reader *Reader
}

// NewAnalyzer creates a new analyzer for the given reader.
func NewAnalyzer(r *Reader) *Analyzer {
	return &Analyzer{reader: r}
}

// Analyze extracts header information and locates the section holding the
// patch offset. Checksum and signature problems are not fatal.
func (a *Analyzer) Analyze(patchOffset uint64) (*Info, error) {
	f := a.reader.File()

	info := &Info{
		FilePath: a.reader.FilePath(),
		FileSize: a.reader.FileSize(),
	}

	a.extractBasicInfo(f, info)

	section, err := a.reader.SectionForOffset(patchOffset)
	if err != nil {
		return nil, err
	}
	info.PatchSection = &SectionInfo{
		Name:            section.Name,
		VirtualAddress:  section.VirtualAddress,
		VirtualSize:     section.VirtualSize,
		Offset:          section.Offset,
		Size:            section.Size,
		Characteristics: section.Characteristics,
		Permissions:     getSectionPermissions(section.Characteristics),
	}
	info.PatchRVA = section.VirtualAddress + uint32(patchOffset-uint64(section.Offset))

	entropy, err := SectionEntropy(a.reader.RawFile(), int64(section.Offset), section.Size)
	if err != nil {
		return nil, fmt.Errorf("read section %s: %w", section.Name, err)
	}
	info.PatchSection.Entropy = entropy

	if version, err := FileVersion(f, a.reader.RawFile()); err == nil {
		info.FileVersion = version
	}
	if checksum, err := VerifyChecksum(f, a.reader.RawFile(), a.reader.FileSize()); err == nil {
		info.Checksum = checksum
	}
	// A signature that fails to parse is still reported as present.
	info.Signature, _ = VerifySignature(f, a.reader.RawFile())

	return info, nil
}

func (a *Analyzer) extractBasicInfo(f *pe.File, info *Info) {
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		info.Architecture = "x86"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		info.Architecture = "x64"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		info.Architecture = "ARM64"
	default:
		info.Architecture = fmt.Sprintf("unknown (0x%X)", f.Machine)
	}

	if opt, ok := f.OptionalHeader.(*pe.OptionalHeader32); ok {
		info.ImageBase = uint64(opt.ImageBase)
		info.Subsystem = getSubsystem(opt.Subsystem)
	} else if opt, ok := f.OptionalHeader.(*pe.OptionalHeader64); ok {
		info.ImageBase = opt.ImageBase
		info.Subsystem = getSubsystem(opt.Subsystem)
	}
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case pe.IMAGE_SUBSYSTEM_WINDOWS_GUI:
		return "Windows GUI"
	case pe.IMAGE_SUBSYSTEM_WINDOWS_CUI:
		return "Windows console"
	case pe.IMAGE_SUBSYSTEM_NATIVE:
		return "Native"
	default:
		return fmt.Sprintf("unknown (0x%X)", subsystem)
	}
}

func getSectionPermissions(c uint32) string {
	perms := [3]byte{'-', '-', '-'}

	if c&pe.IMAGE_SCN_MEM_READ != 0 {
		perms[0] = 'R'
	}
	if c&pe.IMAGE_SCN_MEM_WRITE != 0 {
		perms[1] = 'W'
	}
	if c&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}
