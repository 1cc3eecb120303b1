package pe

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func TestCalculatePEChecksum(t *testing.T) {
	tests := []struct {
		name           string
		data           []byte
		checksumOffset int64
		want           uint32
	}{
		{
			name:           "Simple 8-byte file",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
			checksumOffset: -1, // No checksum to skip
			want:           11, // 1 + 2 + filesize(8)
		},
		{
			name: "File with checksum field to skip",
			data: []byte{
				0x01, 0x00, 0x00, 0x00, // DWORD 1
				0xFF, 0xFF, 0xFF, 0xFF, // Checksum field (skipped)
				0x02, 0x00, 0x00, 0x00, // DWORD 2
			},
			checksumOffset: 4,
			want:           15, // 1 + 2 + filesize(12)
		},
		{
			name:           "Partial last DWORD",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00},
			checksumOffset: -1,
			want:           9, // 1 + 2 (padded) + filesize(6)
		},
		{
			name:           "File size is added after folding",
			data:           make([]byte, 0x20000),
			checksumOffset: -1,
			want:           0x20000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculatePEChecksum(bytes.NewReader(tt.data), int64(len(tt.data)), tt.checksumOffset)
			if err != nil {
				t.Fatalf("CalculatePEChecksum() error = %v", err)
			}

			if got != tt.want {
				t.Errorf("CalculatePEChecksum() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestChecksumCarryHandling(t *testing.T) {
	data := make([]byte, 16)

	// DWORDs that overflow 32 bits.
	binary.LittleEndian.PutUint32(data[0:4], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[8:12], 0x00000001)
	binary.LittleEndian.PutUint32(data[12:16], 0x00000001)

	got, err := CalculatePEChecksum(bytes.NewReader(data), int64(len(data)), -1)
	if err != nil {
		t.Fatalf("CalculatePEChecksum() error = %v", err)
	}

	// 0xFFFFFFFF + 0xFFFFFFFF folds to 0xFFFFFFFF, +1 folds to 1, +1 = 2,
	// 16-bit fold keeps 2, plus file size 16.
	if got != 18 {
		t.Errorf("CalculatePEChecksum() = 0x%08X, want 0x%08X", got, 18)
	}
}

func TestUpdateChecksum(t *testing.T) {
	path := writeTempFile(t, buildTestPE([]byte{0xBA, 0xC0, 0x00, 0x00, 0x00, 0x48, 0x8D, 0x4B}))

	patcher, err := NewPatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	written, err := patcher.UpdateChecksum()
	if err != nil {
		t.Fatalf("UpdateChecksum() error = %v", err)
	}
	if err := patcher.Close(); err != nil {
		t.Fatal(err)
	}
	if written == 0 {
		t.Fatal("UpdateChecksum() wrote zero")
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reader.Close() }()

	info, err := VerifyChecksum(reader.File(), reader.RawFile(), reader.FileSize())
	if err != nil {
		t.Fatalf("VerifyChecksum() error = %v", err)
	}
	if info.Stored != written || !info.Valid {
		t.Errorf("VerifyChecksum() = %+v, want stored 0x%08X and valid", info, written)
	}
}

func TestUpdateChecksumRejectsNonPE(t *testing.T) {
	path := writeTempFile(t, bytes.Repeat([]byte{0x90}, 128))

	patcher, err := NewPatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = patcher.Close() }()

	if _, err := patcher.UpdateChecksum(); err == nil {
		t.Error("UpdateChecksum() on a non-PE file should fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{0x90}, 128)) {
		t.Error("UpdateChecksum() modified a non-PE file")
	}
}
