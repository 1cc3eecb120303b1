package pe

import (
	"io"
	"math"
)

// PackedEntropy is the Shannon entropy above which section data is most
// likely compressed or encrypted. A packed section holds no plain code to
// patch.
const PackedEntropy = 7.0

// CalculateEntropy returns the Shannon entropy of data in bits per byte,
// from 0 (one repeated byte) to 8.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	var entropy float64
	n := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// SectionEntropy reads size bytes at offset and returns their entropy.
// A section that runs past the end of the file is measured up to EOF.
func SectionEntropy(r io.ReaderAt, offset int64, size uint32) (float64, error) {
	if size == 0 {
		return 0, nil
	}

	data := make([]byte, size)
	n, err := r.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return CalculateEntropy(data[:n]), nil
}
