// Package locate finds the patch point inside a window of the target executable.
package locate

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind identifies the outcome of a search.
type Kind int

const (
	// NotFound means neither sequence was present in the window.
	NotFound Kind = iota
	// AlreadyPatched means the patched sequence was found first.
	AlreadyPatched
	// Found means the unpatched sequence was found and Offset is valid.
	Found
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyPatched:
		return "already patched"
	case Found:
		return "found"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Legacy sentinel values. Zero is also a valid file offset, so the sentinel
// encoding cannot tell "not found" apart from a patch point at address 0.
const (
	SentinelNotFound       uint64 = 0
	SentinelAlreadyPatched uint64 = 1
)

// Result is the outcome of Locate. Offset is only meaningful when Kind is Found.
type Result struct {
	Kind   Kind
	Offset uint64
}

// Sentinel returns the result in the single-integer encoding.
func (r Result) Sentinel() uint64 {
	switch r.Kind {
	case Found:
		return r.Offset
	case AlreadyPatched:
		return SentinelAlreadyPatched
	default:
		return SentinelNotFound
	}
}

func (r Result) String() string {
	if r.Kind == Found {
		return fmt.Sprintf("found at 0x%X", r.Offset)
	}
	return r.Kind.String()
}

// Phase is a stage of the search, reported to Locator.Observe.
type Phase int

const (
	PhaseCandidates Phase = iota
	PhaseUnpatchedScan
	PhasePatchedScan
)

func (p Phase) String() string {
	switch p {
	case PhaseCandidates:
		return "candidates"
	case PhaseUnpatchedScan:
		return "unpatched scan"
	case PhasePatchedScan:
		return "patched scan"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

var (
	// ErrCandidateOutOfRange is returned when a candidate's sequence would
	// extend outside the search buffer.
	ErrCandidateOutOfRange = errors.New("candidate address outside search window")
	// ErrInvalidSequence is returned by New for unusable sequence pairs.
	ErrInvalidSequence = errors.New("invalid byte sequence")
)

// Locator searches a window buffer for the unpatched and patched sequences.
type Locator struct {
	windowStart uint64
	patchOffset uint64
	candidates  []uint64
	unpatched   []byte
	patched     []byte

	// Observe, when set, is called as each search phase begins.
	Observe func(Phase)
}

// Config describes what to search for.
type Config struct {
	WindowStart uint64   // absolute file offset of buffer index 0
	PatchOffset uint64   // position of the 32-bit value inside the sequence
	Candidates  []uint64 // absolute patch addresses, checked in order
	Unpatched   []byte
	Patched     []byte
}

// New creates a Locator. Both sequences must have the same length and leave
// room for a 32-bit value at PatchOffset.
func New(cfg Config) (*Locator, error) {
	if len(cfg.Unpatched) == 0 || len(cfg.Unpatched) != len(cfg.Patched) {
		return nil, fmt.Errorf("%w: lengths %d and %d", ErrInvalidSequence, len(cfg.Unpatched), len(cfg.Patched))
	}
	if len(cfg.Unpatched) < 4 || cfg.PatchOffset > uint64(len(cfg.Unpatched))-4 {
		return nil, fmt.Errorf("%w: patch offset %d leaves no room for 4 bytes in %d-byte sequence",
			ErrInvalidSequence, cfg.PatchOffset, len(cfg.Unpatched))
	}
	if bytes.Equal(cfg.Unpatched, cfg.Patched) {
		return nil, fmt.Errorf("%w: unpatched and patched sequences are identical", ErrInvalidSequence)
	}

	return &Locator{
		windowStart: cfg.WindowStart,
		patchOffset: cfg.PatchOffset,
		candidates:  append([]uint64(nil), cfg.Candidates...),
		unpatched:   append([]byte(nil), cfg.Unpatched...),
		patched:     append([]byte(nil), cfg.Patched...),
	}, nil
}

// Locate searches buf, which holds the window starting at WindowStart.
// Known candidates are checked first, then the whole buffer is scanned for
// the unpatched sequence and finally for the patched one.
func (l *Locator) Locate(buf []byte) (Result, error) {
	l.enter(PhaseCandidates)
	for _, candidate := range l.candidates {
		checked, err := l.candidateBytes(buf, candidate)
		if err != nil {
			return Result{}, err
		}

		if bytes.Equal(checked, l.unpatched) {
			return Result{Kind: Found, Offset: candidate}, nil
		}
		// A patched candidate ends the search even if later candidates differ.
		if bytes.Equal(checked, l.patched) {
			return Result{Kind: AlreadyPatched}, nil
		}
	}

	l.enter(PhaseUnpatchedScan)
	if i := l.scan(buf, l.unpatched); i >= 0 {
		return Result{Kind: Found, Offset: uint64(i) + l.windowStart + l.patchOffset}, nil
	}

	l.enter(PhasePatchedScan)
	if l.scan(buf, l.patched) >= 0 {
		return Result{Kind: AlreadyPatched}, nil
	}

	return Result{Kind: NotFound}, nil
}

func (l *Locator) candidateBytes(buf []byte, candidate uint64) ([]byte, error) {
	size := uint64(len(l.unpatched))
	if candidate < l.windowStart || candidate-l.windowStart < l.patchOffset {
		return nil, fmt.Errorf("%w: 0x%X is before window start 0x%X", ErrCandidateOutOfRange, candidate, l.windowStart)
	}

	// Compared without adding so addresses near 2^64 cannot wrap.
	start := candidate - l.windowStart - l.patchOffset
	if n := uint64(len(buf)); start > n || size > n-start {
		return nil, fmt.Errorf("%w: 0x%X needs %d bytes past window start 0x%X, window holds %d",
			ErrCandidateOutOfRange, candidate, size, l.windowStart, n)
	}
	return buf[start : start+size], nil
}

// scan returns the first index i < len(buf)-len(seq) where seq occurs, or -1.
// The last possible start position is never examined.
func (l *Locator) scan(buf, seq []byte) int {
	for i := 0; i < len(buf)-len(seq); i++ {
		if bytes.Equal(buf[i:i+len(seq)], seq) {
			return i
		}
	}
	return -1
}

func (l *Locator) enter(p Phase) {
	if l.Observe != nil {
		l.Observe(p)
	}
}
