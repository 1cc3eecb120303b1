package locate

import (
	"errors"
	"testing"
)

var (
	testUnpatched = []byte{0xBA, 0xC0, 0x00, 0x00, 0x00, 0x48, 0x8D, 0x4B}
	testPatched   = []byte{0xBA, 0xF4, 0x01, 0x00, 0x00, 0x48, 0x8D, 0x4B}
)

const testWindowStart = 0xB94000

func newTestLocator(t *testing.T, candidates ...uint64) *Locator {
	t.Helper()
	l, err := New(Config{
		WindowStart: testWindowStart,
		PatchOffset: 1,
		Candidates:  candidates,
		Unpatched:   testUnpatched,
		Patched:     testPatched,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

// window returns a zeroed buffer of the given size with seq copied in at each index.
func window(size int, seq []byte, at ...int) []byte {
	buf := make([]byte, size)
	for _, i := range at {
		copy(buf[i:], seq)
	}
	return buf
}

func TestLocateScan(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want Result
	}{
		{
			name: "Unpatched at index 100",
			buf:  window(256, testUnpatched, 100),
			want: Result{Kind: Found, Offset: 100 + testWindowStart + 1},
		},
		{
			name: "Unpatched at index 0",
			buf:  window(64, testUnpatched, 0),
			want: Result{Kind: Found, Offset: testWindowStart + 1},
		},
		{
			name: "First of two unpatched occurrences",
			buf:  window(256, testUnpatched, 40, 200),
			want: Result{Kind: Found, Offset: 40 + testWindowStart + 1},
		},
		{
			name: "Patched only",
			buf:  window(256, testPatched, 17),
			want: Result{Kind: AlreadyPatched},
		},
		{
			name: "Unpatched wins over earlier patched",
			buf:  append(window(128, testPatched, 8), window(128, testUnpatched, 64)...),
			want: Result{Kind: Found, Offset: 128 + 64 + testWindowStart + 1},
		},
		{
			name: "All zero 16 bytes",
			buf:  make([]byte, 16),
			want: Result{Kind: NotFound},
		},
		{
			name: "Sequence in final position is not examined",
			buf:  window(64, testUnpatched, 56),
			want: Result{Kind: NotFound},
		},
		{
			name: "Sequence one before final position",
			buf:  window(64, testUnpatched, 55),
			want: Result{Kind: Found, Offset: 55 + testWindowStart + 1},
		},
		{
			name: "Buffer shorter than sequence",
			buf:  []byte{0xBA, 0xC0},
			want: Result{Kind: NotFound},
		},
		{
			name: "Partial match",
			buf:  window(64, testUnpatched[:7], 10),
			want: Result{Kind: NotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestLocator(t).Locate(tt.buf)
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Locate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocateCandidates(t *testing.T) {
	// Candidate addresses point at the value, one byte into the sequence.
	candA := uint64(testWindowStart + 0x100 + 1)
	candB := uint64(testWindowStart + 0x200 + 1)

	tests := []struct {
		name       string
		buf        []byte
		candidates []uint64
		want       Result
		wantPhases []Phase
	}{
		{
			name:       "First candidate unpatched skips scans",
			buf:        window(0x400, testUnpatched, 0x10, 0x100),
			candidates: []uint64{candA, candB},
			want:       Result{Kind: Found, Offset: candA},
			wantPhases: []Phase{PhaseCandidates},
		},
		{
			name:       "Second candidate unpatched",
			buf:        window(0x400, testUnpatched, 0x200),
			candidates: []uint64{candA, candB},
			want:       Result{Kind: Found, Offset: candB},
			wantPhases: []Phase{PhaseCandidates},
		},
		{
			name: "Patched candidate short-circuits later unpatched candidate",
			buf: func() []byte {
				b := window(0x400, testPatched, 0x100)
				copy(b[0x200:], testUnpatched)
				return b
			}(),
			candidates: []uint64{candA, candB},
			want:       Result{Kind: AlreadyPatched},
			wantPhases: []Phase{PhaseCandidates},
		},
		{
			name:       "No candidate matches, scan finds unpatched",
			buf:        window(0x400, testUnpatched, 0x33),
			candidates: []uint64{candA, candB},
			want:       Result{Kind: Found, Offset: 0x33 + testWindowStart + 1},
			wantPhases: []Phase{PhaseCandidates, PhaseUnpatchedScan},
		},
		{
			name:       "No candidate matches, scan finds patched",
			buf:        window(0x400, testPatched, 0x33),
			candidates: []uint64{candA, candB},
			want:       Result{Kind: AlreadyPatched},
			wantPhases: []Phase{PhaseCandidates, PhaseUnpatchedScan, PhasePatchedScan},
		},
		{
			name:       "Nothing anywhere",
			buf:        make([]byte, 0x400),
			candidates: []uint64{candA},
			want:       Result{Kind: NotFound},
			wantPhases: []Phase{PhaseCandidates, PhaseUnpatchedScan, PhasePatchedScan},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLocator(t, tt.candidates...)
			var phases []Phase
			l.Observe = func(p Phase) { phases = append(phases, p) }

			got, err := l.Locate(tt.buf)
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Locate() = %v, want %v", got, tt.want)
			}
			if len(phases) != len(tt.wantPhases) {
				t.Fatalf("phases = %v, want %v", phases, tt.wantPhases)
			}
			for i := range phases {
				if phases[i] != tt.wantPhases[i] {
					t.Errorf("phase[%d] = %v, want %v", i, phases[i], tt.wantPhases[i])
				}
			}
		})
	}
}

func TestLocateCandidateOutOfRange(t *testing.T) {
	tests := []struct {
		name        string
		windowStart uint64
		patchOffset uint64
		candidate   uint64
	}{
		{name: "Before window", windowStart: testWindowStart, patchOffset: 1, candidate: testWindowStart},
		{name: "Far before window", windowStart: testWindowStart, patchOffset: 1, candidate: 0x10},
		{name: "Past window end", windowStart: testWindowStart, patchOffset: 1, candidate: testWindowStart + 0x1000},
		{name: "Sequence crosses window end", windowStart: testWindowStart, patchOffset: 1, candidate: testWindowStart + 0x40 - 4},
		{name: "Largest address", windowStart: 0, patchOffset: 0, candidate: ^uint64(0)},
		{name: "Largest address past window start", windowStart: testWindowStart, patchOffset: 1, candidate: ^uint64(0)},
		{name: "Window near top of address space", windowStart: ^uint64(0) - 0x100, patchOffset: 1, candidate: ^uint64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(Config{
				WindowStart: tt.windowStart,
				PatchOffset: tt.patchOffset,
				Candidates:  []uint64{tt.candidate},
				Unpatched:   testUnpatched,
				Patched:     testPatched,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			_, err = l.Locate(make([]byte, 0x40))
			if !errors.Is(err, ErrCandidateOutOfRange) {
				t.Errorf("Locate() error = %v, want ErrCandidateOutOfRange", err)
			}
		})
	}
}

func TestLocateRoundTrip(t *testing.T) {
	buf := window(0x800, testUnpatched, 0x321)
	l := newTestLocator(t)

	first, err := l.Locate(buf)
	if err != nil || first.Kind != Found {
		t.Fatalf("Locate() = %v, %v; want found", first, err)
	}

	start := first.Offset - testWindowStart - 1
	copy(buf[start:], testPatched)

	second, err := l.Locate(buf)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if second.Kind != AlreadyPatched {
		t.Errorf("Locate() after patch = %v, want already patched", second)
	}
}

func TestResultSentinel(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   uint64
	}{
		{name: "Not found", result: Result{Kind: NotFound}, want: SentinelNotFound},
		{name: "Already patched", result: Result{Kind: AlreadyPatched}, want: SentinelAlreadyPatched},
		{name: "Found", result: Result{Kind: Found, Offset: 0xB95CF6}, want: 0xB95CF6},
		{name: "Found at zero collides with not found", result: Result{Kind: Found, Offset: 0}, want: SentinelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Sentinel(); got != tt.want {
				t.Errorf("Sentinel() = 0x%X, want 0x%X", got, tt.want)
			}
		})
	}
}

func TestNewRejectsBadSequences(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "Length mismatch",
			cfg:  Config{Unpatched: testUnpatched, Patched: testPatched[:7], PatchOffset: 1},
		},
		{
			name: "Empty",
			cfg:  Config{PatchOffset: 0},
		},
		{
			name: "Offset leaves no room",
			cfg:  Config{Unpatched: testUnpatched, Patched: testPatched, PatchOffset: 5},
		},
		{
			name: "Offset near 2^64",
			cfg:  Config{Unpatched: testUnpatched, Patched: testPatched, PatchOffset: ^uint64(0)},
		},
		{
			name: "Sequences shorter than the value",
			cfg:  Config{Unpatched: testUnpatched[:3], Patched: testPatched[:3]},
		},
		{
			name: "Identical sequences",
			cfg:  Config{Unpatched: testUnpatched, Patched: testUnpatched, PatchOffset: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidSequence) {
				t.Errorf("New() error = %v, want ErrInvalidSequence", err)
			}
		})
	}
}
