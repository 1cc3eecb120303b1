// Package profile describes a supported target executable: where to look,
// what to look for and which files sit next to it.
package profile

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ZacharyZcR/modlimitfix/internal/locate"
)

// ErrInvalidProfile is returned by Validate and Load for unusable profiles.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile holds the constants for one executable.
type Profile struct {
	Name         string    `toml:"name" yaml:"name"`
	Executable   string    `toml:"executable" yaml:"executable"`
	BackupSuffix string    `toml:"backup_suffix" yaml:"backup_suffix"`
	ConfigFile   string    `toml:"config_file" yaml:"config_file"`
	DefaultLimit uint32    `toml:"default_limit" yaml:"default_limit"`
	WindowStart  Address   `toml:"window_start" yaml:"window_start"`
	WindowEnd    Address   `toml:"window_end" yaml:"window_end"`
	PatchOffset  uint64    `toml:"patch_offset" yaml:"patch_offset"`
	Candidates   []Address `toml:"candidates" yaml:"candidates"`
	Unpatched    Sequence  `toml:"unpatched" yaml:"unpatched"`
	Patched      Sequence  `toml:"patched" yaml:"patched"`
}

// Witcher3 returns the built-in profile for witcher3.exe (bin/x64).
func Witcher3() Profile {
	return Profile{
		Name:         "witcher3",
		Executable:   "witcher3.exe",
		BackupSuffix: ".orig",
		ConfigFile:   "modlimitfix.conf",
		DefaultLimit: 500,
		WindowStart:  0xB94000,
		WindowEnd:    0xB98000,
		PatchOffset:  1,
		Candidates:   []Address{0xB95CF6, 0xB96366, 0xB967A6, 0xB95E56},
		// mov edx, 0C0h; lea rcx, [rbx+...]
		Unpatched: Sequence{0xBA, 0xC0, 0x00, 0x00, 0x00, 0x48, 0x8D, 0x4B},
		// mov edx, 1F4h; lea rcx, [rbx+...]
		Patched: Sequence{0xBA, 0xF4, 0x01, 0x00, 0x00, 0x48, 0x8D, 0x4B},
	}
}

// MaxWindowSize bounds the search window, which is read into memory whole.
const MaxWindowSize = 16 << 20

// WindowSize returns the number of bytes read from the target.
func (p Profile) WindowSize() uint64 {
	return uint64(p.WindowEnd) - uint64(p.WindowStart)
}

// BackupName returns the backup file name for the executable.
func (p Profile) BackupName() string {
	return p.Executable + p.BackupSuffix
}

// Validate checks the profile for internal consistency.
func (p Profile) Validate() error {
	if p.Executable == "" {
		return fmt.Errorf("%w: executable name is empty", ErrInvalidProfile)
	}
	if p.BackupSuffix == "" {
		return fmt.Errorf("%w: backup suffix is empty", ErrInvalidProfile)
	}
	if p.WindowEnd <= p.WindowStart {
		return fmt.Errorf("%w: window [0x%X, 0x%X) is empty", ErrInvalidProfile, p.WindowStart, p.WindowEnd)
	}
	if uint64(p.WindowEnd) > math.MaxInt64 {
		return fmt.Errorf("%w: window end 0x%X is not a valid file offset", ErrInvalidProfile, p.WindowEnd)
	}
	if p.WindowSize() > MaxWindowSize {
		return fmt.Errorf("%w: window of %d bytes exceeds %d", ErrInvalidProfile, p.WindowSize(), MaxWindowSize)
	}
	if len(p.Unpatched) == 0 || len(p.Unpatched) != len(p.Patched) {
		return fmt.Errorf("%w: sequences must be non-empty and equal length (%d, %d)",
			ErrInvalidProfile, len(p.Unpatched), len(p.Patched))
	}
	if bytes.Equal(p.Unpatched, p.Patched) {
		return fmt.Errorf("%w: unpatched and patched sequences are identical", ErrInvalidProfile)
	}
	if len(p.Unpatched) < 4 || p.PatchOffset > uint64(len(p.Unpatched))-4 {
		return fmt.Errorf("%w: patch offset %d leaves no room for a 32-bit value", ErrInvalidProfile, p.PatchOffset)
	}

	size := uint64(len(p.Unpatched))
	if p.WindowSize() < size {
		return fmt.Errorf("%w: window of %d bytes is smaller than the %d-byte sequence", ErrInvalidProfile, p.WindowSize(), size)
	}
	for _, c := range p.Candidates {
		lo := uint64(p.WindowStart) + p.PatchOffset
		hi := uint64(p.WindowEnd) - size + p.PatchOffset
		if uint64(c) < lo || uint64(c) > hi {
			return fmt.Errorf("%w: candidate 0x%X outside window [0x%X, 0x%X]", ErrInvalidProfile, uint64(c), lo, hi)
		}
	}
	return nil
}

// Locator builds a pattern locator for this profile.
func (p Profile) Locator() (*locate.Locator, error) {
	candidates := make([]uint64, len(p.Candidates))
	for i, c := range p.Candidates {
		candidates[i] = uint64(c)
	}
	return locate.New(locate.Config{
		WindowStart: uint64(p.WindowStart),
		PatchOffset: p.PatchOffset,
		Candidates:  candidates,
		Unpatched:   p.Unpatched,
		Patched:     p.Patched,
	})
}

// Load reads a profile file. The format is chosen by extension: .toml, .yaml
// or .yml. Fields left out keep the Witcher3 values.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a profile in the format named by ext.
func Parse(data []byte, ext string) (Profile, error) {
	p := Witcher3()

	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Profile{}, fmt.Errorf("%w: unknown key %q", ErrInvalidProfile, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	default:
		return Profile{}, fmt.Errorf("%w: unsupported profile format %q", ErrInvalidProfile, ext)
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Address is a file offset that may be written as an integer or as a
// "0x"-prefixed hex string in profile files.
type Address uint64

// ParseAddress parses a decimal or 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q (expected hex, e.g. 0xB95CF6)", s)
	}
	return Address(v), nil
}

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// UnmarshalTOML accepts integers and strings.
func (a *Address) UnmarshalTOML(v interface{}) error {
	switch x := v.(type) {
	case int64:
		if x < 0 {
			return fmt.Errorf("negative address %d", x)
		}
		*a = Address(x)
		return nil
	case string:
		parsed, err := ParseAddress(x)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	default:
		return fmt.Errorf("unsupported address type %T", v)
	}
}

// UnmarshalYAML accepts integers and strings.
func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", n.Line)
	}
	parsed, err := ParseAddress(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*a = parsed
	return nil
}

// Sequence is a byte pattern written as space-separated hex in profile files.
type Sequence []byte

// ParseSequence parses "BA C0 00 00" or "bac00000".
func ParseSequence(s string) (Sequence, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("bad byte sequence %q: %w", s, err)
	}
	return Sequence(b), nil
}

func (s Sequence) String() string {
	return fmt.Sprintf("% X", []byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (s *Sequence) UnmarshalText(text []byte) error {
	parsed, err := ParseSequence(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML decodes a hex string.
func (s *Sequence) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: sequence must be a hex string", n.Line)
	}
	parsed, err := ParseSequence(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = parsed
	return nil
}
