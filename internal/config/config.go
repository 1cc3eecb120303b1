// Package config resolves the patch value from the optional limit file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Limit is the resolved patch value.
type Limit struct {
	Value      uint32
	FromConfig bool
	// Warning is set when the file existed but did not hold a usable number.
	Warning error
}

// ErrMalformed describes a limit file whose first token is not a uint32.
var ErrMalformed = errors.New("malformed limit value")

// LoadLimit reads path and returns its value when it is a nonzero integer,
// def otherwise. A missing file is not an error.
func LoadLimit(path string, def uint32) (Limit, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Limit{Value: def}, nil
	}
	if err != nil {
		return Limit{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseLimit(string(data), def), nil
}

// ParseLimit parses the first whitespace-separated token of s. Anything after
// it is ignored. Zero counts as unset.
func ParseLimit(s string, def uint32) Limit {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Limit{Value: def}
	}

	v, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Limit{Value: def, Warning: fmt.Errorf("%w: %q", ErrMalformed, fields[0])}
	}
	if v == 0 {
		return Limit{Value: def}
	}
	return Limit{Value: uint32(v), FromConfig: true}
}
