package main

import (
	"errors"
	"testing"

	"github.com/ZacharyZcR/modlimitfix/internal/config"
)

func TestEntryLimit(t *testing.T) {
	defaults := config.Limit{Value: 500}
	fromFile := config.Limit{Value: 750, FromConfig: true}

	tests := []struct {
		name           string
		text           string
		loaded         config.Limit
		want           uint32
		wantFromConfig bool
		wantWarning    bool
	}{
		{name: "Untouched default", text: "500", loaded: defaults, want: 500},
		{name: "Untouched value from file", text: "750", loaded: fromFile, want: 750, wantFromConfig: true},
		{name: "Untouched with surrounding spaces", text: " 750 ", loaded: fromFile, want: 750, wantFromConfig: true},
		{name: "Edited value", text: "1000", loaded: defaults, want: 1000, wantFromConfig: true},
		{name: "Zero means default", text: "0", loaded: fromFile, want: 500},
		{name: "Empty means default", text: "", loaded: fromFile, want: 500},
		{name: "Not a number", text: "lots", loaded: defaults, want: 500, wantWarning: true},
		{
			name:   "Default after a malformed file",
			text:   "500",
			loaded: config.Limit{Value: 500, Warning: config.ErrMalformed},
			want:   500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entryLimit(tt.text, tt.loaded, 500)
			if got.Value != tt.want {
				t.Errorf("entryLimit().Value = %d, want %d", got.Value, tt.want)
			}
			if got.FromConfig != tt.wantFromConfig {
				t.Errorf("entryLimit().FromConfig = %v, want %v", got.FromConfig, tt.wantFromConfig)
			}
			if (got.Warning != nil) != tt.wantWarning {
				t.Errorf("entryLimit().Warning = %v, wantWarning %v", got.Warning, tt.wantWarning)
			}
			if got.Warning != nil && !errors.Is(got.Warning, config.ErrMalformed) {
				t.Errorf("entryLimit().Warning = %v, want ErrMalformed", got.Warning)
			}
		})
	}
}
