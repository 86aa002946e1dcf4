package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateParcelID(t *testing.T) {
	tests := []struct {
		name     string
		parcelID string
		wantErr  bool
	}{
		{"simple id", "pc-1042", false},
		{"apn style", "123-456-789", false},
		{"underscores", "parcel_42", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("x", 64), false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", 65), true},
		{"spaces", "pc 1042", true},
		{"slash", "pc/1042", true},
		{"path traversal", "../etc", true},
		{"unicode", "участок-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParcelID(tt.parcelID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr bool
	}{
		{"simple", "needs-review", false},
		{"numeric", "2026", false},
		{"empty", "", true},
		{"with space", "needs review", true},
		{"with tab", "a\tb", true},
		{"too long", strings.Repeat("t", 49), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTag(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
