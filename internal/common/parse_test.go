package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUint64orHex(t *testing.T) {
	tests := []struct {
		name     string
		input    *string
		expected uint64
		wantErr  bool
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: 0,
		},
		{
			name:     "decimal",
			input:    strPtr("12345"),
			expected: 12345,
		},
		{
			name:     "hex with prefix",
			input:    strPtr("0x7dfd25"),
			expected: 0x7dfd25,
		},
		{
			name:     "zero",
			input:    strPtr("0"),
			expected: 0,
		},
		{
			name:    "invalid",
			input:   strPtr("not-a-number"),
			wantErr: true,
		},
		{
			name:    "invalid hex",
			input:   strPtr("0xzz"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint64orHex(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestToLowerWithTrim(t *testing.T) {
	assert.Equal(t, "latest", ToLowerWithTrim("  LATEST "))
	assert.Equal(t, "", ToLowerWithTrim("   "))
	assert.Equal(t, "abc", ToLowerWithTrim("AbC"))
}

func strPtr(s string) *string {
	return &s
}
