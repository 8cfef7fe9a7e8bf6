package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "single nullifier", input: []string{"v1:abc"}, expected: []string{"v1:abc"}},
		{
			name:     "trims and removes duplicates preserving order",
			input:    []string{" v1:abc ", "v2:def", "v1:abc", "", "  "},
			expected: []string{"v1:abc", "v2:def"},
		},
		{
			name:     "case sensitive",
			input:    []string{"v1:ABC", "v1:abc"},
			expected: []string{"v1:ABC", "v1:abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestOverlap(t *testing.T) {
	set := Set("v1:abc", "v2:def")

	assert.Equal(t, []string{"v2:def"}, Overlap([]string{"v3:ghi", "v2:def"}, set))
	assert.Nil(t, Overlap([]string{"v3:ghi"}, set))
	assert.Nil(t, Overlap(nil, set))
}
