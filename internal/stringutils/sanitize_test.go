package stringutils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engramhq/engram/internal/stringutils"
)

func TestSanitize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "string with null byte",
			input:    "title\x00with null",
			expected: "titlewith null",
		},
		{
			name:     "string with multiple control characters",
			input:    "test\x00\x01\x1f\x7fstring",
			expected: "teststring",
		},
		{
			name:     "string with valid whitespace",
			input:    "normal\tstring\nwith\rwhitespace",
			expected: "normal\tstring\nwith\rwhitespace",
		},
		{
			name:     "clean string",
			input:    "completely normal string",
			expected: "completely normal string",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "string with C1 control characters",
			input:    "teststring",
			expected: "teststring",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := stringutils.Sanitize(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}
