package llm_adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBytesScalar(t *testing.T) {
	testCases := []struct {
		given    string
		expected BytesScalar
	}{
		{"1", 1},
		{"1B", 1},
		{"1KB", 1 * _K},
		{"1MB", 1 * _M},
		{"1GB", 1 * _G},
		{"1TB", 1 * _T},
		{"1KiB", 1 * _Ki},
		{"1MiB", 1 * _Mi},
		{"1GiB", 1 * _Gi},
		{"24Gi", 24 * _Gi},
		{"1TiB", 1 * _Ti},
		{" 2G ", 2 * _G},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			actual, err := ParseBytesScalar(tc.given)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestParseBytesScalar_Invalid(t *testing.T) {
	for _, given := range []string{"", "GiB", "-1GiB", "abc"} {
		t.Run(given, func(t *testing.T) {
			_, err := ParseBytesScalar(given)
			assert.Error(t, err)
		})
	}
}

func TestBytesScalar_String(t *testing.T) {
	testCases := []struct {
		given    BytesScalar
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1 * _Ki, "1 KiB"},
		{1536 * _Ki, "1.50 MiB"},
		{24 * _Gi, "24 GiB"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.given.String())
		})
	}
}

func TestParametersScalar_String(t *testing.T) {
	testCases := []struct {
		given    ParametersScalar
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{4_194_304, "4.19 M"},
		{7_000_000_000, "7 B"},
	}
	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.given.String())
		})
	}
}
