package slicex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpperBound(t *testing.T) {
	starts := []int{0, 3, 6, 9}
	testCases := []struct {
		e        int
		expected int
	}{
		{-1, 0},
		{0, 1},
		{2, 1},
		{3, 2},
		{8, 3},
		{9, 4},
		{100, 4},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, UpperBound(starts, tc.e), tc.e)
	}
	assert.Zero(t, UpperBound([]float64(nil), 1))
}
